package cmd

import (
	"github.com/spf13/cobra"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "List the restaurants and dishes that can be added to the cart",
	Run: func(cmd *cobra.Command, args []string) {
		printMenu(cmd.OutOrStdout(), app.Catalog())
	},
}
