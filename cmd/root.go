package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chrisdamba/foodcart/internal/logging"
	"github.com/chrisdamba/foodcart/internal/models"
)

var (
	cfgFile string
	app     *App
)

var rootCmd = &cobra.Command{
	Use:   "foodcart",
	Short: "Cart, checkout and live order tracking for a food delivery platform",
	Long: `foodcart keeps a shopping cart per profile, prices and places orders against
the order API, and follows placed orders live over the push channel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading .env file: %w", err)
		}

		cfg, err := models.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Profile: cfg.Profile})
		if err != nil {
			return err
		}
		app = NewApp(cfg, logger, cmd.OutOrStdout())
		return nil
	},
}

// flagKeys maps persistent flags to their config keys.
var flagKeys = map[string]string{
	"profile":        "profile",
	"api-base-url":   "api_base_url",
	"storage-driver": "storage_driver",
	"push-transport": "push_transport",
	"output-format":  "output_format",
	"log-level":      "log_level",
	"log-format":     "log_format",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./foodcart.yaml)")
	flags.String("profile", "default", "Cart profile to work on")
	flags.String("api-base-url", "http://localhost:8088", "Base URL of the order API")
	flags.String("storage-driver", "file", "Cart storage: file, redis, postgres or sqlite")
	flags.String("push-transport", "memory", "Push channel: memory, sarama or confluent")
	flags.String("output-format", "none", "Archive sink: none, console, json, csv, parquet, kafka, confluent or postgres")
	flags.String("log-level", "info", "Log level")
	flags.String("log-format", "console", "Log format: console or json")

	for name, key := range flagKeys {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(name)))
	}

	rootCmd.AddCommand(menuCmd, cartCmd, couponCmd, addressCmd, orderCmd, stubServerCmd, demoCmd)
}

// Execute runs the CLI until the command finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if app != nil {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
