package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/foodcart/internal/models"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show or change the cart of the current profile",
}

var cartShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cart with its price breakdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), svc.Snapshot(), svc.Quote())
		return nil
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <item-id>",
	Short: "Add a menu item to the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, _ := cmd.Flags().GetInt("qty")
		item, ok := app.Catalog().Find(args[0])
		if !ok {
			return fmt.Errorf("no menu item %q, see foodcart menu", args[0])
		}
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.AddItem(cmd.Context(), models.LineFromMenuItem(item, qty)); err != nil {
			return app.userFacing(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d x %s. Cart total %s\n", qty, item.Name, money(svc.Total()))
		return nil
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>",
	Short: "Remove an item from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.RemoveItem(cmd.Context(), args[0]); err != nil {
			return app.userFacing(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cart total %s\n", money(svc.Total()))
		return nil
	},
}

var cartSetQtyCmd = &cobra.Command{
	Use:   "set-qty <item-id> <quantity>",
	Short: "Change the quantity of an item already in the cart",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.UpdateQuantity(cmd.Context(), args[0], qty); err != nil {
			return app.userFacing(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cart total %s\n", money(svc.Total()))
		return nil
	},
}

var couponCmd = &cobra.Command{
	Use:   "coupon",
	Short: "Apply or remove a coupon",
}

var couponApplyCmd = &cobra.Command{
	Use:   "apply <code>",
	Short: "Validate a coupon against the current subtotal and apply it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		discount, err := svc.ApplyCoupon(cmd.Context(), args[0])
		if err != nil {
			return app.userFacing(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Coupon applied, you save %s. Cart total %s\n", money(discount), money(svc.Total()))
		return nil
	},
}

var couponRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the applied coupon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.RemoveCoupon(cmd.Context()); err != nil {
			return app.userFacing(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Coupon removed. Cart total %s\n", money(svc.Total()))
		return nil
	},
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Manage the delivery address",
}

var addressSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the delivery address of the cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var addr models.Address
		addr.HouseNo, _ = flags.GetString("house")
		addr.Flat, _ = flags.GetString("flat")
		addr.Address1, _ = flags.GetString("line1")
		addr.Address2, _ = flags.GetString("line2")
		addr.City, _ = flags.GetString("city")
		addr.Postcode, _ = flags.GetString("postcode")
		addr.Latitude, _ = flags.GetFloat64("lat")
		addr.Longitude, _ = flags.GetFloat64("lng")

		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.SetDeliveryAddress(cmd.Context(), addr); err != nil {
			return app.userFacing(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Delivering to %s\n", addr)
		return nil
	},
}

func init() {
	cartAddCmd.Flags().Int("qty", 1, "Quantity to add")
	cartCmd.AddCommand(cartShowCmd, cartAddCmd, cartRemoveCmd, cartSetQtyCmd)

	couponCmd.AddCommand(couponApplyCmd, couponRemoveCmd)

	f := addressSetCmd.Flags()
	f.String("house", "", "House number")
	f.String("flat", "", "Flat or apartment")
	f.String("line1", "", "Street address")
	f.String("line2", "", "Area or landmark")
	f.String("city", "", "City")
	f.String("postcode", "", "Postcode")
	f.Float64("lat", 0, "Latitude")
	f.Float64("lng", 0, "Longitude")
	addressCmd.AddCommand(addressSetCmd)
}
