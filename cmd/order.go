package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/tracker"
)

var errNoRecentOrder = errors.New("no recent order to track")

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Place and follow orders",
}

var orderPlaceCmd = &cobra.Command{
	Use:   "place",
	Short: "Place an order for the cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		follow, _ := cmd.Flags().GetBool("track")

		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		snapshot, err := svc.PlaceOrder(cmd.Context(), method)
		if err != nil {
			return app.userFacing(err)
		}
		printReceipt(cmd.OutOrStdout(), snapshot)
		if !follow {
			return nil
		}
		_, err = trackOrder(cmd.Context(), cmd.ErrOrStderr(), snapshot.OrderID)
		return err
	},
}

var orderTrackCmd = &cobra.Command{
	Use:   "track [order-id]",
	Short: "Follow an order live until it is delivered or cancelled",
	Long:  `Follows the given order, or the last order placed from this profile when no id is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := app.Cart(ctx)
		if err != nil {
			return err
		}
		orderID := ""
		if len(args) == 1 {
			orderID = args[0]
		} else if last := svc.Snapshot().LastOrder; last != nil {
			orderID = last.OrderID
		}
		if orderID == "" {
			return errNoRecentOrder
		}

		view, err := trackOrder(ctx, cmd.ErrOrStderr(), orderID)
		if err != nil {
			return err
		}
		if view.Terminal {
			if _, err := svc.Reconcile(ctx); err != nil {
				app.logger.Warn("failed to reconcile last order", zap.Error(err))
			}
		}
		return nil
	},
}

var orderLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the receipt and current status of the last order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := app.Cart(cmd.Context())
		if err != nil {
			return err
		}
		last := svc.Snapshot().LastOrder
		if last == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No recent order.")
			return nil
		}
		printReceipt(cmd.OutOrStdout(), *last)

		remote, err := svc.Reconcile(cmd.Context())
		if err != nil {
			return app.userFacing(err)
		}
		if remote != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s (%d%%)\n", remote.Status, tracker.Percent(remote.Status))
		}
		return nil
	},
}

// trackOrder renders a progress bar for orderID until the order reaches a
// terminal status or ctx is cancelled, and returns the last view.
func trackOrder(ctx context.Context, w io.Writer, orderID string) (tracker.View, error) {
	changed := make(chan struct{}, 1)
	t, err := app.Tracker(ctx, orderID, func(tracker.View) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return tracker.View{}, err
	}
	if err := t.Start(ctx); err != nil {
		return tracker.View{}, app.userFacing(err)
	}
	defer t.Stop()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetDescription("Order "+orderID),
	)

	for {
		v := t.View()
		bar.Describe(trackingLine(v))
		_ = bar.Set(v.Percent)
		if v.Terminal {
			fmt.Fprintln(w)
			return v, nil
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return v, nil
		case <-changed:
		}
	}
}

func init() {
	orderPlaceCmd.Flags().String("method", models.PaymentMethodCOD, "Payment method: cod, card, upi or wallet")
	orderPlaceCmd.Flags().Bool("track", false, "Follow the order after placing it")
	orderCmd.AddCommand(orderPlaceCmd, orderTrackCmd, orderLastCmd)
}
