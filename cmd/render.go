package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chrisdamba/foodcart/internal/cart"
	"github.com/chrisdamba/foodcart/internal/factories"
	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/tracker"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func printMenu(w io.Writer, catalog *factories.Catalog) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	for _, r := range catalog.Restaurants {
		fmt.Fprintf(tw, "%s (%s) %s, rated %.1f\n", r.Name, strings.Join(r.Cuisines, ", "), r.Town, r.Rating)
		for _, item := range catalog.ItemsOf(r.ID) {
			prep := "-"
			if item.PrepTime > 0 {
				prep = fmt.Sprintf("%.0f min", item.PrepTime)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", item.ID, item.Name, money(item.Price), prep)
		}
		fmt.Fprintln(tw)
	}
}

func printCart(w io.Writer, state models.CartState, quote cart.Quote) {
	if len(state.Lines) == 0 {
		fmt.Fprintln(w, "Your cart is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	if state.Restaurant != nil {
		fmt.Fprintf(tw, "From %s\n", state.Restaurant.Name)
	}
	for _, l := range state.Lines {
		fmt.Fprintf(tw, "%s\t%s\tx%d\t%s\t\n", l.ItemID, l.Name, l.Quantity, money(l.LineTotal()))
	}
	fmt.Fprintf(tw, "\tSubtotal\t\t%s\t\n", money(quote.Subtotal))
	if state.AppliedCouponCode != "" {
		fmt.Fprintf(tw, "\tCoupon %s\t\t-%s\t\n", state.AppliedCouponCode, money(quote.Discount))
	}
	fmt.Fprintf(tw, "\tTaxes\t\t%s\t\n", money(quote.Taxes))
	fmt.Fprintf(tw, "\tDelivery fee\t\t%s\t\n", money(quote.DeliveryFee))
	fmt.Fprintf(tw, "\tTo pay\t\t%s\t\n", money(quote.Total))
	tw.Flush()

	if state.DeliveryAddress != nil {
		fmt.Fprintf(w, "Deliver to: %s\n", state.DeliveryAddress)
	} else {
		fmt.Fprintln(w, "No delivery address yet.")
	}
}

func printReceipt(w io.Writer, s models.OrderSnapshot) {
	fmt.Fprintf(w, "Order %s placed (%s, %s)\n", s.OrderID, s.PaymentMethod, s.PaymentStatus)
	if s.TransactionID != "" {
		fmt.Fprintf(w, "Transaction: %s\n", s.TransactionID)
	}
	fmt.Fprintf(w, "Total paid: %s (subtotal %s, discount %s, taxes %s, delivery %s)\n",
		money(s.Total), money(s.Subtotal), money(s.Discount), money(s.Taxes), money(s.DeliveryFee))
	fmt.Fprintf(w, "Earned %d loyalty points and %s cashback\n", s.LoyaltyPointsEarned, money(s.CashbackEarned))
	fmt.Fprintf(w, "Estimated delivery: %s\n", s.EstimatedDelivery.Local().Format(time.Kitchen))
}

// trackingLine is the one-line summary shown next to the progress bar.
func trackingLine(v tracker.View) string {
	status := string(v.Order.Status)
	switch {
	case v.Cancelled:
		return status
	case v.Terminal:
		return status + ", enjoy your meal"
	}
	line := fmt.Sprintf("%s, about %d min left", status, v.RemainingMinutes)
	if !v.Live {
		line += " (reconnecting)"
	}
	return line
}
