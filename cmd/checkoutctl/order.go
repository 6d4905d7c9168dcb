package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
)

func orderCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and cancel orders",
	}
	cmd.AddCommand(orderGetCmd(cfg), orderEventsCmd(cfg), orderCancelCmd(cfg))
	return cmd
}

// adminService builds the app service for the read and cancel use cases,
// which only touch the store.
func adminService(store ports.OrderStore) *app.Service {
	return app.NewService(nil, store, nil, nil, nil, nil, nil, app.Options{})
}

func orderGetCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Print an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			o, err := adminService(store).Order(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), o)
			return nil
		},
	}
}

func orderEventsCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "events <order-id>",
		Short: "Print the status transition log of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := adminService(store).Events(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func orderCancelCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an unpaid order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := adminService(store).Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s canceled\n", args[0])
			return nil
		},
	}
}

func printOrder(w io.Writer, o *domain.Order) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", o.ID)
	fmt.Fprintf(tw, "Status\t%s\n", o.Status)
	if o.Buyer.Email != "" {
		fmt.Fprintf(tw, "Buyer\t%s <%s>\n", o.Buyer.FullName, o.Buyer.Email)
	}
	for _, it := range o.Items {
		name := it.Name
		if it.Size != "" {
			name += " (" + it.Size + ")"
		}
		fmt.Fprintf(tw, "Item\t%d x %s @ %s\n", it.Qty, name, it.Price.StringFixed(2))
	}
	fmt.Fprintf(tw, "Subtotal\t%s\n", o.Subtotal.StringFixed(2))
	if o.DiscountCode != "" {
		fmt.Fprintf(tw, "Discount\t%s (-%s)\n", o.DiscountCode, o.DiscountAmount.StringFixed(2))
	}
	if o.Shipping != nil {
		fmt.Fprintf(tw, "Shipping\t%s %s %s\n", o.Shipping.Carrier, o.Shipping.Service, o.Shipping.Cost.StringFixed(2))
	}
	fmt.Fprintf(tw, "Total\t%s\n", o.Total.StringFixed(2))
	if o.PaymentSessionID != "" {
		fmt.Fprintf(tw, "Session\t%s\n", o.PaymentSessionID)
	}
	if o.ReceiptRef != "" {
		fmt.Fprintf(tw, "Receipt\t%s\n", o.ReceiptRef)
	}
	fmt.Fprintf(tw, "Updated\t%s\n", o.UpdatedAt.Format(time.RFC3339))
	_ = tw.Flush()
}

func printEvents(w io.Writer, entries []translog.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFROM\tTO\tTRIGGER\tTRACE")
	for _, e := range entries {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		trace := e.TraceID
		if trace == "" {
			trace = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Format(time.RFC3339), from, e.To, e.Trigger, trace)
	}
	_ = tw.Flush()
}
