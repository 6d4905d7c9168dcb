package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/gateway"
)

func paymentCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Payment operations",
	}
	cmd.AddCommand(markPaidCmd(cfg))
	return cmd
}

func markPaidCmd(cfg *cliConfig) *cobra.Command {
	var (
		sessionID  string
		webhookURL string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mark-paid [order-id]",
		Short: "Confirm a manual transfer through the webhook",
		Long: `Confirm that the buyer's transfer arrived.

A checkout.session.completed event for the order's payment session is
signed with WEBHOOK_SECRET and posted to the service webhook, so the order
goes through the same paid transition as a gateway confirmation. Running it
twice is harmless.

Examples:
  checkoutctl payment mark-paid 3f9c2e1a-...
  checkoutctl payment mark-paid --session manual_7b1d...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.WebhookSecret == "" {
				return errors.New("WEBHOOK_SECRET is required")
			}
			if sessionID == "" {
				if len(args) == 0 {
					return errors.New("an order id or --session is required")
				}
				var err error
				if sessionID, err = orderSession(cmd.Context(), cfg, args[0]); err != nil {
					return err
				}
			}
			if webhookURL == "" {
				webhookURL = strings.TrimRight(cfg.PublicBaseURL, "/") + "/payments/webhook"
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := postPaidEvent(ctx, http.DefaultClient, webhookURL, cfg, sessionID, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s confirmed as paid\n", sessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "payment session id (skips the order lookup)")
	cmd.Flags().StringVar(&webhookURL, "url", "", "webhook URL (default PUBLIC_BASE_URL/payments/webhook)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func orderSession(ctx context.Context, cfg *cliConfig, orderID string) (string, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer store.Close()

	o, err := store.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.PaymentSessionID == "" {
		return "", fmt.Errorf("order %s has no payment session; the buyer has not started payment", orderID)
	}
	return o.PaymentSessionID, nil
}

func postPaidEvent(ctx context.Context, client *http.Client, url string, cfg *cliConfig, sessionID string, now time.Time) error {
	payload, err := gateway.NewSessionEvent("evt_manual_"+uuid.NewString(), ports.EventSessionCompleted, sessionID, ports.PaymentStatusPaid, now)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cfg.WebhookSignatureHeader, gateway.Sign(payload, cfg.WebhookSecret, now))

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
