// Command checkoutctl administers a checkout deployment: database
// migrations, catalog seeding, order inspection and manual payment
// confirmation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/cobra"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/store/sqlstore"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/telemetry"
)

var Version = "dev"

// cliConfig is the subset of the service environment the CLI needs. It is
// parsed separately so store commands work without payment credentials.
type cliConfig struct {
	LogLevel               string `env:"LOG_LEVEL" envDefault:"warn"`
	DatabaseDriver         string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL            string `env:"DATABASE_URL" envDefault:"./data/checkout.db"`
	RedisAddr              string `env:"REDIS_ADDR"`
	WebhookSecret          string `env:"WEBHOOK_SECRET"`
	WebhookSignatureHeader string `env:"WEBHOOK_SIGNATURE_HEADER" envDefault:"Stripe-Signature"`
	PublicBaseURL          string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}
	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Administer the storefront checkout service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := env.Parse(cfg); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cmd.Flags().Changed("database") {
				cfg.DatabaseURL, _ = cmd.Flags().GetString("database")
			}
			telemetry.InitLogger("checkoutctl", cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().String("database", "", "database URL or SQLite path (overrides DATABASE_URL)")

	rootCmd.AddCommand(migrateCmd(cfg))
	rootCmd.AddCommand(seedCmd(cfg))
	rootCmd.AddCommand(orderCmd(cfg))
	rootCmd.AddCommand(paymentCmd(cfg))
	return rootCmd
}

func migrateCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Open migrates before returning.
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func openStore(ctx context.Context, cfg *cliConfig) (*sqlstore.Store, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, dialect, cfg.DatabaseURL)
}
