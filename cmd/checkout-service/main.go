package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/app"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/pricing"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/catalog"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/events"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/gateway"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/receipt"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/adapters/shipping"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/httpx"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/store/sqlstore"
	"github.com/jcmexdev/storefront-checkout/internal/config"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/cache"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.ServiceName, cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("checkout service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	checks := map[string]httpx.Pinger{"store": store}

	// Redis is optional: without it the catalog is read straight from the
	// store and Idempotency-Key replay is off.
	var redisCache cache.Cache
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, "checkout")
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		redisCache = rc
		checks["redis"] = rc
	}

	rates, err := shipping.Load(cfg.ShippingRatesFile)
	if err != nil {
		return err
	}
	engine := pricing.NewEngine(catalog.NewCached(store, redisCache, cfg.CatalogCacheTTL), rates, pricing.Config{
		VATRate:               cfg.VATRate,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		DiscountCodes:         cfg.DiscountCodes,
	})

	receipts := receipt.NewDispatcher(receipt.Config{
		Dir:                   cfg.ReceiptsDir,
		PublicBaseURL:         cfg.PublicBaseURL,
		VendorName:            cfg.VendorName,
		VendorEmail:           cfg.VendorEmail,
		VendorWebsite:         cfg.FrontURL,
		VendorWhatsApp:        cfg.VendorWhatsApp,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	})

	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	serverMetrics := metrics.NewServerMetrics("checkout", prometheus.NewRegistry())
	payments := newGateway(cfg)

	svc := app.NewService(engine, store, payments, receipts, publisher, redisCache, serverMetrics, app.Options{
		FrontURL:       cfg.FrontURL,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	reconciler := app.NewReconciler(store, payments, publisher, serverMetrics, cfg.WebhookSecret)

	handler := httpx.NewHandler(svc, reconciler, store, receipts, checks, httpx.Options{
		SignatureHeader: cfg.WebhookSignatureHeader,
		FrontURL:        cfg.FrontURL,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(handler, serverMetrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(interceptors.TraceServerInterceptor()),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("checkout HTTP API running", "addr", cfg.HTTPAddr, "provider", cfg.PaymentProvider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("checkout gRPC health running", "addr", cfg.GRPCAddr)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	if dialect == sqlstore.DialectSQLite && cfg.DatabaseURL != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	return sqlstore.Open(ctx, dialect, cfg.DatabaseURL)
}

// newGateway picks the single payment confirmation source of this
// deployment.
func newGateway(cfg *config.Config) ports.PaymentGateway {
	if cfg.PaymentProvider == config.ProviderManual {
		return gateway.NewManual(cfg.FrontURL+"/transfer", cfg.WebhookTolerance)
	}
	return gateway.NewHosted(gateway.HostedConfig{
		BaseURL:   cfg.GatewayBaseURL,
		APIKey:    cfg.GatewayAPIKey,
		Currency:  cfg.Currency,
		Timeout:   cfg.GatewayTimeout,
		Tolerance: cfg.WebhookTolerance,
	})
}
