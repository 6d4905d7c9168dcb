// Package config loads the checkout service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"
)

const (
	ProviderHosted = "hosted"
	ProviderManual = "manual"
)

type Config struct {
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"checkout-service"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"./data/checkout.db"`

	// Empty disables the catalog cache and Idempotency-Key replay.
	RedisAddr       string        `env:"REDIS_ADDR"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"2m"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Empty disables event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"checkout.events"`

	VATRate               decimal.Decimal `env:"VAT_RATE" envDefault:"0.21"`
	FreeShippingThreshold decimal.Decimal `env:"FREE_SHIPPING_THRESHOLD" envDefault:"100"`
	DiscountCodes         DiscountCodes   `env:"DISCOUNT_CODES" envDefault:"BK5:5,BK10:10"`
	ShippingRatesFile     string          `env:"SHIPPING_RATES_FILE"`

	PaymentProvider        string        `env:"PAYMENT_PROVIDER" envDefault:"hosted"`
	GatewayBaseURL         string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.stripe.com"`
	GatewayAPIKey          string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout         time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	WebhookSecret          string        `env:"WEBHOOK_SECRET,required"`
	WebhookSignatureHeader string        `env:"WEBHOOK_SIGNATURE_HEADER" envDefault:"Stripe-Signature"`
	WebhookTolerance       time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	Currency               string        `env:"CURRENCY" envDefault:"eur"`

	FrontURL      string `env:"FRONT_URL" envDefault:"http://localhost:5173"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ReceiptsDir   string `env:"RECEIPTS_DIR" envDefault:"./data/receipts"`

	VendorName     string `env:"VENDOR_NAME" envDefault:"Storefront"`
	VendorEmail    string `env:"VENDOR_EMAIL"`
	VendorWhatsApp string `env:"VENDOR_WHATSAPP"`
}

// DiscountCodes maps an upper-cased code to a percentage off the subtotal.
// The environment form is CODE:PERCENT pairs separated by commas.
type DiscountCodes map[string]decimal.Decimal

func (d DiscountCodes) String() string {
	codes := make([]string, 0, len(d))
	for code, pct := range d {
		codes = append(codes, code+":"+pct.String())
	}
	sort.Strings(codes)
	return strings.Join(codes, ",")
}

func ParseDiscountCodes(s string) (DiscountCodes, error) {
	out := DiscountCodes{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, pct, ok := strings.Cut(pair, ":")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			return nil, fmt.Errorf("discount code %q: want CODE:PERCENT", pair)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return nil, fmt.Errorf("discount code %q: %w", code, err)
		}
		if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("discount code %q: percent %s out of range", code, p)
		}
		out[code] = p
	}
	return out, nil
}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
		return decimal.NewFromString(strings.TrimSpace(v))
	},
	reflect.TypeOf(DiscountCodes{}): func(v string) (interface{}, error) {
		return ParseDiscountCodes(v)
	},
}

// Load reads the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the given variables only. Used by tests and the CLI.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithFuncs(cfg, parsers, opts); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.PaymentProvider {
	case ProviderHosted:
		if c.GatewayAPIKey == "" {
			errs = append(errs, errors.New("GATEWAY_API_KEY is required for the hosted provider"))
		}
	case ProviderManual:
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_PROVIDER %q: want hosted or manual", c.PaymentProvider))
	}
	if c.VATRate.IsNegative() {
		errs = append(errs, errors.New("VAT_RATE must not be negative"))
	}
	if c.FreeShippingThreshold.IsNegative() {
		errs = append(errs, errors.New("FREE_SHIPPING_THRESHOLD must not be negative"))
	}
	if c.WebhookTolerance < 0 {
		errs = append(errs, errors.New("WEBHOOK_TOLERANCE must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
