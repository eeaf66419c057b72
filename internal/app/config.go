package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/sweeper"
)

// Storage backends.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Config holds the complete application configuration, loadable from
// environment variables (PAY_ prefix), flags, or YAML config files.
type Config struct {
	Addr  string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store string `default:"mongo" usage:"Storage backend: mongo or postgres"`

	Mongo       MongoConfig
	DatabaseURL string `usage:"PostgreSQL connection URL (PAY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig

	BKash    bkash.Config
	Checkout CheckoutConfig
	Sweep    SweepConfig

	ProductsAPIKey string `usage:"API key for the product catalog" flag:"products-api-key"`
	AdminAPIKey    string `usage:"API key for order administration" flag:"admin-api-key"`

	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// MongoConfig selects the MongoDB deployment. Transactions need a replica set.
type MongoConfig struct {
	URI      string `usage:"MongoDB connection URI (PAY_MONGO_URI or MONGODB_URI)"`
	Database string `default:"storefront" usage:"MongoDB database name"`
}

// RedisConfig enables the shared callback lock. An empty Addr keeps locks
// in process.
type RedisConfig struct {
	Addr     string `usage:"Redis address for the callback lock"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
	Prefix   string `default:"storefront:lock:" usage:"Lock key prefix"`
}

// CheckoutConfig holds the payment saga settings. Amounts are decimal
// strings.
type CheckoutConfig struct {
	SiteURL         string        `default:"http://localhost:3000" usage:"Storefront base URL for buyer redirects" flag:"site-url"`
	PublicURL       string        `usage:"Public base URL of this service for gateway callbacks" flag:"public-url"`
	CODAdvance      string        `default:"200" usage:"Advance charged for cash-on-delivery orders" flag:"cod-advance"`
	RegistrationFee string        `default:"500" usage:"Seller registration fee" flag:"registration-fee"`
	LockTTL         time.Duration `default:"2m" usage:"Callback lock lease" flag:"lock-ttl"`
}

// SweepConfig controls expiry of abandoned pending payments.
type SweepConfig struct {
	Interval  time.Duration `default:"10m" usage:"Interval between sweeps"`
	TTL       time.Duration `default:"2h"  usage:"Age after which a pending payment expires"`
	BatchSize int           `default:"100" usage:"Records fetched per sweep query"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and platform variables, then validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PAY",
		Files:     []string{"config.yaml", "/etc/payd/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo URI is required: set PAY_MONGO_URI or MONGODB_URI")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set PAY_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	if _, err := c.CheckoutSettings(); err != nil {
		return err
	}
	return nil
}

// CheckoutSettings converts CheckoutConfig into checkout.Config.
func (c *Config) CheckoutSettings() (checkout.Config, error) {
	advance, err := decimal.NewFromString(c.Checkout.CODAdvance)
	if err != nil {
		return checkout.Config{}, errors.Wrap(err, "parse COD advance")
	}
	if !advance.IsPositive() {
		return checkout.Config{}, errors.New("COD advance must be positive")
	}
	fee, err := decimal.NewFromString(c.Checkout.RegistrationFee)
	if err != nil {
		return checkout.Config{}, errors.Wrap(err, "parse registration fee")
	}
	if !fee.IsPositive() {
		return checkout.Config{}, errors.New("registration fee must be positive")
	}
	return checkout.Config{
		SiteURL:         c.Checkout.SiteURL,
		PublicURL:       c.Checkout.PublicURL,
		CODAdvance:      advance,
		RegistrationFee: fee,
		LockTTL:         c.Checkout.LockTTL,
	}, nil
}

// SweeperSettings converts SweepConfig into sweeper.Config.
func (c *Config) SweeperSettings() sweeper.Config {
	return sweeper.Config{
		Interval:  c.Sweep.Interval,
		TTL:       c.Sweep.TTL,
		BatchSize: c.Sweep.BatchSize,
		LockTTL:   c.Checkout.LockTTL,
	}
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = os.Getenv("MONGODB_URI")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
