package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides; "__" separates key levels,
// e.g. BARGAIN_SERVER__PORT=9000.
const EnvPrefix = "BARGAIN_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Seller    SellerConfig    `koanf:"seller"`
	Storage   StorageConfig   `koanf:"storage"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port         int           `koanf:"port"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxBodyBytes int64         `koanf:"max_body_bytes"`
}

type SellerConfig struct {
	Network    string `koanf:"network"`
	Seed       string `koanf:"seed"`
	BargainURI string `koanf:"bargain_uri"` // Callback URI advertised in RequestAck messages
	ProductID  string `koanf:"product_id"`
	// OfferTTL is the validity of each seller offer.
	OfferTTL        time.Duration `koanf:"offer_ttl"`
	ReclaimTerminal bool          `koanf:"reclaim_terminal"`
}

type StorageConfig struct {
	Type     string         `koanf:"type"` // memory, sql
	Database DatabaseConfig `koanf:"database"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, mysql
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

type LedgerConfig struct {
	// BaseURL of the indexer. When empty, Balances answers lookups.
	BaseURL  string           `koanf:"base_url"`
	Timeout  time.Duration    `koanf:"timeout"`
	Balances map[string]int64 `koanf:"balances"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":             8082,
	"server.timeout":          "30s",
	"server.max_body_bytes":   65536,
	"seller.network":          "testnet",
	"seller.product_id":       "bd-48t",
	"seller.offer_ttl":        "20m",
	"seller.reclaim_terminal": true,
	"storage.type":            "memory",
	"ledger.timeout":          "10s",
	"telemetry.enabled":       true,
	"telemetry.service_name":  "bargain-server",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path, when present, then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Seller.Seed = substituteEnvVars(cfg.Seller.Seed)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	if c.Seller.Network == "" {
		return errors.New("seller.network is required")
	}
	if c.Seller.Seed == "" {
		return errors.New("seller.seed is required")
	}
	if c.Seller.OfferTTL <= 0 {
		return errors.New("seller.offer_ttl must be positive")
	}
	switch c.Storage.Type {
	case "memory":
	case "sql":
		if c.Storage.Database.Driver == "" || c.Storage.Database.DSN == "" {
			return errors.New("storage.database.driver and storage.database.dsn are required for sql storage")
		}
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
