package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"cuentas/internal/core"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// HTTP Server
	Port           string
	RequestTimeout time.Duration
	RateLimitRPM   int
	JWTSecret      string

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Accounting
	VATRate      string
	AmountPlaces int
	Timezone     string

	// Exchange rates
	FXURL      string
	FXCacheTTL time.Duration

	// Google Sheets mirror, disabled when GoogleSpreadsheetID is empty
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	LogLevel string
}

// overlay is the optional YAML file named by CUENTAS_CONFIG. Values set
// there win over the environment.
type overlay struct {
	Tax struct {
		VATRate      string `yaml:"vat_rate"`
		AmountPlaces *int   `yaml:"amount_places"`
	} `yaml:"tax"`
	Timezone     string `yaml:"timezone"`
	RateLimitRPM int    `yaml:"rate_limit_rpm"`
	Sheets       struct {
		SpreadsheetID string `yaml:"spreadsheet_id"`
		SheetName     string `yaml:"sheet_name"`
	} `yaml:"sheets"`
}

// Load reads the environment and applies the CUENTAS_CONFIG overlay.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 7*time.Second),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
		JWTSecret:      getEnv("JWT_SECRET", ""),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/cuentas.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "cuentas"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "transaction_history"),

		VATRate:      getEnv("VAT_RATE", core.DefaultVATRate.String()),
		AmountPlaces: getEnvInt("AMOUNT_PLACES", 0),
		Timezone:     getEnv("TIMEZONE", "America/Santiago"),

		FXURL:      getEnv("FX_URL", "https://mindicador.cl/api/dolar"),
		FXCacheTTL: getEnvDuration("FX_CACHE_TTL", time.Hour),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Movimientos"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CUENTAS_CONFIG"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config overlay: %w", err)
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config overlay %s: %w", path, err)
	}

	if o.Tax.VATRate != "" {
		c.VATRate = o.Tax.VATRate
	}
	if o.Tax.AmountPlaces != nil {
		c.AmountPlaces = *o.Tax.AmountPlaces
	}
	if o.Timezone != "" {
		c.Timezone = o.Timezone
	}
	if o.RateLimitRPM > 0 {
		c.RateLimitRPM = o.RateLimitRPM
	}
	if o.Sheets.SpreadsheetID != "" {
		c.GoogleSpreadsheetID = o.Sheets.SpreadsheetID
	}
	if o.Sheets.SheetName != "" {
		c.GoogleSheetName = o.Sheets.SheetName
	}
	return nil
}

// TaxPolicy builds the VAT policy from VATRate and AmountPlaces.
func (c *Config) TaxPolicy() (core.TaxPolicy, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.VATRate))
	if err != nil {
		return core.TaxPolicy{}, fmt.Errorf("invalid VAT rate '%s': %w", c.VATRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return core.TaxPolicy{}, fmt.Errorf("invalid VAT rate %s: must be in [0, 1)", rate)
	}
	if c.AmountPlaces < 0 || c.AmountPlaces > 4 {
		return core.TaxPolicy{}, fmt.Errorf("invalid amount places %d: must be between 0 and 4", c.AmountPlaces)
	}
	return core.TaxPolicy{Rate: rate, Places: int32(c.AmountPlaces)}, nil
}

// Location resolves Timezone. Month boundaries are computed in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// AMQPEnabled reports whether events go through the broker.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: must be a postgres:// URL")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite postgres]", c.DataBackend))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := c.TaxPolicy(); err != nil {
		errors = append(errors, err.Error())
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.RequestTimeout < time.Second || c.RequestTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be between 1s and 5m", c.RequestTimeout))
	}
	if c.RateLimitRPM < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitRPM))
	}
	if c.FXCacheTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid FX cache TTL %v: must be at least 1 minute", c.FXCacheTTL))
	}
	if u, err := url.Parse(c.FXURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, fmt.Sprintf("invalid FX URL '%s'", c.FXURL))
	}

	if c.SheetsEnabled() && c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" &&
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		errors = append(errors, "Google Sheets mirror needs GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateServer adds the checks only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("configuration validation failed:\n- JWT_SECRET must be at least 16 characters")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
