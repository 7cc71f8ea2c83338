// Package config loads connector configuration from .env files, the environment and an optional YAML overlay.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/venuelink/internal/schema"
)

// EnvPrefix prefixes every environment variable, e.g. VENUELINK_EXCHANGE.
const EnvPrefix = "VENUELINK"

// Mode selects the connector flavour.
type Mode string

const (
	// ModePublic streams market data anonymously.
	ModePublic Mode = "public"
	// ModePrivate authenticates and enables order operations.
	ModePrivate Mode = "private"
)

// TradingConfig sizes order batches and REST pacing.
type TradingConfig struct {
	MaxCreateBatchSize int           `envconfig:"MAX_CREATE_BATCH_SIZE" default:"10" yaml:"maxCreateBatchSize"`
	MaxDeleteBatchSize int           `envconfig:"MAX_DELETE_BATCH_SIZE" default:"50" yaml:"maxDeleteBatchSize"`
	RateLimit          float64       `envconfig:"RATE_LIMIT" default:"50" yaml:"rateLimit"`
	WaitTime           time.Duration `envconfig:"WAIT_TIME" default:"2s" yaml:"waitTime"`
	AmountPrecision    int32         `envconfig:"AMOUNT_PRECISION" default:"8" yaml:"amountPrecision"`
	PricePrecision     int32         `envconfig:"PRICE_PRECISION" default:"2" yaml:"pricePrecision"`
	SubAccountID       string        `envconfig:"SUB_ACCOUNT_ID" default:"mainSubAccount" yaml:"subAccountId"`
}

// SessionConfig tunes the websocket lifecycle.
type SessionConfig struct {
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" default:"5s" yaml:"reconnectDelay"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"5s" yaml:"heartbeatInterval"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"DEVELOPMENT" yaml:"development"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT" yaml:"otlpEndpoint"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"venuelink" yaml:"serviceName"`
	OTLPInsecure bool   `envconfig:"OTLP_INSECURE" yaml:"otlpInsecure"`
}

// Config is the complete connector configuration.
type Config struct {
	Mode          Mode          `envconfig:"MODE" default:"public" yaml:"mode"`
	Exchange      string        `envconfig:"EXCHANGE" default:"htx" yaml:"exchange"`
	ConnectorType string        `envconfig:"CONNECTOR_TYPE" yaml:"connectorType"`
	BaseAsset     string        `envconfig:"BASE_ASSET" default:"BTC" yaml:"baseAsset"`
	QuoteAsset    string        `envconfig:"QUOTE_ASSET" default:"USDT" yaml:"quoteAsset"`
	WSAddress     string        `envconfig:"WS_ADDRESS" yaml:"wsAddress"`
	WSPath        string        `envconfig:"WS_PATH" yaml:"wsPath"`
	RestAddress   string        `envconfig:"REST_ADDRESS" yaml:"restAddress"`
	APIKey        string        `envconfig:"API_KEY" yaml:"apiKey"`
	APISecret     string        `envconfig:"API_SECRET" yaml:"apiSecret"`
	RunFor        time.Duration `envconfig:"RUN_FOR" default:"1m" yaml:"runFor"`

	Trading   TradingConfig   `envconfig:"TRADING" yaml:"trading"`
	Session   SessionConfig   `envconfig:"SESSION" yaml:"session"`
	Log       LogConfig       `envconfig:"LOG" yaml:"log"`
	Telemetry TelemetryConfig `envconfig:"TELEMETRY" yaml:"telemetry"`
}

// Load reads .env files, the VENUELINK_* environment and, when configPath is set, a YAML overlay.
// Values from the YAML file win over the environment.
func Load(ctx context.Context, configPath string, envFiles ...string) (Config, error) {
	_ = ctx

	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	if strings.TrimSpace(configPath) != "" {
		if err := cfg.overlay(configPath); err != nil {
			return Config{}, err
		}
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads the given files, or ./.env, skipping any that do not exist.
// godotenv never overrides variables already present in the environment.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func (c *Config) overlay(path string) error {
	file, err := os.Open(filepath.Clean(strings.TrimSpace(path))) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(bytes, c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (c *Config) normalise() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.Exchange = strings.TrimSpace(c.Exchange)
	c.ConnectorType = strings.TrimSpace(c.ConnectorType)
	c.BaseAsset = strings.TrimSpace(c.BaseAsset)
	c.QuoteAsset = strings.TrimSpace(c.QuoteAsset)
	c.WSAddress = strings.TrimSpace(c.WSAddress)
	c.RestAddress = strings.TrimSpace(c.RestAddress)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

// Validate performs semantic validation on the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModePublic, ModePrivate:
	default:
		return fmt.Errorf("mode must be one of public, private")
	}
	if c.Exchange == "" {
		return fmt.Errorf("exchange required")
	}
	if c.BaseAsset == "" || c.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets required")
	}
	if c.Mode == ModePrivate && (strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "") {
		return fmt.Errorf("api key and secret required in private mode")
	}
	if c.Trading.MaxCreateBatchSize <= 0 {
		return fmt.Errorf("trading maxCreateBatchSize must be >0")
	}
	if c.Trading.MaxDeleteBatchSize <= 0 {
		return fmt.Errorf("trading maxDeleteBatchSize must be >0")
	}
	if c.Trading.RateLimit <= 0 {
		return fmt.Errorf("trading rateLimit must be >0")
	}
	if c.Trading.WaitTime < 0 {
		return fmt.Errorf("trading waitTime must be >= 0")
	}
	if c.Session.ReconnectDelay <= 0 {
		return fmt.Errorf("session reconnectDelay must be >0")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session heartbeatInterval must be >0")
	}
	if c.RunFor < 0 {
		return fmt.Errorf("runFor must be >= 0")
	}
	return nil
}

// ChunkPause returns the pause between create chunks for the connector settings.
// An explicit zero disables the pause, which connectors express as a negative duration.
func (t TradingConfig) ChunkPause() time.Duration {
	if t.WaitTime == 0 {
		return -1
	}
	return t.WaitTime
}

// Group returns the connector group named after the base asset.
func (c Config) Group() schema.ConnectorGroup {
	return schema.ConnectorGroup{Name: c.BaseAsset}
}

// Connector returns the exchange selection and endpoints.
func (c Config) Connector() schema.ConnectorConfiguration {
	return schema.ConnectorConfiguration{
		Exchange:      c.Exchange,
		ConnectorType: c.ConnectorType,
		QuoteAsset:    c.QuoteAsset,
		WSAddress:     c.WSAddress,
		WSPath:        c.WSPath,
		RestAddress:   c.RestAddress,
	}
}

// Credential returns the API key pair.
func (c Config) Credential() schema.Credential {
	return schema.Credential{Key: c.APIKey, Secret: c.APISecret}
}
