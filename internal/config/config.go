// Package config loads getitdone.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/slyt3/GetItDone/internal/models"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file.
const (
	EnvAddr       = "GETITDONE_ADDR"
	EnvDB         = "GETITDONE_DB"
	EnvKey        = "GETITDONE_KEY"
	// EnvAdminToken guards the key rotation endpoint.
	EnvAdminToken = "GETITDONE_ADMIN_TOKEN"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Signing  Signing  `yaml:"signing"`
	Payment  Payment  `yaml:"payment"`
	Platform Platform `yaml:"platform"`
	Notify   Notify   `yaml:"notify"`
	Policy   Policy   `yaml:"policy"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminToken      string        `yaml:"admin_token"`
}

type Storage struct {
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type Signing struct {
	KeyPath string `yaml:"key_path"`
}

type Payment struct {
	Timeout   time.Duration `yaml:"timeout"`
	Simulated Simulated     `yaml:"simulated"`
}

type Simulated struct {
	DeclineOver models.Amount `yaml:"decline_over"`
	Latency     time.Duration `yaml:"latency"`
}

type Platform struct {
	Currency string `yaml:"currency"`
	FeeBps   int64  `yaml:"fee_bps"`
}

type Notify struct {
	BufferSize int    `yaml:"buffer_size"`
	WebhookURL string `yaml:"webhook_url"`
	// Backpressure is "drop" or "block".
	Backpressure string `yaml:"backpressure"`
}

type Policy struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server:   Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Storage:  Storage{Driver: "sqlite3", Path: "data/getitdone.db"},
		Signing:  Signing{KeyPath: "data/ledger.key"},
		Payment:  Payment{Timeout: 5 * time.Second},
		Platform: Platform{Currency: models.DefaultCurrency, FeeBps: 500},
		Notify:   Notify{BufferSize: 1024, Backpressure: "drop"},
		Policy:   Policy{Watch: true},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config YAML: %w", err)
			}
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvKey); ok && v != "" {
		c.Signing.KeyPath = v
	}
	if v, ok := lookup(EnvAdminToken); ok && v != "" {
		c.Server.AdminToken = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	c.Platform.Currency = models.NormalizeCurrency(c.Platform.Currency)
	switch {
	case c.Server.Addr == "":
		return errors.New("config: server.addr is required")
	case c.Server.ShutdownTimeout <= 0:
		return errors.New("config: server.shutdown_timeout must be positive")
	case c.Storage.Driver != "sqlite3" && c.Storage.Driver != "sqlite":
		return fmt.Errorf("config: storage.driver %q must be sqlite3 or sqlite", c.Storage.Driver)
	case c.Storage.Path == "":
		return errors.New("config: storage.path is required")
	case c.Signing.KeyPath == "":
		return errors.New("config: signing.key_path is required")
	case c.Payment.Timeout <= 0:
		return errors.New("config: payment.timeout must be positive")
	case c.Payment.Simulated.DeclineOver < 0 || c.Payment.Simulated.Latency < 0:
		return errors.New("config: payment.simulated values must not be negative")
	case !models.ValidCurrency(c.Platform.Currency):
		return fmt.Errorf("config: platform.currency %q is not an ISO-4217 code", c.Platform.Currency)
	case c.Platform.FeeBps < 0 || c.Platform.FeeBps > 10000:
		return fmt.Errorf("config: platform.fee_bps %d outside 0..10000", c.Platform.FeeBps)
	case c.Notify.BufferSize <= 0:
		return errors.New("config: notify.buffer_size must be positive")
	case c.Notify.Backpressure != "drop" && c.Notify.Backpressure != "block":
		return fmt.Errorf("config: notify.backpressure %q must be drop or block", c.Notify.Backpressure)
	case c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://"):
		return fmt.Errorf("config: notify.webhook_url %q must be http(s)", c.Notify.WebhookURL)
	}
	return nil
}
