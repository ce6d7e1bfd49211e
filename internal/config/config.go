package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (WABOT_WEB_PORT, ...).
const EnvPrefix = "WABOT"

type Config struct {
	App struct {
		Name   string `mapstructure:"name"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"app"`
	Web struct {
		Host           string `mapstructure:"host"`
		Port           int    `mapstructure:"port"`
		AuthSecret     string `mapstructure:"auth_secret"`
		AllowedOrigins string `mapstructure:"allowed_origins"`
	} `mapstructure:"web"`
	Session struct {
		Adapter     string `mapstructure:"adapter"`
		PairingMode string `mapstructure:"pairing_mode"`
		PhoneNumber string `mapstructure:"phone_number"`
		DeviceName  string `mapstructure:"device_name"`
		Database    string `mapstructure:"database"`
	} `mapstructure:"session"`
	Scheduler struct {
		Interval time.Duration `mapstructure:"interval"`
		File     string        `mapstructure:"file"`
	} `mapstructure:"scheduler"`
	Commands struct {
		Manifest        string        `mapstructure:"manifest"`
		DefaultCooldown time.Duration `mapstructure:"default_cooldown"`
		Watch           bool          `mapstructure:"watch"`
	} `mapstructure:"commands"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	return load(data, "")
}

// Load reads the embedded defaults, merges the optional override file on top
// and applies WABOT_* environment variables.
func Load(defaults []byte, path string) (Config, error) {
	return load(defaults, path)
}

func load(data []byte, path string) (Config, error) {
	var c Config

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(os.ExpandEnv(string(data))))); err != nil {
		return c, fmt.Errorf("parse default config: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := v.MergeConfig(bytes.NewReader([]byte(os.ExpandEnv(string(raw))))); err != nil {
				return c, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults only
		default:
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.App.Prefix) == "" {
		return fmt.Errorf("app.prefix must not be empty")
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	switch c.Session.Adapter {
	case "whatsapp", "loopback":
	default:
		return fmt.Errorf("session.adapter must be whatsapp or loopback, got %q", c.Session.Adapter)
	}
	switch c.Session.PairingMode {
	case "qr", "code":
	default:
		return fmt.Errorf("session.pairing_mode must be qr or code, got %q", c.Session.PairingMode)
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s, got %s", c.Scheduler.Interval)
	}
	if c.Commands.DefaultCooldown < 0 {
		return fmt.Errorf("commands.default_cooldown must not be negative")
	}
	return nil
}

// Addr returns the listen address for the web server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// AllowedOrigins splits web.allowed_origins on commas.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.Web.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c Config) IsAuthEnabled() bool {
	return c.Web.AuthSecret != ""
}
