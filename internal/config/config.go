package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultMaskingFields are masked unless the configuration replaces or clears them.
var DefaultMaskingFields = []string{
	"password",
	"pwd",
	"secret",
	"password_confirmation",
	"passwordConfirmation",
	"cc",
	"card_number",
	"cardNumber",
	"ccv",
	"ssn",
	"credit_score",
	"creditScore",
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// ProxyHeader names the header Fiber trusts for the client IP, e.g. X-Forwarded-For.
	ProxyHeader    string   `mapstructure:"proxy_header"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type ProxyConfig struct {
	Target                string        `mapstructure:"target"`
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxIdleConns          int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout"`
	TLSTimeout            time.Duration `mapstructure:"tls_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	ExpectContinueTimeout time.Duration `mapstructure:"expect_continue_timeout"`
	MaxConnsPerHost       int           `mapstructure:"max_conns_per_host"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	APIKey        string        `mapstructure:"api_key"`
	ProjectID     string        `mapstructure:"project_id"`
	Debug         bool          `mapstructure:"debug"`
	Endpoint      string        `mapstructure:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Masking       MaskingConfig `mapstructure:"masking"`
	IgnoredRoutes []string      `mapstructure:"ignored_routes"`
	Scripts       ScriptsConfig `mapstructure:"scripts"`
}

type MaskingConfig struct {
	// Fields replaces DefaultMaskingFields when set.
	Fields []string `mapstructure:"fields"`
	// Clear drops the default (or replaced) fields; Extra still applies.
	Clear bool     `mapstructure:"clear"`
	Extra []string `mapstructure:"extra"`
}

// ScriptsConfig maps route patterns to JavaScript files run on captured bodies.
type ScriptsConfig struct {
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
	Routes  []ScriptRoute `mapstructure:"routes"`
}

type ScriptRoute struct {
	Route  string `mapstructure:"route"`
	Script string `mapstructure:"script"`
}

type ArchiveConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Type          string        `mapstructure:"type"` // postgres, oracle, couchbase, mongodb, redis
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Database      string        `mapstructure:"database"`
	Workers       int           `mapstructure:"workers"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Pool          struct {
		MaxConns int `mapstructure:"max_conns"`
		MinConns int `mapstructure:"min_conns"`
	} `mapstructure:"pool"`
	Redis struct {
		DB      int           `mapstructure:"db"`
		Key     string        `mapstructure:"key"`
		MaxLen  int64         `mapstructure:"max_len"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"redis"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// MaskingFields resolves the effective sensitive field list.
func (t TelemetryConfig) MaskingFields() []string {
	var fields []string
	if !t.Masking.Clear {
		if len(t.Masking.Fields) > 0 {
			fields = append(fields, t.Masking.Fields...)
		} else {
			fields = append(fields, DefaultMaskingFields...)
		}
	}
	return append(fields, t.Masking.Extra...)
}

// Validate checks the settings the binary cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Proxy.Target == "" {
		errs = append(errs, errors.New("proxy.target is required"))
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.APIKey == "" {
			errs = append(errs, errors.New("telemetry.api_key is required"))
		}
		if c.Telemetry.ProjectID == "" {
			errs = append(errs, errors.New("telemetry.project_id is required"))
		}
	}
	if c.Archive.Enabled && c.Archive.Type == "" {
		errs = append(errs, errors.New("archive.type is required when the archive is enabled"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("proxy.target", "")
	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.max_idle_conns", 100)
	v.SetDefault("proxy.idle_conn_timeout", 90*time.Second)
	v.SetDefault("proxy.tls_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.api_key", "")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.debug", false)
	v.SetDefault("telemetry.endpoint", "https://rocknrolla.treblle.com")
	v.SetDefault("telemetry.timeout", 2*time.Second)
	v.SetDefault("telemetry.scripts.timeout", 100*time.Millisecond)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.workers", 2)
	v.SetDefault("archive.buffer_size", 1000)
	v.SetDefault("archive.batch_size", 100)
	v.SetDefault("archive.flush_interval", time.Second)
	v.SetDefault("archive.redis.key", "gozcu:records")
	v.SetDefault("archive.redis.max_len", 10000)
	v.SetDefault("archive.redis.timeout", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "gozcu")
}

// LoadConfig reads a YAML file and overlays GOZCU_* environment variables,
// e.g. GOZCU_TELEMETRY_API_KEY.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Dir(configPath))
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("gozcu")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
