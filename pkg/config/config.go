package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"gopkg.in/yaml.v3"
)

// RetryForever as a retry count means the connection manager never gives up.
const RetryForever = -1

// Config holds the destination broker connection parameters. It is loaded once
// at process start and passed around by value.
//
// Durations are kept in milliseconds so the file keys and environment variables
// match what operators already set on the broker side.
type Config struct {
	Host                string             `yaml:"destination-host" env:"DESTINATION_HOST"`
	Username            string             `yaml:"destination-username" env:"DESTINATION_USERNAME"`
	Password            string             `yaml:"destination-password" env:"DESTINATION_PASSWORD"`
	Namespace           string             `yaml:"destination-namespace" env:"DESTINATION_NAMESPACE"`
	ValidateCertificate bool               `yaml:"tls-validate-certificate" env:"TLS_VALIDATE_CERTIFICATE"`
	Topic               string             `yaml:"destination-topic" env:"DESTINATION_TOPIC"`
	ConnectRetries      int                `yaml:"connect-retry-count" env:"CONNECT_RETRY_COUNT"`
	ConnectTimeoutMs    int                `yaml:"connect-timeout-ms" env:"CONNECT_TIMEOUT_MS"`
	ReconnectRetries    int                `yaml:"reconnect-retry-count" env:"RECONNECT_RETRY_COUNT"`
	ReconnectDelayMs    int                `yaml:"reconnect-delay-ms" env:"RECONNECT_DELAY_MS"`
	CompressionLevel    int                `yaml:"compression-level" env:"COMPRESSION_LEVEL"`
	DeliveryMode        types.DeliveryMode `yaml:"delivery-mode" env:"DELIVERY_MODE"`

	ClientIDPrefix string `yaml:"client-id-prefix" env:"DESTINATION_CLIENT_ID_PREFIX"`
	KeepAliveMs    int    `yaml:"keep-alive-ms" env:"DESTINATION_KEEP_ALIVE_MS"`
	CACertFile     string `yaml:"ca-cert-file" env:"DESTINATION_CA_CERT_FILE"`
	ClientCertFile string `yaml:"client-cert-file" env:"DESTINATION_CLIENT_CERT_FILE"`
	ClientKeyFile  string `yaml:"client-key-file" env:"DESTINATION_CLIENT_KEY_FILE"`
}

// Default returns the baseline values applied before any file or environment overrides.
func Default() Config {
	return Config{
		ValidateCertificate: true,
		Topic:               "azure",
		ConnectRetries:      RetryForever,
		ConnectTimeoutMs:    10000,
		ReconnectRetries:    RetryForever,
		ReconnectDelayMs:    5000,
		CompressionLevel:    0,
		DeliveryMode:        types.Direct,
		ClientIDPrefix:      "bridge-",
		KeepAliveMs:         30000,
	}
}

// Load builds the configuration from defaults, then the optional YAML file at
// path, then the environment. The result is validated before it is returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &ConfigurationError{Field: "config-file", Reason: fmt.Sprintf("cannot read %s", path), Err: err}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &ConfigurationError{Field: "config-file", Reason: fmt.Sprintf("cannot parse %s", path), Err: err}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, &ConfigurationError{Field: "environment", Reason: "cannot parse", Err: err}
	}

	cfg.Host = NormalizeHost(cfg.Host)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load without a configuration file.
func LoadFromEnv() (Config, error) {
	return Load("")
}

// supportedSchemes lists the host URL schemes a destination transport exists for.
var supportedSchemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true,
	"ws": true, "wss": true, "kafka": true, "kafkas": true,
}

// NormalizeHost prefixes a bare host:port with tcp://.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return host
	}
	return "tcp://" + host
}

// Validate checks every parameter and returns all problems joined together.
// Each problem is a *ConfigurationError.
func (c Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, missing("destination-host"))
	} else if u, err := url.Parse(c.Host); err != nil {
		errs = append(errs, &ConfigurationError{Field: "destination-host", Reason: "not a valid URL", Err: err})
	} else if !supportedSchemes[strings.ToLower(u.Scheme)] {
		errs = append(errs, invalid("destination-host", "unsupported scheme %q", u.Scheme))
	} else if u.Host == "" {
		errs = append(errs, invalid("destination-host", "no host in %q", c.Host))
	}
	if c.Namespace == "" {
		errs = append(errs, missing("destination-namespace"))
	}
	if c.Topic == "" {
		errs = append(errs, missing("destination-topic"))
	}
	if c.Password != "" && c.Username == "" {
		errs = append(errs, invalid("destination-username", "password set without a username"))
	}
	if c.ConnectRetries < RetryForever {
		errs = append(errs, invalid("connect-retry-count", "must be -1 or greater, got %d", c.ConnectRetries))
	}
	if c.ConnectTimeoutMs <= 0 {
		errs = append(errs, invalid("connect-timeout-ms", "must be positive, got %d", c.ConnectTimeoutMs))
	}
	if c.ReconnectRetries < RetryForever {
		errs = append(errs, invalid("reconnect-retry-count", "must be -1 or greater, got %d", c.ReconnectRetries))
	}
	if c.ReconnectDelayMs < 0 {
		errs = append(errs, invalid("reconnect-delay-ms", "must not be negative, got %d", c.ReconnectDelayMs))
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		errs = append(errs, invalid("compression-level", "must be between 0 and 9, got %d", c.CompressionLevel))
	}
	if c.DeliveryMode != types.Direct && c.DeliveryMode != types.Persistent {
		errs = append(errs, invalid("delivery-mode", "unknown mode %s", c.DeliveryMode))
	}
	if c.KeepAliveMs < 0 {
		errs = append(errs, invalid("keep-alive-ms", "must not be negative, got %d", c.KeepAliveMs))
	}
	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		errs = append(errs, invalid("client-cert-file", "client certificate and key must be set together"))
	}

	return errors.Join(errs...)
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveMs) * time.Millisecond
}

// Scheme returns the lower-cased URL scheme of Host.
func (c Config) Scheme() string {
	u, err := url.Parse(c.Host)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "****"
	}
	return c
}
