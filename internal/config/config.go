// Package config loads server settings from defaults, an optional config
// file, WORLDCHAT_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andy6609/worldchat/internal/logging"
)

const (
	KeyConfig         = "config"
	KeyAddr           = "addr"
	KeyMetricsAddr    = "metrics-addr"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyOutboundBuffer = "outbound-buffer"
	KeyFlushTimeout   = "flush-timeout"
	KeyRateLimit      = "rate-limit"
	KeyRateBurst      = "rate-burst"

	EnvPrefix   = "WORLDCHAT"
	DefaultAddr = "0.0.0.0:19090"
)

type Config struct {
	Addr           string
	MetricsAddr    string
	LogLevel       string
	LogFormat      string
	OutboundBuffer int
	FlushTimeout   time.Duration
	RateLimit      float64 // commands per second per session, 0 disables
	RateBurst      int
}

// Flags returns the flag set understood by Load.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String(KeyConfig, "", "path to a config file (yaml, json or toml)")
	fs.String(KeyAddr, DefaultAddr, "chat listen address")
	fs.String(KeyMetricsAddr, "", "metrics listen address, empty to disable")
	fs.String(KeyLogLevel, "info", "log level: debug, info, warn, error")
	fs.String(KeyLogFormat, "json", "log format: json or text")
	fs.Int(KeyOutboundBuffer, 64, "queued outbound lines per connection; lines beyond a full queue are dropped")
	fs.Duration(KeyFlushTimeout, 2*time.Second, "time allowed to flush queued lines when a connection closes")
	fs.Float64(KeyRateLimit, 0, "commands per second allowed per session, 0 disables")
	fs.Int(KeyRateBurst, 5, "command burst allowed per session when rate-limit is set")
	return fs
}

// Load parses args with the flag set from Flags and resolves every setting.
func Load(name string, args []string) (*Config, error) {
	fs := Flags(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Addr:           v.GetString(KeyAddr),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		OutboundBuffer: v.GetInt(KeyOutboundBuffer),
		FlushTimeout:   v.GetDuration(KeyFlushTimeout),
		RateLimit:      v.GetFloat64(KeyRateLimit),
		RateBurst:      v.GetInt(KeyRateBurst),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%s must not be empty", KeyAddr)
	}
	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyOutboundBuffer, c.OutboundBuffer)
	}
	if c.FlushTimeout < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyFlushTimeout, c.FlushTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%s must not be negative, got %g", KeyRateLimit, c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("%s must be positive when %s is set", KeyRateBurst, KeyRateLimit)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown %s %q (valid: json, text)", KeyLogFormat, c.LogFormat)
	}
	return nil
}
