// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads.
const EnvironmentVariable = "RTM_CONFIG"

// Exhausted-budget policies. See GatewayConfig.ExhaustedBudget.
const (
	ExhaustedFailFast       = "fail-fast"
	ExhaustedDefaultTimeout = "default-timeout"
)

// Config is the complete client configuration.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Auth       AuthConfig       `yaml:"auth"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Files      FilesConfig      `yaml:"files"`
	Log        LogConfig        `yaml:"log"`
}

// GatewayConfig says where the gateway is and how requests to it behave.
type GatewayConfig struct {
	// Endpoint is a fixed gateway address (host:port). Mutually
	// exclusive with Dispatch.
	Endpoint string `yaml:"endpoint"`

	// Dispatch is the address of the dispatcher asked for the gateway
	// endpoint on every connect.
	Dispatch string `yaml:"dispatch"`

	// Cluster selects a gateway cluster through the dispatcher. Empty
	// selects the default cluster.
	Cluster string `yaml:"cluster"`

	// QuestTimeout is the default request timeout.
	// Default: 30s
	QuestTimeout string `yaml:"quest_timeout"`

	// AutoReconnect re-authenticates with the configured credentials
	// when a request is sent on a closed session.
	// Default: true
	AutoReconnect bool `yaml:"auto_reconnect"`

	// ExhaustedBudget decides what happens to a queued request whose
	// whole timeout was spent waiting for the session to become ready:
	// "fail-fast" fails it with a timeout error, "default-timeout"
	// sends it with the transport default timeout.
	// Default: fail-fast
	ExhaustedBudget string `yaml:"exhausted_budget"`
}

// AuthConfig carries the session credentials.
type AuthConfig struct {
	PID int64 `yaml:"pid"`
	UID int64 `yaml:"uid"`

	// TokenFile holds the authentication token. The token itself never
	// appears in the configuration file.
	TokenFile string `yaml:"token_file"`

	// UnreadNotice asks the gateway to push an unread summary after
	// authentication.
	UnreadNotice bool `yaml:"unread_notice"`
}

// SchedulerConfig tunes the process-wide maintenance loop.
type SchedulerConfig struct {
	// Default: 20s
	PingInterval string `yaml:"ping_interval"`

	// Default: 30m
	DedupRetention string `yaml:"dedup_retention"`

	// AuxiliaryRetention is how long an auxiliary file connection is
	// kept after its last use expired.
	// Default: 10m
	AuxiliaryRetention string `yaml:"auxiliary_retention"`
}

// EncryptionConfig enables the transport key exchange.
type EncryptionConfig struct {
	// Curve is "x25519" or empty to disable encryption.
	Curve string `yaml:"curve"`

	// PublicKeyFile holds the gateway's static public key, raw or
	// base64 encoded.
	PublicKeyFile string `yaml:"public_key_file"`
}

// FilesConfig controls file transfers.
type FilesConfig struct {
	// Compression is "none", "lz4", or "zstd".
	// Default: none
	Compression string `yaml:"compression"`
}

// LogConfig selects log verbosity and handler.
type LogConfig struct {
	// Default: info
	Level string `yaml:"level"`

	// Format is "auto", "text", or "json".
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the configuration every file is laid over.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			QuestTimeout:    "30s",
			AutoReconnect:   true,
			ExhaustedBudget: ExhaustedFailFast,
		},
		Scheduler: SchedulerConfig{
			PingInterval:       "20s",
			DedupRetention:     "30m",
			AuxiliaryRetention: "10m",
		},
		Files: FilesConfig{
			Compression: "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by RTM_CONFIG. There is
// no fallback: an unset variable is an error.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your client config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration bytes. ext is the source file extension
// and selects JSONC preprocessing for ".json" and ".jsonc".
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Auth.TokenFile = expandVars(c.Auth.TokenFile, vars)
	c.Encryption.PublicKeyFile = expandVars(c.Encryption.PublicKeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Provided vars win over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// QuestTimeoutDuration parses Gateway.QuestTimeout.
func (c *Config) QuestTimeoutDuration() (time.Duration, error) {
	return parseDuration("gateway.quest_timeout", c.Gateway.QuestTimeout)
}

// PingIntervalDuration parses Scheduler.PingInterval.
func (c *Config) PingIntervalDuration() (time.Duration, error) {
	return parseDuration("scheduler.ping_interval", c.Scheduler.PingInterval)
}

// DedupRetentionDuration parses Scheduler.DedupRetention.
func (c *Config) DedupRetentionDuration() (time.Duration, error) {
	return parseDuration("scheduler.dedup_retention", c.Scheduler.DedupRetention)
}

// AuxiliaryRetentionDuration parses Scheduler.AuxiliaryRetention.
func (c *Config) AuxiliaryRetentionDuration() (time.Duration, error) {
	return parseDuration("scheduler.auxiliary_retention", c.Scheduler.AuxiliaryRetention)
}

func parseDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// ReadToken reads the token file, trimming surrounding whitespace.
func (c *Config) ReadToken() (string, error) {
	if c.Auth.TokenFile == "" {
		return "", errors.New("auth.token_file is not set")
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.Gateway.Endpoint == "" && c.Gateway.Dispatch == "":
		errs = append(errs, errors.New("one of gateway.endpoint or gateway.dispatch is required"))
	case c.Gateway.Endpoint != "" && c.Gateway.Dispatch != "":
		errs = append(errs, errors.New("gateway.endpoint and gateway.dispatch are mutually exclusive"))
	}
	if c.Gateway.Cluster != "" && c.Gateway.Dispatch == "" {
		errs = append(errs, errors.New("gateway.cluster requires gateway.dispatch"))
	}
	if !contains([]string{ExhaustedFailFast, ExhaustedDefaultTimeout}, c.Gateway.ExhaustedBudget) {
		errs = append(errs, fmt.Errorf("gateway.exhausted_budget must be one of: %v",
			[]string{ExhaustedFailFast, ExhaustedDefaultTimeout}))
	}

	for _, parse := range []func() (time.Duration, error){
		c.QuestTimeoutDuration,
		c.PingIntervalDuration,
		c.DedupRetentionDuration,
		c.AuxiliaryRetentionDuration,
	} {
		if _, err := parse(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Auth.PID <= 0 {
		errs = append(errs, errors.New("auth.pid is required"))
	}
	if c.Auth.UID <= 0 {
		errs = append(errs, errors.New("auth.uid is required"))
	}

	switch c.Encryption.Curve {
	case "":
	case "x25519":
		if c.Encryption.PublicKeyFile == "" {
			errs = append(errs, errors.New("encryption.public_key_file is required when encryption.curve is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("encryption.curve %q is not supported (want x25519)", c.Encryption.Curve))
	}

	if !contains([]string{"", "none", "lz4", "zstd"}, c.Files.Compression) {
		errs = append(errs, fmt.Errorf("files.compression must be one of: none, lz4, zstd"))
	}
	if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	if !contains([]string{"", "auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: auto, text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
