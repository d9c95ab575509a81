// Package config manages lsoed daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/arrcus/lsoe/internal/pdu"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete lsoed configuration.
type Config struct {
	// LocalID is this system's 10-byte LSOE identifier, given as a
	// string and padded/truncated to pdu.LocalIDSize bytes.
	LocalID string `koanf:"local_id"`

	// HelloMulticastMACAddr is the destination MAC HELLO PDUs are sent
	// to, in IEEE hyphenated form (e.g. "01-80-C2-00-00-0E").
	HelloMulticastMACAddr string `koanf:"hello_multicast_macaddr"`

	// EtherType is the Ethernet frame type LSOE frames carry.
	EtherType uint16 `koanf:"ethertype"`

	HelloInterval     time.Duration `koanf:"hello_interval"`
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`
	HoldTime          time.Duration `koanf:"hold_time"`

	RetransmitBase time.Duration `koanf:"retransmit_base"`
	RetransmitCap  time.Duration `koanf:"retransmit_cap"`
	MaxAttempts    int           `koanf:"max_attempts"`

	ReassemblyTTL time.Duration `koanf:"reassembly_ttl"`

	// ReportRFC7752URL is the northbound HTTP endpoint snapshots are
	// POSTed to. Empty disables northbound push.
	ReportRFC7752URL string `koanf:"report_rfc7752_url"`

	// Interfaces is the allowlist of interface names to bind; empty
	// means every non-loopback, addressed interface the monitor reports.
	Interfaces []string `koanf:"interfaces"`

	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LocalIDBytes returns LocalID as a fixed pdu.LocalIDSize array, right-padded
// with zero bytes if shorter and truncated if longer.
func (c *Config) LocalIDBytes() [pdu.LocalIDSize]byte {
	var out [pdu.LocalIDSize]byte
	copy(out[:], c.LocalID)
	return out
}

// HelloMulticastMAC parses HelloMulticastMACAddr as a net.HardwareAddr.
func (c *Config) HelloMulticastMAC() (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(c.HelloMulticastMACAddr)
	if err != nil {
		return nil, fmt.Errorf("parse hello_multicast_macaddr %q: %w", c.HelloMulticastMACAddr, err)
	}
	return mac, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the defaults named in
// spec §6.
func DefaultConfig() *Config {
	return &Config{
		LocalID:               "",
		HelloMulticastMACAddr: "01-80-C2-00-00-0E",
		EtherType:             0x88B5,
		HelloInterval:         15 * time.Second,
		KeepaliveInterval:     10 * time.Second,
		HoldTime:              40 * time.Second,
		RetransmitBase:        1 * time.Second,
		RetransmitCap:         30 * time.Second,
		MaxAttempts:           5,
		ReassemblyTTL:         5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for lsoed configuration.
// Variables are named LSOE_<section>_<key>, e.g., LSOE_METRICS_ADDR.
const envPrefix = "LSOE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (LSOE_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	LSOE_LOCAL_ID             -> local_id
//	LSOE_ETHERTYPE            -> ethertype
//	LSOE_HELLO_INTERVAL       -> hello_interval
//	LSOE_METRICS_ADDR         -> metrics.addr
//	LSOE_METRICS_PATH         -> metrics.path
//	LSOE_LOG_LEVEL            -> log.level
//	LSOE_LOG_FORMAT           -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms LSOE_METRICS_ADDR -> metrics.addr and
// LSOE_LOCAL_ID -> local_id. Strips the LSOE_ prefix and lowercases; only
// the _ that follows a section name (log, metrics) becomes a ., so
// top-level keys keep their underscores.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"log_", "metrics_"} {
		if strings.HasPrefix(s, section) {
			return strings.Replace(s, "_", ".", 1)
		}
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"local_id":                defaults.LocalID,
		"hello_multicast_macaddr": defaults.HelloMulticastMACAddr,
		"ethertype":               defaults.EtherType,
		"hello_interval":          defaults.HelloInterval.String(),
		"keepalive_interval":      defaults.KeepaliveInterval.String(),
		"hold_time":               defaults.HoldTime.String(),
		"retransmit_base":         defaults.RetransmitBase.String(),
		"retransmit_cap":          defaults.RetransmitCap.String(),
		"max_attempts":            defaults.MaxAttempts,
		"reassembly_ttl":          defaults.ReassemblyTTL.String(),
		"report_rfc7752_url":      defaults.ReportRFC7752URL,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidLocalID indicates local_id is empty or whitespace only.
	ErrInvalidLocalID = errors.New("local_id must not be empty")

	// ErrInvalidMulticastMAC indicates hello_multicast_macaddr does not parse.
	ErrInvalidMulticastMAC = errors.New("hello_multicast_macaddr is invalid")

	// ErrInvalidHelloInterval indicates hello_interval is not positive.
	ErrInvalidHelloInterval = errors.New("hello_interval must be > 0")

	// ErrInvalidKeepaliveInterval indicates keepalive_interval is not positive.
	ErrInvalidKeepaliveInterval = errors.New("keepalive_interval must be > 0")

	// ErrInvalidHoldTime indicates hold_time is not positive.
	ErrInvalidHoldTime = errors.New("hold_time must be > 0")

	// ErrInvalidRetransmitBase indicates retransmit_base is not positive.
	ErrInvalidRetransmitBase = errors.New("retransmit_base must be > 0")

	// ErrInvalidRetransmitCap indicates retransmit_cap is smaller than retransmit_base.
	ErrInvalidRetransmitCap = errors.New("retransmit_cap must be >= retransmit_base")

	// ErrInvalidMaxAttempts indicates max_attempts is not positive.
	ErrInvalidMaxAttempts = errors.New("max_attempts must be >= 1")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.LocalID) == "" {
		return ErrInvalidLocalID
	}

	if _, err := cfg.HelloMulticastMAC(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMulticastMAC, err)
	}

	if cfg.HelloInterval <= 0 {
		return ErrInvalidHelloInterval
	}

	if cfg.KeepaliveInterval <= 0 {
		return ErrInvalidKeepaliveInterval
	}

	if cfg.HoldTime <= 0 {
		return ErrInvalidHoldTime
	}

	if cfg.RetransmitBase <= 0 {
		return ErrInvalidRetransmitBase
	}

	if cfg.RetransmitCap < cfg.RetransmitBase {
		return ErrInvalidRetransmitCap
	}

	if cfg.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
