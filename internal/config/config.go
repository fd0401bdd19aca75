// Package config holds the mixproxy configuration: built-in defaults, an
// optional YAML file and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts a Go duration string ("10s", "1m30s") or a bare integer
// meaning seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses s as a Go duration, or as whole seconds when s is a
// plain integer.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Size is a byte count written as a plain integer or with a KB, MB or GB
// suffix (powers of 1024).
type Size int64

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseSize(value.Value)
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

func ParseSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty size string")
	}

	multiplier := int64(1)
	num := raw
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
	} {
		if strings.HasSuffix(raw, u.suffix) {
			multiplier = u.mult
			num = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix))
			break
		}
	}

	v, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q (want an integer with optional KB, MB or GB)", raw)
	}
	return v * multiplier, nil
}

type TCP struct {
	FastOpen       bool     `yaml:"fast_open"`
	KeepAlive      string   `yaml:"keep_alive"` // on|off|keepidle:keepintvl:keepcnt
	NoDelay        bool     `yaml:"no_delay"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	PersistTimeout Duration `yaml:"persist_timeout"`
}

type DNS struct {
	// Server is "host" or "host:port"; empty uses the system resolver.
	Server      string   `yaml:"server"`
	CacheTTLCap Duration `yaml:"cache_ttl_cap"`
}

type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Listen             string   `yaml:"listen"`
	Port               uint16   `yaml:"port"`
	TCP                TCP      `yaml:"tcp"`
	NegotiationTimeout Duration `yaml:"negotiation_timeout"`
	Upstream           string   `yaml:"upstream"`
	DNS                DNS      `yaml:"dns"`
	RateLimit          Size     `yaml:"rate_limit"`
	Log                Log      `yaml:"log"`
	DebugListen        string   `yaml:"debug_listen"`
}

const DefaultPort = 1080

func Default() Config {
	return Config{
		Port: DefaultPort,
		TCP: TCP{
			KeepAlive:      "off",
			NoDelay:        true,
			ConnectTimeout: Duration(10 * time.Second),
			PersistTimeout: Duration(10 * time.Second),
		},
		NegotiationTimeout: Duration(10 * time.Second),
		Upstream:           "direct://",
		DNS: DNS{
			CacheTTLCap: Duration(5 * time.Minute),
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	err := cfg.LoadFile(path)
	return cfg, err
}

// LoadFile reads the YAML file at path over c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var levels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func (c *Config) Validate() error {
	var errs []error

	for name, d := range map[string]Duration{
		"tcp.connect_timeout": c.TCP.ConnectTimeout,
		"tcp.persist_timeout": c.TCP.PersistTimeout,
		"negotiation_timeout": c.NegotiationTimeout,
		"dns.cache_ttl_cap":   c.DNS.CacheTTLCap,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if !levels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	if _, err := ParseKeepAlive(c.TCP.KeepAlive); err != nil {
		errs = append(errs, fmt.Errorf("tcp.keep_alive: %w", err))
	}
	if _, err := url.Parse(c.Upstream); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}

	return errors.Join(errs...)
}

// ListenAddr is the host:port the proxy listens on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(int(c.Port)))
}

// ParseKeepAlive parses on, off or keepidle:keepintvl:keepcnt (seconds,
// seconds, probes).
func ParseKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositive(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositive(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositive(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
