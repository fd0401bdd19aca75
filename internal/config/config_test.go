package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	cases := []struct {
		input     string
		expect    time.Duration
		shouldErr bool
	}{
		{"10s", 10 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1m30s", 90 * time.Second, false},
		{"15", 15 * time.Second, false},
		{"0", 0, false},
		{"bad", 0, true},
	}
	for _, c := range cases {
		var d Duration
		err := d.UnmarshalYAML(&yaml.Node{Value: c.input})
		if c.shouldErr && err == nil {
			t.Errorf("expected error for input %q", c.input)
		}
		if !c.shouldErr && (err != nil || d.Duration() != c.expect) {
			t.Errorf("input %q: got %v, want %v (err %v)", c.input, d.Duration(), c.expect, err)
		}
	}
}

func TestSizeUnmarshalYAML(t *testing.T) {
	cases := []struct {
		input     string
		expect    int64
		shouldErr bool
	}{
		{"512KB", 512 << 10, false},
		{"10MB", 10 << 20, false},
		{"1GB", 1 << 30, false},
		{"100", 100, false},
		{"bad", 0, true},
		{"", 0, true},
		{"10XB", 0, true},
	}
	for _, c := range cases {
		var s Size
		err := s.UnmarshalYAML(&yaml.Node{Value: c.input})
		if c.shouldErr && err == nil {
			t.Errorf("expected error for input %q", c.input)
		}
		if !c.shouldErr && (err != nil || int64(s) != c.expect) {
			t.Errorf("input %q: got %d, want %d (err %v)", c.input, s, c.expect, err)
		}
	}
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Port != 1080 || !c.TCP.NoDelay || c.TCP.ConnectTimeout.Duration() != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Upstream != "direct://" || c.Log.Level != "info" || c.Log.MaxSizeMB != 20 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.ListenAddr() != ":1080" {
		t.Fatalf("got %s", c.ListenAddr())
	}
}

func TestLoad(t *testing.T) {
	yml := `
listen: 127.0.0.1
port: 9050
tcp:
  fast_open: true
  connect_timeout: 3s
negotiation_timeout: 5
upstream: socks5://127.0.0.1:1081
dns:
  server: 1.1.1.1
rate_limit: 512KB
log:
  level: warning
  file: /tmp/mixproxy.log
`
	path := filepath.Join(t.TempDir(), "mixproxy.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}

	if c.ListenAddr() != "127.0.0.1:9050" {
		t.Errorf("listen addr %s", c.ListenAddr())
	}
	if !c.TCP.FastOpen || c.TCP.ConnectTimeout.Duration() != 3*time.Second {
		t.Errorf("tcp %+v", c.TCP)
	}
	// Keys absent from the file keep their defaults.
	if !c.TCP.NoDelay || c.TCP.PersistTimeout.Duration() != 10*time.Second {
		t.Errorf("tcp defaults lost: %+v", c.TCP)
	}
	if c.NegotiationTimeout.Duration() != 5*time.Second {
		t.Errorf("negotiation timeout %v", c.NegotiationTimeout.Duration())
	}
	if c.DNS.Server != "1.1.1.1" || c.DNS.CacheTTLCap.Duration() != 5*time.Minute {
		t.Errorf("dns %+v", c.DNS)
	}
	if c.RateLimit != 512<<10 {
		t.Errorf("rate limit %d", c.RateLimit)
	}
	if c.Log.Level != "warning" || c.Log.File != "/tmp/mixproxy.log" || c.Log.MaxBackups != 5 {
		t.Errorf("log %+v", c.Log)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: 70000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for out of range port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative timeout", func(c *Config) { c.TCP.ConnectTimeout = Duration(-time.Second) }},
		{"negative rate limit", func(c *Config) { c.RateLimit = -1 }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad upstream", func(c *Config) { c.Upstream = "http://[::1" }},
		{"bad keepalive", func(c *Config) { c.TCP.KeepAlive = "sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseKeepAlive(t *testing.T) {
	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: "OFF", want: net.KeepAliveConfig{}},
		{in: "45:15:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 15 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "a:1:1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseKeepAlive(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err=%v wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %+v want %+v", tt.in, got, tt.want)
		}
	}
}
