package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DNSRelay != "1.1.1.1:53" {
		t.Errorf("DNSRelay = %q", cfg.DNSRelay)
	}
	if cfg.BindPort != 53000 {
		t.Errorf("BindPort = %d", cfg.BindPort)
	}
	if !cfg.CachingEnabled {
		t.Error("CachingEnabled should default true")
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", cfg.Workers)
	}
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{
		"-dns-relay=8.8.8.8:53",
		"-blocked-domains=ads.example.net,tracker.example.com",
		"-benchmark",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DNSRelay != "8.8.8.8:53" {
		t.Errorf("DNSRelay = %q", cfg.DNSRelay)
	}
	if len(cfg.BlockedDomains) != 2 {
		t.Fatalf("BlockedDomains = %v", cfg.BlockedDomains)
	}
	if !cfg.Benchmark {
		t.Error("Benchmark should be true")
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "dns_relay: 9.9.9.9:53\nbind_port: 6000\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-config=" + path, "-bind-port=7000"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DNSRelay != "9.9.9.9:53" {
		t.Errorf("DNSRelay = %q, want file value", cfg.DNSRelay)
	}
	if cfg.BindPort != 7000 {
		t.Errorf("BindPort = %d, want flag override 7000", cfg.BindPort)
	}
}
