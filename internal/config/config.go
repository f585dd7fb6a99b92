// Package config assembles the forwarder's runtime configuration from
// CLI flags and an optional YAML file, the way cmd/dnsscienced/main.go
// declares package-scope flag.* variables and internal/zone's
// yaml-tagged structs load an optional file.
package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved set of options the forwarder runs with.
type Config struct {
	DNSRelay          string        `yaml:"dns_relay"`
	BindAddress       string        `yaml:"bind_address"`
	BindPort          uint16        `yaml:"bind_port"`
	Benchmark         bool          `yaml:"benchmark"`
	ResolutionDelayMS uint64        `yaml:"resolution_delay_ms"`
	CachingEnabled    bool          `yaml:"caching_enabled"`
	BlockedDomains    []string      `yaml:"blocked_domains"`
	DomainBlacklists  []string      `yaml:"domain_blacklists"`
	RecordingFolder   string        `yaml:"recording_folder"`
	Quiet             bool          `yaml:"quiet"`
	Workers           int           `yaml:"workers"`
	RateLimit         float64       `yaml:"rate_limit"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	Stats             bool          `yaml:"stats"`

	// ResolutionDelay is ResolutionDelayMS as a time.Duration, derived
	// after parsing.
	ResolutionDelay time.Duration `yaml:"-"`
}

func defaultWorkers() int {
	w := runtime.NumCPU() / 2
	if w < 1 {
		w = 1
	}
	return w
}

// fileConfig mirrors Config's YAML-settable fields with pointer types
// so an absent key in the file can be distinguished from an explicit
// zero value, the way internal/zone's loader distinguishes "not set in
// file" from "set to zero".
type fileConfig struct {
	DNSRelay          *string  `yaml:"dns_relay"`
	BindAddress       *string  `yaml:"bind_address"`
	BindPort          *uint16  `yaml:"bind_port"`
	Benchmark         *bool    `yaml:"benchmark"`
	ResolutionDelayMS *uint64  `yaml:"resolution_delay_ms"`
	CachingEnabled    *bool    `yaml:"caching_enabled"`
	BlockedDomains    []string `yaml:"blocked_domains"`
	DomainBlacklists  []string `yaml:"domain_blacklists"`
	RecordingFolder   *string  `yaml:"recording_folder"`
	Quiet             *bool    `yaml:"quiet"`
	Workers           *int     `yaml:"workers"`
	RateLimit         *float64 `yaml:"rate_limit"`
	MetricsAddr       *string  `yaml:"metrics_addr"`
	Stats             *bool    `yaml:"stats"`
}

// loadFile reads and applies a YAML file onto cfg. Fields present in
// the file are applied; explicitly set CLI flags are applied afterward
// and win over anything the file sets (Parse calls loadFile before
// walking flag.Visit, see Parse below).
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.DNSRelay != nil {
		cfg.DNSRelay = *fc.DNSRelay
	}
	if fc.BindAddress != nil {
		cfg.BindAddress = *fc.BindAddress
	}
	if fc.BindPort != nil {
		cfg.BindPort = *fc.BindPort
	}
	if fc.Benchmark != nil {
		cfg.Benchmark = *fc.Benchmark
	}
	if fc.ResolutionDelayMS != nil {
		cfg.ResolutionDelayMS = *fc.ResolutionDelayMS
	}
	if fc.CachingEnabled != nil {
		cfg.CachingEnabled = *fc.CachingEnabled
	}
	if len(fc.BlockedDomains) > 0 {
		cfg.BlockedDomains = fc.BlockedDomains
	}
	if len(fc.DomainBlacklists) > 0 {
		cfg.DomainBlacklists = fc.DomainBlacklists
	}
	if fc.RecordingFolder != nil {
		cfg.RecordingFolder = *fc.RecordingFolder
	}
	if fc.Quiet != nil {
		cfg.Quiet = *fc.Quiet
	}
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	if fc.RateLimit != nil {
		cfg.RateLimit = *fc.RateLimit
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.Stats != nil {
		cfg.Stats = *fc.Stats
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse builds a Config from fs (normally flag.CommandLine) parsed
// against args, applying an optional -config YAML file underneath the
// explicitly-set flags. fs must not have been parsed already.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		DNSRelay:          "1.1.1.1:53",
		BindAddress:       "0.0.0.0",
		BindPort:          53000,
		ResolutionDelayMS: 500,
		CachingEnabled:    true,
		Workers:           defaultWorkers(),
		Stats:             true,
	}

	var (
		configFile       = fs.String("config", "", "optional YAML config file")
		dnsRelay         = fs.String("dns-relay", cfg.DNSRelay, "upstream resolver UDP address")
		bindAddress      = fs.String("bind-address", cfg.BindAddress, "receiving-socket bind address")
		bindPort         = fs.Uint("bind-port", uint(cfg.BindPort), "receiving-socket bind port")
		benchmark        = fs.Bool("benchmark", cfg.Benchmark, "enable stub/benchmark mode")
		resolutionDelay  = fs.Uint64("resolution-delay-ms", cfg.ResolutionDelayMS, "stub-mode delay in milliseconds")
		cachingEnabled   = fs.Bool("caching-enabled", cfg.CachingEnabled, "enable the reply cache")
		blockedDomains   = fs.String("blocked-domains", "", "comma-separated exact domain names to block")
		domainBlacklists = fs.String("domain-blacklists", "", "comma-separated remote blocklist URIs")
		recordingFolder  = fs.String("recording-folder", "", "if set, record every received client datagram here")
		quiet            = fs.Bool("quiet", cfg.Quiet, "suppress per-query logs")
		workers          = fs.Int("workers", cfg.Workers, "acceptor goroutine count")
		rateLimit        = fs.Float64("rate-limit", cfg.RateLimit, "per-client queries/sec, 0 disables")
		metricsAddr      = fs.String("metrics-addr", "", "if set, serve Prometheus /metrics on this address")
		stats            = fs.Bool("stats", cfg.Stats, "print periodic stats")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		if err := loadFile(*configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Flags explicitly set on the command line override the file;
	// flags left at their default are only applied if the file didn't
	// already set that field (loadFile ran first, so cfg already holds
	// the file's value — explicit flags below always win because
	// flag.Visit only reports flags the user actually passed).
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dns-relay":
			cfg.DNSRelay = *dnsRelay
		case "bind-address":
			cfg.BindAddress = *bindAddress
		case "bind-port":
			cfg.BindPort = uint16(*bindPort)
		case "benchmark":
			cfg.Benchmark = *benchmark
		case "resolution-delay-ms":
			cfg.ResolutionDelayMS = *resolutionDelay
		case "caching-enabled":
			cfg.CachingEnabled = *cachingEnabled
		case "blocked-domains":
			cfg.BlockedDomains = splitCSV(*blockedDomains)
		case "domain-blacklists":
			cfg.DomainBlacklists = splitCSV(*domainBlacklists)
		case "recording-folder":
			cfg.RecordingFolder = *recordingFolder
		case "quiet":
			cfg.Quiet = *quiet
		case "workers":
			cfg.Workers = *workers
		case "rate-limit":
			cfg.RateLimit = *rateLimit
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "stats":
			cfg.Stats = *stats
		}
	})

	cfg.ResolutionDelay = time.Duration(cfg.ResolutionDelayMS) * time.Millisecond
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}
