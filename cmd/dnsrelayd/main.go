package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dnsrelay/dnsrelayd/internal/assoc"
	"github.com/dnsrelay/dnsrelayd/internal/blocklist"
	"github.com/dnsrelay/dnsrelayd/internal/cache"
	"github.com/dnsrelay/dnsrelayd/internal/config"
	"github.com/dnsrelay/dnsrelayd/internal/fetch"
	"github.com/dnsrelay/dnsrelayd/internal/fingerprint"
	"github.com/dnsrelay/dnsrelayd/internal/forwarder"
	"github.com/dnsrelay/dnsrelayd/internal/metrics"
	"github.com/dnsrelay/dnsrelayd/internal/ratelimit"
	"github.com/dnsrelay/dnsrelayd/internal/recorder"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║                dnsrelayd - DNS Forwarding Relay               ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Upstream resolver: %s\n", cfg.DNSRelay)
	fmt.Printf("  Bind address:      %s:%d\n", cfg.BindAddress, cfg.BindPort)
	fmt.Printf("  Workers:           %d\n", cfg.Workers)
	fmt.Printf("  Caching enabled:   %v\n", cfg.CachingEnabled)
	fmt.Printf("  Benchmark mode:    %v\n", cfg.Benchmark)
	if cfg.Benchmark {
		fmt.Printf("  Resolution delay:  %s\n", cfg.ResolutionDelay)
	}
	fmt.Printf("  Blocked domains:   %d explicit, %d remote list(s)\n", len(cfg.BlockedDomains), len(cfg.DomainBlacklists))
	if cfg.RecordingFolder != "" {
		fmt.Printf("  Recording folder:  %s\n", cfg.RecordingFolder)
	}
	if cfg.RateLimit > 0 {
		fmt.Printf("  Rate limit:        %.1f qps/client\n", cfg.RateLimit)
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics address:   %s\n", cfg.MetricsAddr)
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	blocked, loadErrs := blocklist.Load(ctx, cfg.BlockedDomains, cfg.DomainBlacklists, fetch.NewHTTPFetcher(0))
	cancel()
	for _, e := range loadErrs {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", e)
	}
	fmt.Printf("Loaded %d blocked domain(s)\n", blocked.Len())

	var rec *recorder.Recorder
	if cfg.RecordingFolder != "" {
		rec, err = recorder.Open(cfg.RecordingFolder)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening recording folder: %v\n", err)
			os.Exit(1)
		}
		defer rec.Close()
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	var c *cache.Cache
	if cfg.CachingEnabled {
		c = cache.New(cache.Config{}, fingerprint.New())
		defer c.Close()
	}

	limiter := ratelimit.New(ratelimit.Config{QueriesPerSecond: cfg.RateLimit})
	assocMap := assoc.New()

	fwdCfg := forwarder.Config{
		Workers:         cfg.Workers,
		Benchmark:       cfg.Benchmark,
		ResolutionDelay: cfg.ResolutionDelay,
		CachingEnabled:  cfg.CachingEnabled,
		Quiet:           cfg.Quiet,
	}
	bindAddr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort)
	fwd, err := forwarder.New(fwdCfg, bindAddr, cfg.DNSRelay, assocMap, c, blocked, limiter, rec, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating forwarder: %v\n", err)
		os.Exit(1)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	fwd.Start(runCtx)

	fmt.Println("dnsrelayd started successfully!")
	fmt.Println()

	if cfg.Stats {
		go printStats(fwd, assocMap)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	fmt.Println()

	runCancel()
	if err := fwd.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping forwarder: %v\n", err)
		os.Exit(1)
	}
}

func printStats(fwd *forwarder.Forwarder, assocMap *assoc.Map) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastQueries := uint64(0)
	lastTime := time.Now()

	for range ticker.C {
		stats := fwd.GetStats()
		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()
		qps := float64(stats.Queries-lastQueries) / elapsed

		fmt.Printf("═══════════════════════════════════════════════════════════\n")
		fmt.Printf("Statistics (%.1fs interval):\n", elapsed)
		fmt.Printf("  Queries:    %10d  (%.0f qps)\n", stats.Queries, qps)
		fmt.Printf("  Answers:    %10d\n", stats.Answers)
		fmt.Printf("  Blocked:    %10d\n", stats.Blocked)
		fmt.Printf("  Errors:     %10d\n", stats.Errors)
		fmt.Printf("  Orphaned:   %10d\n", stats.Orphaned)
		fmt.Printf("  Pending:    %10d\n", assocMap.Len())
		fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

		lastQueries = stats.Queries
		lastTime = now
	}
}
