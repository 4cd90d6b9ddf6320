package main

import (
	"flag"
	"log"
	"os"

	"github.com/veesix-networks/odp/pkg/config"
	"github.com/veesix-networks/odp/pkg/logger"
	"github.com/veesix-networks/odp/pkg/metrics"
	"github.com/veesix-networks/odp/pkg/odptext"
	"github.com/veesix-networks/odp/pkg/version"
)

func main() {
	configPath := flag.String("config", "configs/bench.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Configure(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Components)

	benchLog := logger.Get(logger.ComponentBench)
	benchLog.Info("Starting odpbench",
		"version", version.Version,
		"scenarios", len(cfg.Bench.Scenarios),
		"batch_size", cfg.Bench.BatchSize,
		"iterations", cfg.Bench.Iterations)

	if len(cfg.Bench.Scenarios) == 0 {
		benchLog.Error("No benchmark scenarios configured")
		os.Exit(1)
	}

	ports := odptext.NewPortMap()
	for _, p := range cfg.Ports {
		ports.Add(p.Name, p.Number)
	}

	m := metrics.New()
	if cfg.Bench.MetricsAddress != "" {
		go func() {
			if err := m.Serve(cfg.Bench.MetricsAddress); err != nil {
				benchLog.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	failed := false
	for _, sc := range cfg.Bench.Scenarios {
		res, err := runScenario(ports, m, &cfg.Bench, &sc)
		if err != nil {
			benchLog.Error("Scenario failed", "scenario", sc.Name, "error", err)
			failed = true
			continue
		}
		benchLog.Info("Scenario complete",
			"scenario", sc.Name,
			"batches", res.batches,
			"packets", res.packets,
			"elapsed", res.elapsed,
			"pkts_per_sec", res.packetsPerSec())
	}
	if failed {
		os.Exit(1)
	}
}
