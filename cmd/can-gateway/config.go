package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/phnahes/can-gateway/internal/config"
)

// logMetricsEvery is a process-level diagnostic knob, not part of the
// vehicle topology document, so it stays a flag rather than a config.Config
// field.
var logMetricsEvery time.Duration

// loadConfig parses flags, loads the multi-bus YAML document they point at
// (or the documented defaults if none is given), layers explicit flag
// values on top, fills fields still empty from the environment, and
// validates the result.
// Mirrors the teacher's flag > env > default precedence, just with YAML
// standing in for the bulk of the teacher's individual CLI flags.
func loadConfig() (config.Config, bool, error) {
	path := flag.String("config", "", "path to the multi-bus YAML config file (defaults built in if omitted)")
	metricsAddr := flag.String("metrics-addr", "", "override metrics_addr (e.g. :9100)")
	httpAddr := flag.String("http-addr", "", "override http_addr for the read-only status API (e.g. :8080)")
	logFormat := flag.String("log-format", "", "override log_format: text|json")
	logLevel := flag.String("log-level", "", "override log_level: debug|info|warn|error")
	mdnsEnable := flag.Bool("mdns-enable", false, "enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "override mdns_name")
	logMetricsInterval := flag.Duration("log-metrics-interval", 0, "if >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	logMetricsEvery = *logMetricsInterval

	var cfg config.Config
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return config.Config{}, *showVersion, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *mdnsEnable {
		cfg.MDNSEnable = true
	}
	if *mdnsName != "" {
		cfg.MDNSName = *mdnsName
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return config.Config{}, *showVersion, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, *showVersion, nil
}
