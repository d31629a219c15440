package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/izzymg/spellserver/internal/sim"
)

type appConfig struct {
	listenAddr       string
	password         string
	logFormat        string
	logLevel         string
	metricsAddr      string
	logMetricsEvery  time.Duration
	maxInboundQueue  int
	maxOutboundQueue int
	tickRate         int
	mdnsEnable       bool
	mdnsName         string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", "0.0.0.0:7776", "TCP listen address")
	password := flag.String("password", "", "Required client password; empty disables the password gate")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxInboundQueue := flag.Int("inbound-queue", 1024, "Bounded channel capacity from the network loop to the simulation scheduler")
	maxOutboundQueue := flag.Int("outbound-queue", 1024, "Bounded channel capacity from the simulation scheduler to the network loop")
	tickRate := flag.Int("tick-rate", sim.DefaultTickRate, "Simulation ticks per second")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi LAN advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default spellserver-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.password = *password
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxInboundQueue = *maxInboundQueue
	cfg.maxOutboundQueue = *maxOutboundQueue
	cfg.tickRate = *tickRate
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.maxInboundQueue <= 0 {
		return fmt.Errorf("inbound-queue must be > 0 (got %d)", c.maxInboundQueue)
	}
	if c.maxOutboundQueue <= 0 {
		return fmt.Errorf("outbound-queue must be > 0 (got %d)", c.maxOutboundQueue)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.tickRate <= 0 {
		return fmt.Errorf("tick-rate must be > 0 (got %d)", c.tickRate)
	}
	return nil
}

// applyEnvOverrides maps SPELLSERVER_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("SPELLSERVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["password"]; !ok {
		if v, ok := get("SPELLSERVER_PASSWORD"); ok {
			c.password = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SPELLSERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("SPELLSERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SPELLSERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["inbound-queue"]; !ok {
		if v, ok := get("SPELLSERVER_INBOUND_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxInboundQueue = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPELLSERVER_INBOUND_QUEUE: %w", err)
			}
		}
	}
	if _, ok := set["outbound-queue"]; !ok {
		if v, ok := get("SPELLSERVER_OUTBOUND_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxOutboundQueue = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPELLSERVER_OUTBOUND_QUEUE: %w", err)
			}
		}
	}
	if _, ok := set["tick-rate"]; !ok {
		if v, ok := get("SPELLSERVER_TICK_RATE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.tickRate = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPELLSERVER_TICK_RATE: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SPELLSERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("SPELLSERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SPELLSERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPELLSERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
