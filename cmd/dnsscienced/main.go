package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dnsscience/dnsscienced/internal/eventbus"
	"github.com/dnsscience/dnsscienced/internal/metrics"
	"github.com/dnsscience/dnsscienced/internal/store"
	"github.com/dnsscience/dnsscienced/internal/transport"
	"github.com/dnsscience/dnsscienced/internal/zone"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type zoneFlag struct {
	entries map[string]string
}

func (z *zoneFlag) String() string {
	if z == nil {
		return ""
	}
	parts := make([]string, 0, len(z.entries))
	for name, file := range z.entries {
		parts = append(parts, name+"="+file)
	}
	return strings.Join(parts, ",")
}

func (z *zoneFlag) Set(value string) error {
	origin, file, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("zone flag %q: expected name=path/to/file", value)
	}
	if z.entries == nil {
		z.entries = make(map[string]string)
	}
	z.entries[origin] = file
	return nil
}

var (
	listen       = flag.String("listen", ":53", "UDP and TCP listen address")
	udpListeners = flag.Int("workers", runtime.NumCPU(), "UDP listener count (SO_REUSEPORT) and AXFR worker-pool size")
	rateLimit    = flag.Float64("rate-limit", 0, "Queries per second per source IP; 0 disables")
	apiListen    = flag.String("api-listen", "", "Address for the Prometheus telemetry endpoint (empty disables)")
	cookieSecret = flag.String("cookie-secret", "", "Shared DNS Cookie secret, 16+ bytes, for load-balanced deployments; empty generates a per-process key")
	zones        zoneFlag
)

func init() {
	flag.Var(&zones, "zone", "name=file pair for a zone to load; may be repeated")
}

func main() {
	flag.Parse()

	logger := log.New(os.Stderr, "dnsscienced ", log.LstdFlags)

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║            dnsscienced - authoritative name service          ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	if len(zones.entries) == 0 {
		fmt.Fprintln(os.Stderr, "at least one -zone name=file is required")
		os.Exit(1)
	}

	zoneCfg := zone.DefaultConfig()
	loaded := make([]*zone.Zone, 0, len(zones.entries))
	for origin, file := range zones.entries {
		z, err := zone.ParseBIND(file, origin, zoneCfg)
		if err != nil {
			logger.Fatalf("parse zone %s (%s): %v", origin, file, err)
		}
		loaded = append(loaded, z)
		logger.Printf("loaded zone %s from %s (%d records)", z.Origin, file, z.GetStats().Records)
	}

	initial, err := store.Build(loaded)
	if err != nil {
		logger.Fatalf("build zone store: %v", err)
	}
	mgr := store.NewManager(initial)

	var sink metrics.Sink
	if *apiListen != "" {
		sink = metrics.NewPrometheus(prometheus.DefaultRegisterer)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*apiListen, mux); err != nil {
				logger.Printf("telemetry endpoint: %v", err)
			}
		}()
	} else {
		sink = metrics.NewNoop()
	}

	bus := eventbus.New(16)
	logReloadEvents(logger, bus)

	cfg := transport.DefaultConfig()
	cfg.UDPAddr = *listen
	cfg.TCPAddr = *listen
	cfg.UDPListeners = *udpListeners
	cfg.AXFRWorkers = *udpListeners
	cfg.RateLimitQPS = *rateLimit
	if *cookieSecret != "" {
		cfg.CookieSecret = []byte(*cookieSecret)
	}

	srv, err := transport.New(cfg, mgr, sink, bus)
	if err != nil {
		logger.Fatalf("build transport: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		logger.Fatalf("bind listeners: %v", err)
	}

	logger.Printf("listening on %s (udp x%d, tcp)", *listen, cfg.UDPListeners)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Println("SIGHUP received, reloading zones")
			if err := transport.Reload(ctx, mgr, bus, zones.entries, zoneCfg); err != nil {
				logger.Printf("reload failed, keeping previous zones: %v", err)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println()

	logger.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("error during shutdown: %v", err)
	}
}

func logReloadEvents(logger *log.Logger, bus *eventbus.Bus) {
	sub := bus.Subscribe(context.Background(), eventbus.TopicZone)
	go func() {
		for ev := range sub.Ch {
			logger.Printf("zone event: %v", ev.Data)
		}
	}()
}
