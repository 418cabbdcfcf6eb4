// Command swimd runs a single SWIM membership / Slush-Snowball consensus
// node: it binds an address, optionally bootstraps against a seed, and
// runs the protocol tick until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodecluster/swimd/internal/transport"
	"github.com/nodecluster/swimd/internal/watchdog"
	"github.com/nodecluster/swimd/pkg/swim"
)

var (
	version = "dev"
	commit  = "unknown"

	// osExit is a seam for tests that exercise the fatal-argument paths
	// without killing the test process.
	osExit = os.Exit
)

// exitSentinel is the panic value a test's osExit override uses to unwind
// out of main without actually terminating the process.
type exitSentinel int

func main() {
	fs := flag.NewFlagSet("swimd", flag.ExitOnError)
	addressFlag := fs.String("address", "", "IP:PORT to bind and advertise (required)")
	fs.StringVar(addressFlag, "a", "", "shorthand for -address")
	bootstrapFlag := fs.String("bootstrap", "", "IP:PORT of a seed to join")
	fs.StringVar(bootstrapFlag, "b", "", "shorthand for -bootstrap")
	delayFlag := fs.Int("delay", 0, "artificial handler delay in milliseconds, for testing")
	fs.IntVar(delayFlag, "d", 0, "shorthand for -delay")
	metricsAddrFlag := fs.String("metrics-address", "", "optional IP:PORT to serve Prometheus metrics on")
	logLevelFlag := fs.String("log-level", "", "log level: debug, info, warn, error (default: SWIM_LOG env or info)")
	fs.Parse(os.Args[1:])

	setupLogging(*logLevelFlag)

	if *addressFlag == "" {
		fmt.Fprintln(os.Stderr, "swimd: -address is required")
		fs.Usage()
		osExit(1)
		return
	}

	self, err := swim.ParseAddress(*addressFlag)
	if err != nil {
		fatal("invalid -address: %v", err)
	}

	client := transport.NewClient()
	engine := swim.NewEngine(self, client, swim.NewSnowball(self), time.Duration(*delayFlag)*time.Millisecond)

	server, err := transport.Listen(self, engine)
	if err != nil {
		fatal("failed to listen on %s: %v", self.String(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Serve(ctx); err != nil {
			slog.Error("swimd: server stopped", "err", err)
		}
	}()

	if *metricsAddrFlag != "" {
		startMetricsServer(*metricsAddrFlag, engine)
	}

	if *bootstrapFlag != "" {
		seed, err := swim.ParseAddress(*bootstrapFlag)
		if err != nil {
			fatal("invalid -bootstrap: %v", err)
		}
		engine.Bootstrap(ctx, seed)
	}

	go engine.Run(ctx, swim.ProtocolPeriod)

	if err := watchdog.Ready(); err != nil {
		slog.Warn("swimd: sd_notify READY failed", "err", err)
	}
	go watchdog.Run(ctx, watchdog.Config{Interval: 10 * swim.ProtocolPeriod}, []watchdog.HealthCheck{
		{Name: "protocol-tick", Check: func() error { return tickIsFresh(engine) }},
	})

	slog.Info("swimd: running", "address", self.String(), "version", version, "commit", commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("swimd: shutting down")
	watchdog.Stopping()
	cancel()
	server.Close()
}

// tickIsFresh reports an error if the protocol loop hasn't completed a
// tick within the last 5 periods, which would indicate Run has stalled or
// exited unexpectedly.
func tickIsFresh(engine *swim.Engine) error {
	last := engine.LastTick()
	if last.IsZero() {
		return nil
	}
	if age := time.Since(last); age > 5*swim.ProtocolPeriod {
		return fmt.Errorf("protocol tick stalled for %s", age)
	}
	return nil
}

// setupLogging installs the default slog handler at a level taken from
// -log-level, falling back to the SWIM_LOG environment variable, falling
// back to info.
func setupLogging(levelFlag string) {
	levelStr := levelFlag
	if levelStr == "" {
		levelStr = os.Getenv("SWIM_LOG")
	}
	level := slog.LevelInfo
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func startMetricsServer(addr string, engine *swim.Engine) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(engine.Metrics().Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("swimd: metrics server failed", "err", err)
		}
	}()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(1)
}
