// lsoed is the Link-State over Ethernet daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arrcus/lsoe/internal/config"
	"github.com/arrcus/lsoe/internal/engine"
	lsoemetrics "github.com/arrcus/lsoe/internal/metrics"
	"github.com/arrcus/lsoe/internal/netio"
	"github.com/arrcus/lsoe/internal/northbound"
	"github.com/arrcus/lsoe/internal/session"
	appversion "github.com/arrcus/lsoe/internal/version"
)

// pollInterval is how often Engine.Run ticks outside of interface-monitor
// events (spec §4.6).
const pollInterval = 200 * time.Millisecond

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "lsoed",
		Short:         "Link-State over Ethernet daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(configPath, logLevel)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("bad configuration", slog.String("error", err.Error()))
			return 2
		}
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("lsoed exited with error", slog.String("error", err.Error()))
		return 1
	}

	return 0
}

// configError marks an error originating from configuration loading or
// validation, so run() can map it to exit code 2 (spec §6).
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func runDaemon(configPath, logLevelOverride string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return &configError{err}
	}

	levelName := cfg.Log.Level
	if logLevelOverride != "" {
		levelName = logLevelOverride
	}
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(levelName))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("lsoed starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := lsoemetrics.NewCollector(reg)

	engineCfg, err := toEngineConfig(cfg)
	if err != nil {
		return &configError{err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := netio.NewNetlinkInterfaceMonitor(logger, cfg.Interfaces)
	defer monitor.Close()

	// northbound.PushNotifier needs a SnapshotSource backed by the engine
	// itself, but NewEngine needs a Notifier up front: engineHandle defers
	// the reference until the engine exists.
	handle := &engineHandle{}
	var notifier engine.Notifier = engine.NoopNotifier{}
	if cfg.ReportRFC7752URL != "" {
		pusher := northbound.NewPusher(northbound.PusherConfig{URL: cfg.ReportRFC7752URL}, logger)
		defer pusher.Close()
		notifier = northbound.NewPushNotifier(pusher, handle, logger)
	}

	newConn := func(ifName string, etherType uint16) (netio.PacketConn, error) {
		return netio.NewRawEthernetConn(ifName, etherType)
	}
	eng := engine.NewEngine(engineCfg, logger, newConn, collector, notifier)
	handle.eng = eng

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return monitor.Run(gCtx)
	})

	g.Go(func() error {
		return eng.Run(gCtx, monitor, pollInterval)
	})

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return shutdownServers(context.WithoutCancel(ctx), logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}

	logger.Info("lsoed stopped")
	return nil
}

// engineHandle satisfies northbound.SnapshotSource by forwarding to an
// *engine.Engine set after construction (see runDaemon).
type engineHandle struct {
	eng *engine.Engine
}

func (h *engineHandle) Sessions() map[session.PeerKey]*session.Session { return h.eng.Sessions() }
func (h *engineHandle) InterfaceNames() map[int]string                 { return h.eng.InterfaceNames() }

// toEngineConfig translates a loaded config.Config into engine.Config,
// resolving the string fields (local ID, multicast MAC) into their wire
// forms.
func toEngineConfig(cfg *config.Config) (engine.Config, error) {
	mac, err := cfg.HelloMulticastMAC()
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		LocalID:           cfg.LocalIDBytes(),
		EtherType:         cfg.EtherType,
		HelloMulticastMAC: mac,
		HelloInterval:     cfg.HelloInterval,
		KeepaliveInterval: cfg.KeepaliveInterval,
		HoldTime:          cfg.HoldTime,
		Retransmit: session.RetransmitParams{
			Base:        cfg.RetransmitBase,
			Cap:         cfg.RetransmitCap,
			MaxAttempts: cfg.MaxAttempts,
		},
		ReassemblyTTL: cfg.ReassemblyTTL,
		Interfaces:    cfg.Interfaces,
	}, nil
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLogger creates a structured logger honoring the configured format.
func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe creates a TCP listener and serves HTTP requests until the
// server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// shutdownServers performs an orderly shutdown of the given HTTP servers.
func shutdownServers(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}
