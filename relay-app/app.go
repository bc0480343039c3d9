package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/compose-network/pdp-relay/metrics"
	"github.com/compose-network/pdp-relay/relay-app/config"
	apisrv "github.com/compose-network/pdp-relay/server/api"
	apimw "github.com/compose-network/pdp-relay/server/api/middleware"
	"github.com/compose-network/pdp-relay/x/device"
	"github.com/compose-network/pdp-relay/x/ingress"
	"github.com/compose-network/pdp-relay/x/pdpexplorer"
	periodrunner "github.com/compose-network/pdp-relay/x/period-runner"
	"github.com/compose-network/pdp-relay/x/queue"
	"github.com/compose-network/pdp-relay/x/reconciler"
	"github.com/compose-network/pdp-relay/x/tracker"
	trackerhttp "github.com/compose-network/pdp-relay/x/tracker/http"
)

const (
	shutdownTimeout = 10 * time.Second
	statsInterval   = 30 * time.Second
)

// App represents the status relay application
type App struct {
	cfg *config.Config
	log zerolog.Logger

	store *tracker.Store
	queue *queue.Queue

	// Device side
	port   device.Port
	writer *device.Writer

	// Ingress side
	receiver ingress.Receiver
	listener *ingress.Listener

	// Reconciliation
	reconciler *reconciler.Reconciler
	runner     periodrunner.Runner

	// API server (HTTP)
	apiServer *apisrv.Server

	wg          sync.WaitGroup
	shutdownFns []func() error
	cancel      context.CancelFunc
}

// Option overrides a component, mostly for tests.
type Option func(*App)

// WithPort uses port instead of opening the configured serial device.
func WithPort(port device.Port) Option {
	return func(a *App) { a.port = port }
}

// WithReceiver uses recv instead of the configured ingress transport.
func WithReceiver(recv ingress.Receiver) Option {
	return func(a *App) { a.receiver = recv }
}

// NewApp creates a new application instance.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: log,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initialize(ctx); err != nil {
		_ = a.runShutdownFns()
		return nil, err
	}

	return a, nil
}

func (a *App) initialize(ctx context.Context) error {
	a.store = tracker.NewStore()
	a.queue = queue.New(a.cfg.Queue.Capacity)

	if err := a.initializeDevice(); err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	if err := a.initializeIngress(ctx); err != nil {
		return fmt.Errorf("failed to initialize ingress: %w", err)
	}
	if err := a.initializeReconciler(); err != nil {
		return fmt.Errorf("failed to initialize reconciler: %w", err)
	}
	a.initializeAPI()

	return nil
}

func (a *App) initializeDevice() error {
	if a.port == nil {
		port, err := device.OpenSerial(device.SerialConfig{
			Path:     a.cfg.Device.Path,
			BaudRate: a.cfg.Device.BaudRate,
		})
		if err != nil {
			return err
		}
		a.port = port
	}
	a.shutdownFns = append(a.shutdownFns, a.port.Close)

	a.log.Info().
		Str("path", a.cfg.Device.Path).
		Int("baud_rate", a.cfg.Device.BaudRate).
		Msg("Serial device opened")

	a.writer = device.NewWriter(a.port, a.queue, device.Config{
		SettleDelay:  a.cfg.Device.SettleDelay,
		WriteTimeout: a.cfg.Device.WriteTimeout,
		StallTimeout: a.cfg.Device.StallTimeout,
	}, a.log)

	return nil
}

func (a *App) initializeIngress(ctx context.Context) error {
	if a.receiver == nil {
		var err error
		switch a.cfg.Ingress.Transport {
		case config.TransportNATS:
			a.receiver, err = ingress.NewNATSReceiver(ingress.NATSConfig{
				URL:           a.cfg.Ingress.NATS.URL,
				Subject:       a.cfg.Ingress.NATS.Subject,
				ReconnectWait: a.cfg.Ingress.NATS.ReconnectWait,
			}, a.log)
		default:
			a.receiver, err = ingress.NewZMQReceiver(ctx, a.cfg.Ingress.BindAddress, a.log)
		}
		if err != nil {
			return err
		}
	}
	a.shutdownFns = append(a.shutdownFns, a.receiver.Close)

	a.listener = ingress.NewListener(a.receiver, a.store, a.queue, ingress.Config{
		RejectMalformed: a.cfg.Ingress.RejectMalformed,
	}, a.log)

	return nil
}

func (a *App) initializeReconciler() error {
	if !a.cfg.Reconciler.Enabled {
		a.log.Warn().Msg("Reconciler disabled; only stage baselines will reach the device")
		return nil
	}

	client, err := pdpexplorer.NewClient(
		a.cfg.PDPExplorer.BaseURL,
		a.cfg.PDPExplorer.RootsLimit,
		&http.Client{Timeout: a.cfg.PDPExplorer.Timeout},
		a.log,
	)
	if err != nil {
		return err
	}

	a.reconciler = reconciler.New(a.store, client, a.queue, reconciler.Config{
		RequestTimeout: a.cfg.Reconciler.RequestTimeout,
	}, a.log)

	runnerCfg := periodrunner.DefaultRunnerConfig(a.log)
	runnerCfg.Interval = a.cfg.Reconciler.PollInterval
	runnerCfg.Handler = a.reconciler.Tick
	a.runner = periodrunner.NewLocalRunner(runnerCfg)

	return nil
}

func (a *App) initializeAPI() {
	if !a.cfg.API.Enabled {
		return
	}

	s := apisrv.NewServer(a.cfg.API, a.log)
	s.Use(apimw.RequestID())
	s.Use(apimw.Recover(a.log))
	s.Use(apimw.Logger(a.log, "/health", "/ready", a.cfg.Metrics.Path))

	// Health/readiness
	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	// Metrics
	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	// Tracked state
	var results trackerhttp.ResultSource
	if a.reconciler != nil {
		results = a.reconciler
	}
	stateHandler := trackerhttp.NewHandler(a.store, results, a.writer, a.queue, a.log)
	stateHandler.RegisterMux(s.Router)

	a.apiServer = s
}

// Run starts the application and blocks until shutdown. A fatal error from
// the ingress listener or device writer is returned after shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	fatal := make(chan error, 2)

	a.goRun("device-writer", func() error { return a.writer.Run(runCtx) }, fatal)
	a.goRun("ingress", func() error { return a.listener.Run(runCtx) }, fatal)

	if a.runner != nil {
		if err := a.runner.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
		a.log.Info().Dur("poll_interval", a.cfg.Reconciler.PollInterval).Msg("Reconciler started")
	}

	go a.statsReporter(runCtx)

	// Start API server
	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.Start(runCtx); err != nil {
				a.log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	return a.runWithGracefulShutdown(runCtx, fatal)
}

func (a *App) goRun(name string, fn func() error, fatal chan<- error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil {
			fatal <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context, fatal <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().
		Str("ingress", a.receiver.Addr()).
		Str("device", a.cfg.Device.Path).
		Msg("PDP status relay started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case runErr = <-fatal:
		a.log.Error().Err(runErr).Msg("Fatal error, initiating shutdown")
	}

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.shutdown(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// shutdown stops the poller, releases the socket and the device, and waits
// for the loops to return.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if a.runner != nil {
		if err := a.runner.Stop(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Reconciler shutdown error")
			errs = append(errs, err)
		}
	}

	a.queue.Close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.log.Warn().Msg("Timed out waiting for loops to stop")
	}

	if err := a.runShutdownFns(); err != nil {
		errs = append(errs, err)
	}

	a.log.Info().Msg("Shutdown complete")
	return errors.Join(errs...)
}

func (a *App) runShutdownFns() error {
	var errs []error
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
			errs = append(errs, err)
		}
	}
	a.shutdownFns = nil
	return errors.Join(errs...)
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := "ready"
	code := http.StatusOK

	if !a.writer.Ready() {
		status = "settling"
		code = http.StatusServiceUnavailable
	}

	apisrv.WriteJSON(w, code, map[string]any{
		"status":      status,
		"queue_depth": a.queue.Len(),
	})
}

// Stats is a point-in-time summary of the relay.
type Stats struct {
	Version      string       `json:"app_version"`
	BuildTime    string       `json:"app_build_time"`
	GitCommit    string       `json:"app_git_commit"`
	Tracking     bool         `json:"tracking"`
	File         string       `json:"file,omitempty"`
	Stage        string       `json:"stage,omitempty"`
	StateChanges uint64       `json:"state_changes"`
	QueueDepth   int          `json:"queue_depth"`
	Device       device.Stats `json:"device"`
}

// GetStats returns application statistics.
func (a *App) GetStats() Stats {
	snap := a.store.Snapshot()
	stats := Stats{
		Version:      Version,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		Tracking:     snap.Tracking,
		StateChanges: snap.Changes,
		QueueDepth:   a.queue.Len(),
		Device:       a.writer.Stats(),
	}
	if snap.Tracking {
		stats.File = snap.State.File
		stats.Stage = snap.State.Stage.String()
	}
	return stats
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, a.GetStats())
}

// statsReporter periodically logs application statistics.
func (a *App) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.GetStats()

			a.log.Info().
				Bool("tracking", stats.Tracking).
				Str("file", stats.File).
				Str("stage", stats.Stage).
				Uint64("state_changes", stats.StateChanges).
				Int("queue_depth", stats.QueueDepth).
				Uint64("written", stats.Device.Written).
				Uint64("failed", stats.Device.Failed).
				Uint64("timed_out", stats.Device.TimedOut).
				Uint64("dropped", stats.Device.Dropped).
				Msg("PDP status relay statistics")
		}
	}
}
