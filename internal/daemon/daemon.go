// Package daemon runs collection cycles on an interval and serves
// metrics and health over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/reclaim/internal/emitter"
)

const shutdownTimeout = 5 * time.Second

// ErrAlreadyStarted is returned when Run is called on a daemon that has
// already been started.
var ErrAlreadyStarted = errors.New("daemon already started")

// Cycler runs one collection cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (*emitter.Report, error)
}

// Config holds daemon configuration
type Config struct {
	Interval    time.Duration
	MetricsAddr string // empty disables the HTTP server
	OneShot     bool
	Signals     bool         // stop on SIGINT and SIGTERM
	Handler     http.Handler // served on /metrics, promhttp.Handler() when nil
	Logger      *zerolog.Logger
}

// Daemon runs collection cycles until stopped.
type Daemon struct {
	cycler      Cycler
	interval    time.Duration
	metricsAddr string
	oneShot     bool
	signals     bool
	handler     http.Handler
	metrics     *DaemonMetrics
	logger      zerolog.Logger
	startTime   time.Time

	cycles      atomic.Int64
	failures    atomic.Int64
	lastSuccess atomic.Int64 // unix seconds
	lastFailed  atomic.Bool
	started     atomic.Bool

	mu    sync.Mutex
	addr  string
	ready chan struct{}
}

// NewDaemon creates a new daemon instance
func NewDaemon(cycler Cycler, config Config) (*Daemon, error) {
	if cycler == nil {
		return nil, errors.New("daemon needs a cycler")
	}
	if !config.OneShot && config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", config.Interval)
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("daemon metrics: %w", err)
	}

	handler := config.Handler
	if handler == nil {
		handler = promhttp.Handler()
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Daemon{
		cycler:      cycler,
		interval:    config.Interval,
		metricsAddr: config.MetricsAddr,
		oneShot:     config.OneShot,
		signals:     config.Signals,
		handler:     handler,
		metrics:     metrics,
		logger:      logger,
		startTime:   time.Now(),
		ready:       make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled, a signal arrives or, in one-shot
// mode, the first cycle completes. It returns the one-shot cycle error
// or a server failure. A daemon runs once.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		return d.loop(ctx)
	}, func(error) {
		cancel()
	})

	if d.metricsAddr != "" {
		ln, err := net.Listen("tcp", d.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", d.metricsAddr, err)
		}
		srv := &http.Server{Handler: d.Mux(), ReadHeaderTimeout: 5 * time.Second}

		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})

		d.setAddr(ln.Addr().String())
	}

	if d.signals {
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	close(d.ready)

	d.logger.Info().
		Dur("interval", d.interval).
		Bool("one_shot", d.oneShot).
		Msg("reclaim daemon starting")

	err := g.Run()

	if sig, ok := signalOf(err); ok {
		d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		d.logger.Info().Msg("shutting down")
		return nil
	}
	return err
}

// signalOf extracts the signal a run.SignalHandler actor stopped on. The
// error is a SignalError value in older releases and a pointer in newer ones.
func signalOf(err error) (os.Signal, bool) {
	var sig run.SignalError
	if errors.As(err, &sig) {
		return sig.Signal, true
	}
	var sigp *run.SignalError
	if errors.As(err, &sigp) && sigp != nil {
		return sigp.Signal, true
	}
	return nil, false
}

func (d *Daemon) loop(ctx context.Context) error {
	err := d.runCycle(ctx)
	if d.oneShot {
		return err
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) error {
	start := time.Now()
	report, err := d.cycler.RunCycle(ctx)
	duration := time.Since(start)

	d.cycles.Add(1)
	status := "success"
	if err != nil {
		status = "failure"
		if ctx.Err() != nil {
			status = "cancelled"
		}
	}
	d.metrics.RecordCycle(ctx, status, duration.Seconds())

	if err != nil {
		d.failures.Add(1)
		d.lastFailed.Store(true)
		d.logger.Error().Err(err).Dur("duration", duration).Msg("cycle failed")
		return err
	}

	d.lastFailed.Store(false)
	d.lastSuccess.Store(time.Now().Unix())
	if report != nil {
		d.metrics.RecordReport(ctx, *report)
	}
	d.logger.Info().Dur("duration", duration).Msg("cycle complete")
	return nil
}

func (d *Daemon) setAddr(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addr = addr
}

// Ready is closed once Run has bound its listener.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the address of the metrics server, empty until Ready.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Mux serves /metrics, /healthz and /readyz.
func (d *Daemon) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.handler)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if d.lastSuccess.Load() == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no successful cycle"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := d.Health()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusDegraded {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	return mux
}

// Health states.
const (
	StatusStarting = "starting"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthStatus represents daemon health
type HealthStatus struct {
	Status      string     `json:"status"`
	Uptime      int64      `json:"uptime_seconds"`
	Cycles      int64      `json:"cycles"`
	Failures    int64      `json:"failures"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// Health returns daemon health status. The daemon is degraded while its
// latest cycle failed.
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status:   StatusHealthy,
		Uptime:   int64(time.Since(d.startTime).Seconds()),
		Cycles:   d.cycles.Load(),
		Failures: d.failures.Load(),
	}
	if ts := d.lastSuccess.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		h.LastSuccess = &t
	}
	switch {
	case h.Cycles == 0:
		h.Status = StatusStarting
	case d.lastFailed.Load():
		h.Status = StatusDegraded
	}
	return h
}

// CycleCount returns total cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycles.Load()
}
