// Package metrics records runtime health as structured JSON logs and
// Prometheus gauges, and serves them over a dedicated HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/FreeTAKTeam/lxmf-go/delivery"
	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/propagation"
	"github.com/FreeTAKTeam/lxmf-go/runtime"
	"github.com/FreeTAKTeam/lxmf-go/store"
)

// Snapshot captures the runtime's observable quantities at one instant.
type Snapshot struct {
	RuntimeState     string `json:"runtime_state"`
	QueuedMessages   int    `json:"queued_messages"`
	InFlightMessages int    `json:"in_flight_messages"`
	EventLogDepth    int    `json:"event_log_depth"`
	PropagationState string `json:"propagation_state"`
	MemAlloc         uint64 `json:"mem_alloc"`
	NumGoroutines    int    `json:"goroutines"`
	Timestamp        int64  `json:"timestamp"`
}

// Logger records structured JSON health events and exposes a Prometheus
// registry of runtime gauges.
type Logger struct {
	rt    *runtime.Runtime
	st    store.MessageStore
	trk   *delivery.Tracker
	log   *eventlog.Log
	prop  *propagation.Sync

	logger *logrus.Logger
	file   *os.File
	mu     sync.Mutex

	registry             *prometheus.Registry
	queuedGauge          prometheus.Gauge
	inFlightGauge        prometheus.Gauge
	eventLogDepthGauge   prometheus.Gauge
	memAllocGauge        prometheus.Gauge
	goroutinesGauge      prometheus.Gauge
	errorCounter         prometheus.Counter
}

// New configures a Logger writing JSON logs to path and registering a
// fresh Prometheus registry of runtime gauges.
func New(rt *runtime.Runtime, st store.MessageStore, trk *delivery.Tracker, eventLog *eventlog.Log, prop *propagation.Sync, path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	l := &Logger{rt: rt, st: st, trk: trk, log: eventLog, prop: prop, logger: lg, file: f, registry: reg}

	l.queuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lxmf_queued_messages",
		Help: "Number of messages queued for delivery",
	})
	l.inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lxmf_in_flight_messages",
		Help: "Number of messages currently in flight",
	})
	l.eventLogDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lxmf_event_log_depth",
		Help: "Number of retained events in the runtime's event stream",
	})
	l.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lxmf_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	l.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lxmf_goroutines",
		Help: "Number of running goroutines",
	})
	l.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lxmf_log_errors_total",
		Help: "Total number of error events logged",
	})

	reg.MustRegister(
		l.queuedGauge,
		l.inFlightGauge,
		l.eventLogDepthGauge,
		l.memAllocGauge,
		l.goroutinesGauge,
		l.errorCounter,
	)

	return l, nil
}

// Close releases the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Rotate switches logging to a new file path.
func (l *Logger) Rotate(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.logger.SetOutput(f)
	l.file = f
	return nil
}

// LogEvent records an arbitrary message at the given level.
func (l *Logger) LogEvent(level logrus.Level, msg string) {
	l.mu.Lock()
	if level >= logrus.ErrorLevel {
		l.errorCounter.Inc()
	}
	l.logger.Log(level, msg)
	l.mu.Unlock()
}

// Snapshot gathers current metrics from the runtime's components.
func (l *Logger) Snapshot() Snapshot {
	s := Snapshot{Timestamp: time.Now().Unix(), NumGoroutines: goruntime.NumGoroutine()}

	var mem goruntime.MemStats
	goruntime.ReadMemStats(&mem)
	s.MemAlloc = mem.Alloc

	if l.rt != nil {
		s.RuntimeState = string(l.rt.State())
	}
	if l.st != nil {
		queued, inFlight, err := l.st.CountMessageBuckets()
		if err == nil {
			s.QueuedMessages = queued
			s.InFlightMessages = inFlight
		}
	}
	if l.prop != nil {
		s.PropagationState = string(l.prop.State().State)
	}
	if l.log != nil {
		s.EventLogDepth = l.log.Depth()
	}
	return s
}

// Record captures the current snapshot and updates every Prometheus gauge.
func (l *Logger) Record() {
	s := l.Snapshot()
	l.queuedGauge.Set(float64(s.QueuedMessages))
	l.inFlightGauge.Set(float64(s.InFlightMessages))
	l.eventLogDepthGauge.Set(float64(s.EventLogDepth))
	l.memAllocGauge.Set(float64(s.MemAlloc))
	l.goroutinesGauge.Set(float64(s.NumGoroutines))
	l.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// RunCollector periodically records metrics until ctx is canceled.
func (l *Logger) RunCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Record()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes the Prometheus registry on addr's /metrics path.
func (l *Logger) StartServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv, nil
}

// ShutdownServer gracefully stops the metrics HTTP server.
func (l *Logger) ShutdownServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
