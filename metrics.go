package goepp

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records session activity as Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	exchanges *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	failures  *prometheus.CounterVec
	open      prometheus.Gauge
}

// NewMetrics creates the session metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epp",
			Name:      "exchanges_total",
			Help:      "Completed command/response exchanges by command and result band.",
		}, []string{"command", "band"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "epp",
			Name:      "exchange_duration_seconds",
			Help:      "Round-trip time of command/response exchanges.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epp",
			Name:      "failures_total",
			Help:      "Operations that failed below the protocol level, by operation and error kind.",
		}, []string{"operation", "kind"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epp",
			Name:      "open_sessions",
			Help:      "Sessions currently holding a connection.",
		}),
	}

	for _, c := range []prometheus.Collector{m.exchanges, m.duration, m.failures, m.open} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeExchange(kind CommandKind, band ResultBand, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(kind.String(), band.String()).Inc()
	m.duration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) observeFailure(operation string, err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation, ErrorKind(err)).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.open.Inc()
}

func (m *Metrics) sessionReleased() {
	if m == nil {
		return
	}
	m.open.Dec()
}

// ErrorKind returns a short, stable name for the error class of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrFrame):
		return "frame"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrNotLoggedIn):
		return "not_logged_in"
	case errors.Is(err, ErrAlreadyLoggedIn):
		return "already_logged_in"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrConnectionBroken):
		return "connection_broken"
	case errors.Is(err, ErrInvalidKeyPair):
		return "key_pair"
	case errors.Is(err, ErrInvalidConfig):
		return "config"
	default:
		return "io"
	}
}
