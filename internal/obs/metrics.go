package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionState           = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnel_client_session_state", Help: "Lifecycle state (0 unconfigured, 1 connecting, 2 connected, 3 disconnecting, 4 terminated)"})
	ConnectDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tunnel_client_connect_duration_seconds", Help: "Time spent in the engine connect call", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)})
	LogRotationsTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnel_client_log_rotations_total", Help: "Log files rolled over on engine request"})
	LogRotationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnel_client_log_rotation_errors_total", Help: "Failed log roll-overs"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnel_client_errors_total", Help: "Errors reported by the tunnel engine, by kind"}, []string{"kind"})
	SuppressedLogsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnel_client_suppressed_logs_total", Help: "Error log lines dropped by the per-kind limiter"}, []string{"kind"})
	ReconnectsTotal        = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnel_client_reconnects_total", Help: "Control plane reconnects performed by the engine"})
)
