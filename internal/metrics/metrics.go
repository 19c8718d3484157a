package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ValidationsTotal counts validation outcomes. Accepted validations use
// outcome "accepted"; rejections use the internal reason code. External
// callers never see these distinctions.
var ValidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyserver_validations_total",
		Help: "Total number of key validations by outcome",
	},
	[]string{"outcome"},
)

// KeysIssuedTotal counts issued keys.
var KeysIssuedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "keyserver_keys_issued_total",
		Help: "Total number of keys issued",
	},
)

// RegisterPgxPoolMetrics exposes pgx connection pool statistics as
// Prometheus gauges.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_acquired_conns",
			Help: "Number of currently acquired connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().AcquiredConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_max_conns",
			Help: "Maximum number of connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().MaxConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_total_conns",
			Help: "Total number of connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().TotalConns())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pgxpool_idle_conns",
			Help: "Number of idle connections in the pool",
		}, func() float64 {
			return float64(pool.Stat().IdleConns())
		}),
	)
}
