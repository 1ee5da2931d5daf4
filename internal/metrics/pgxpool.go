package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPool exposes pgx connection pool statistics as gauges.
func RegisterPool(pool *pgxpool.Pool) {
	gauges := map[string]func() float64{
		"certfleet_pgxpool_acquired_conns": func() float64 { return float64(pool.Stat().AcquiredConns()) },
		"certfleet_pgxpool_idle_conns":     func() float64 { return float64(pool.Stat().IdleConns()) },
		"certfleet_pgxpool_total_conns":    func() float64 { return float64(pool.Stat().TotalConns()) },
		"certfleet_pgxpool_max_conns":      func() float64 { return float64(pool.Stat().MaxConns()) },
	}
	for name, fn := range gauges {
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: "pgx pool statistic",
		}, fn))
	}
}
