package metrics

import "github.com/prometheus/client_golang/prometheus"

var dbPoolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "genquota_db_pool_stats",
		Help: "Current state of the database connection pool.",
	},
	[]string{"state"}, // total, idle, in_use
)

// SetDBPoolStats фиксирует состояние пула соединений.
func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}
