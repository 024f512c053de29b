package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genquota_ledger_operations_total",
			Help: "Points ledger operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	ledgerPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genquota_ledger_points_total",
			Help: "Points moved through the ledger by kind.",
		},
		[]string{"kind"},
	)
)

// ObserveLedger учитывает операцию с баллами; points добавляется только при успехе.
func ObserveLedger(op, result string, points int64) {
	ledgerOperations.WithLabelValues(op, result).Inc()
	if result == "ok" && points > 0 {
		ledgerPoints.WithLabelValues(op).Add(float64(points))
	}
}
