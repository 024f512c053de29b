package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	redemptionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genquota_redemption_attempts_total",
			Help: "Code redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	codesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genquota_codes_issued_total",
			Help: "Issued codes by package type.",
		},
		[]string{"package_type"},
	)
)

// IncRedemption учитывает попытку активации с заданным исходом.
func IncRedemption(outcome string) {
	redemptionAttempts.WithLabelValues(outcome).Inc()
}

// AddIssuedCodes учитывает выпущенные коды.
func AddIssuedCodes(packageType string, n int) {
	codesIssued.WithLabelValues(packageType).Add(float64(n))
}
