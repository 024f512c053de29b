package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genquota_admission_decisions_total",
			Help: "Generation admission decisions by caller role and result.",
		},
		[]string{"role", "admitted"},
	)

	slotReleases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genquota_slot_releases_total",
			Help: "Released generation slots.",
		},
	)

	slotsOccupied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genquota_slots_occupied",
			Help: "Generation slots currently occupied across all origins.",
		},
	)

	originsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genquota_origins_active",
			Help: "Origins with at least one occupied generation slot.",
		},
	)
)

// ObserveAdmission учитывает решение о допуске к генерации.
func ObserveAdmission(role string, admitted bool) {
	admissionDecisions.WithLabelValues(role, strconv.FormatBool(admitted)).Inc()
}

// IncRelease учитывает освобождение слота.
func IncRelease() {
	slotReleases.Inc()
}

// SetSlotUsage фиксирует снимок занятых слотов.
func SetSlotUsage(origins, occupied int64) {
	originsActive.Set(float64(origins))
	slotsOccupied.Set(float64(occupied))
}
