// Package metrics содержит Prometheus-метрики ядра управления ресурсами.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors возвращает все метрики пакета.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		admissionDecisions, slotReleases, slotsOccupied, originsActive,
		redemptionAttempts, codesIssued,
		ledgerOperations, ledgerPoints,
		dbPoolStats,
	}
}

// Register регистрирует метрики пакета в reg. Уже зарегистрированные метрики пропускаются.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		err := reg.Register(c)
		if err == nil {
			continue
		}
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			continue
		}
		return fmt.Errorf("register metrics: %w", err)
	}
	return nil
}
