package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithStudy attaches a constant study label to every collector, so several
// studies can share one scrape target.
func WithStudy(studyID string) Option {
	return func(m *Manager) {
		if studyID != "" {
			m.constLabels["study"] = studyID
		}
	}
}

// WithPrometheusRegistry registers collectors on registry instead of the default one.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}
