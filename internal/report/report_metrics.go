package report

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks invoked by the Service after each operation.
type Hooks struct {
	OnTransition     func(from, to string, err error)
	OnFilterDecision func(code FilterCode, isAuto bool, err error)
	OnRoute          func(matched bool)
	OnCatalogReload  func(err error)
}

// Metrics holds Prometheus metrics for the report lifecycle.
type Metrics struct {
	TransitionsTotal     *prometheus.CounterVec
	TransitionErrors     *prometheus.CounterVec
	FilterDecisionsTotal *prometheus.CounterVec
	RoutingTotal         *prometheus.CounterVec
	CatalogReloadsTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns report metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_transitions_total",
			Help: "Committed status transitions by source and target status.",
		}, []string{"from", "to"}),
		TransitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_transition_errors_total",
			Help: "Rejected status transitions by error kind.",
		}, []string{"kind"}),
		FilterDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_filter_decisions_total",
			Help: "Filter decisions by result code, origin and outcome.",
		}, []string{"result", "auto", "outcome"}),
		RoutingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_routing_total",
			Help: "Department routing runs by outcome.",
		}, []string{"outcome"}),
		CatalogReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grievance_catalog_reloads_total",
			Help: "Catalog reloads by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.TransitionErrors,
		m.FilterDecisionsTotal,
		m.RoutingTotal,
		m.CatalogReloadsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnTransition: func(from, to string, err error) {
			if err != nil {
				m.TransitionErrors.WithLabelValues(kindLabel(err)).Inc()
				return
			}
			m.TransitionsTotal.WithLabelValues(from, to).Inc()
		},
		OnFilterDecision: func(code FilterCode, isAuto bool, err error) {
			auto := "false"
			if isAuto {
				auto = "true"
			}
			outcome := "ok"
			if err != nil {
				outcome = kindLabel(err)
			}
			m.FilterDecisionsTotal.WithLabelValues(string(code), auto, outcome).Inc()
		},
		OnRoute: func(matched bool) {
			outcome := "unmatched"
			if matched {
				outcome = "matched"
			}
			m.RoutingTotal.WithLabelValues(outcome).Inc()
		},
		OnCatalogReload: func(err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.CatalogReloadsTotal.WithLabelValues(outcome).Inc()
		},
	}
}

func kindLabel(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}
