package collect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/engine"
)

// PrometheusObserver counts events and session milestones. It implements
// both EventObserver and SessionObserver.
type PrometheusObserver struct {
	events        *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	restarts      prometheus.Counter
	retryFailures prometheus.Counter
	treeNodes     prometheus.Histogram
}

func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	f := promauto.With(reg)
	return &PrometheusObserver{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decldebug",
			Name:      "events_total",
			Help:      "Trace events seen by the collector, by port and outcome.",
		}, []string{"port", "outcome"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "decldebug",
			Name:      "verdicts_total",
			Help:      "Front end verdicts by kind.",
		}, []string{"kind"}),
		restarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "decldebug",
			Name:      "restarts_total",
			Help:      "Collections restarted to materialize a subtree.",
		}),
		retryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "decldebug",
			Name:      "retry_failures_total",
			Help:      "Retries refused by the engine.",
		}),
		treeNodes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "decldebug",
			Name:      "tree_nodes",
			Help:      "Nodes in each tree handed over for diagnosis.",
			Buckets:   prometheus.ExponentialBuckets(4, 4, 8),
		}),
	}
}

func (p *PrometheusObserver) ObserveEvent(evt engine.Event, outcome Outcome, _ aet.NodeID) {
	p.events.WithLabelValues(evt.Port.String(), outcome.String()).Inc()
}

func (p *PrometheusObserver) ObserveTree(nodes int) { p.treeNodes.Observe(float64(nodes)) }

func (p *PrometheusObserver) ObserveVerdict(kind string) { p.verdicts.WithLabelValues(kind).Inc() }

func (p *PrometheusObserver) ObserveRestart() { p.restarts.Inc() }

func (p *PrometheusObserver) ObserveRetryFailure() { p.retryFailures.Inc() }
