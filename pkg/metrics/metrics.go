// Package metrics wraps prometheus/client_golang counters for the
// engine's event bus and execution core, grounded in dshills-langgraph-go's
// use of the same library for its own graph executor — the closest
// domain match in the example pack to this engine's GraphExecutor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

// Recorder subscribes to a bus and updates prometheus metrics from the
// events it observes. One Recorder is meant to live for the process's
// root bus, mirroring how a session's healthJudge subscribes to a
// session-scoped bus for the same kind of tally-then-act pattern.
type Recorder struct {
	registry *prometheus.Registry

	nodeIterations   *prometheus.CounterVec
	judgeVerdicts    *prometheus.CounterVec
	executionsByKind *prometheus.CounterVec
	busDropped       prometheus.Gauge

	bus     *bus.Bus
	handles []bus.Handle
}

// NewRecorder registers the engine's metrics on reg and starts observing b.
func NewRecorder(reg *prometheus.Registry, b *bus.Bus) *Recorder {
	r := &Recorder{
		registry: reg,
		bus:      b,
		nodeIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_node_loop_iterations_total",
			Help: "Count of EventLoopNode iterations, by node id.",
		}, []string{"node_id"}),
		judgeVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_judge_verdicts_total",
			Help: "Count of judge verdicts, by action.",
		}, []string{"action"}),
		executionsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_executions_total",
			Help: "Count of terminal execution events, by kind.",
		}, []string{"kind"}),
		busDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hive_metrics_subscriber_dropped_events",
			Help: "Events dropped for overflow on this process's metrics subscription.",
		}),
	}

	reg.MustRegister(r.nodeIterations, r.judgeVerdicts, r.executionsByKind, r.busDropped)

	r.handles = append(r.handles,
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventNodeLoopIteration}}, func(e bus.AgentEvent) {
			r.nodeIterations.WithLabelValues(e.NodeID).Inc()
			r.busDropped.Set(float64(b.Dropped(r.handles[0])))
		}),
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{bus.EventJudgeVerdict}}, func(e bus.AgentEvent) {
			action, _ := e.Data["action"].(string)
			r.judgeVerdicts.WithLabelValues(action).Inc()
		}),
		b.Subscribe(bus.Filter{EventTypes: []bus.EventType{
			bus.EventExecutionCompleted, bus.EventExecutionFailed,
		}}, func(e bus.AgentEvent) {
			r.executionsByKind.WithLabelValues(string(e.Type)).Inc()
		}),
	)

	return r
}

// Close stops observing the bus. The registered metrics retain their last
// values; it does not unregister them.
func (r *Recorder) Close() {
	for _, h := range r.handles {
		r.bus.Unsubscribe(h)
	}
}

// Handler returns the promhttp handler for reg, to be mounted at /metrics.
// The Go runtime collector's metrics (go_goroutines and the like) are
// served alongside reg's own.
func Handler(reg *prometheus.Registry) http.Handler {
	runtimeReg := prometheus.NewRegistry()
	runtimeReg.MustRegister(collectors.NewGoCollector())
	return promhttp.HandlerFor(prometheus.Gatherers{reg, runtimeReg}, promhttp.HandlerOpts{})
}
