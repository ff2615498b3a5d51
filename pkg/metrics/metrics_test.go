package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/pajohmail/aden-hive/pkg/bus"
)

func TestRecorder_CountsNodeIterations(t *testing.T) {
	b := bus.New()
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg, b)
	defer rec.Close()

	b.Publish(bus.AgentEvent{Type: bus.EventNodeLoopIteration, NodeID: "investigate"})
	b.Publish(bus.AgentEvent{Type: bus.EventNodeLoopIteration, NodeID: "investigate"})
	b.Publish(bus.AgentEvent{Type: bus.EventNodeLoopIteration, NodeID: "respond"})

	require.Eventually(t, func() bool {
		return counterValue(t, rec.nodeIterations.WithLabelValues("investigate")) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, float64(1), counterValue(t, rec.nodeIterations.WithLabelValues("respond")))
}

func TestRecorder_CountsJudgeVerdicts(t *testing.T) {
	b := bus.New()
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg, b)
	defer rec.Close()

	b.Publish(bus.NewEvent(bus.EventJudgeVerdict, map[string]any{"action": "continue"}))
	b.Publish(bus.NewEvent(bus.EventJudgeVerdict, map[string]any{"action": "continue"}))
	b.Publish(bus.NewEvent(bus.EventJudgeVerdict, map[string]any{"action": "fail"}))

	require.Eventually(t, func() bool {
		return counterValue(t, rec.judgeVerdicts.WithLabelValues("continue")) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, float64(1), counterValue(t, rec.judgeVerdicts.WithLabelValues("fail")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
