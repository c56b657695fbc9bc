package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"toolgate/internal/api"
)

// PrometheusSink exports execution and connection records as Prometheus
// collectors. Register it against a registry owned by the embedding process.
type PrometheusSink struct {
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	outputBytes  *prometheus.HistogramVec
	connections  *prometheus.CounterVec
}

// NewPrometheusSink creates a sink and registers its collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by server, tool and outcome.",
		}, []string{"server", "tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"server", "tool"}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "tool_output_bytes",
			Help:      "Size of tool results before normalization.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"server", "tool"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "server_connection_attempts_total",
			Help:      "Managed server initialization attempts by outcome.",
		}, []string{"server", "outcome"}),
	}
	reg.MustRegister(s.toolCalls, s.toolDuration, s.outputBytes, s.connections)
	return s
}

func outcomeLabel(exec api.ToolExecution) string {
	if exec.Success {
		return "success"
	}
	if exec.ErrorKind != "" {
		return string(exec.ErrorKind)
	}
	return "error"
}

// RecordToolExecution records one wrapped tool invocation.
func (s *PrometheusSink) RecordToolExecution(exec api.ToolExecution) {
	s.toolCalls.WithLabelValues(exec.ServerKey, exec.ToolName, outcomeLabel(exec)).Inc()
	s.toolDuration.WithLabelValues(exec.ServerKey, exec.ToolName).Observe(exec.Duration.Seconds())
	if exec.OutputBytes > 0 {
		s.outputBytes.WithLabelValues(exec.ServerKey, exec.ToolName).Observe(float64(exec.OutputBytes))
	}
}

// RecordConnectionAttempt records one initialization attempt outcome.
func (s *PrometheusSink) RecordConnectionAttempt(serverKey string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.connections.WithLabelValues(serverKey, outcome).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
