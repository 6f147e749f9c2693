package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the lead capture flow.
type ConversationMetrics struct {
	turnsTotal         *prometheus.CounterVec
	llmAttemptsTotal   *prometheus.CounterVec
	llmLatency         *prometheus.HistogramVec
	overridesTotal     *prometheus.CounterVec
	leadsCapturedTotal *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	followUpsTotal     *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Processed conversation turns by outcome",
		}, []string{"channel", "outcome"}),
		llmAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "conversation",
			Name:      "llm_attempts_total",
			Help:      "LLM calls made while generating structured replies",
		}, []string{"outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadflow",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of single LLM calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		overridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "conversation",
			Name:      "classification_overrides_total",
			Help:      "Turns where the rule engine replaced the model status",
		}, []string{"model_status", "final_status"}),
		leadsCapturedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "conversation",
			Name:      "leads_captured_total",
			Help:      "Leads created from conversations",
		}, []string{"status", "channel"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Owner notifications by priority and result",
		}, []string{"priority", "result"}),
		followUpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "followup",
			Name:      "reminders_total",
			Help:      "Follow-up reminders sent for idle leads",
		}, []string{"status", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal,
		m.llmAttemptsTotal,
		m.llmLatency,
		m.overridesTotal,
		m.leadsCapturedTotal,
		m.notificationsTotal,
		m.followUpsTotal,
	)
	return m
}

// ObserveTurn counts a finished turn. outcome is one of replied, fallback,
// closed or error.
func (m *ConversationMetrics) ObserveTurn(channel, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveLLMAttempt counts a single LLM call. outcome is ok, invalid_output,
// retriable_error or fatal_error.
func (m *ConversationMetrics) ObserveLLMAttempt(outcome string) {
	if m == nil {
		return
	}
	m.llmAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *ConversationMetrics) ObserveLLMLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "unknown"
	}
	m.llmLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *ConversationMetrics) ObserveOverride(modelStatus, finalStatus string) {
	if m == nil {
		return
	}
	if modelStatus == "" {
		modelStatus = "none"
	}
	m.overridesTotal.WithLabelValues(modelStatus, finalStatus).Inc()
}

func (m *ConversationMetrics) ObserveLeadCaptured(status, channel string) {
	if m == nil {
		return
	}
	m.leadsCapturedTotal.WithLabelValues(status, channel).Inc()
}

func (m *ConversationMetrics) ObserveNotification(priority string, sent bool) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(priority, result(sent)).Inc()
}

func (m *ConversationMetrics) ObserveFollowUp(status string, sent bool) {
	if m == nil {
		return
	}
	m.followUpsTotal.WithLabelValues(status, result(sent)).Inc()
}

func result(ok bool) string {
	if ok {
		return "sent"
	}
	return "failed"
}
