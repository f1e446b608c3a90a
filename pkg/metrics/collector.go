// Package metrics exposes the Prometheus series of the bot and the payment core.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/vidbot/internal/state"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Total number of purchase conversation transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "users_by_state",
			Help: "Number of users per purchase conversation state",
		},
		[]string{"state"},
	)

	ticketsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_tickets_created_total",
			Help: "Payment tickets created by rail and plan",
		},
		[]string{"method", "plan"},
	)
	ticketsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_tickets_cancelled_total",
			Help: "Payment tickets cancelled by their owner or an admin",
		},
	)
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Inbound settlement events by rail and outcome",
		},
		[]string{"rail", "outcome"},
	)
	matchAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_match_anomalies_total",
			Help: "Ambiguous matches and conflicting settlements by rail",
		},
		[]string{"rail", "kind"},
	)
	activationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_activations_total",
			Help: "Plans activated from completed tickets",
		},
		[]string{"plan", "method"},
	)
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications handed to the queue or delivered, by kind and status",
		},
		[]string{"kind", "status"},
	)
	promoRemindersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_reminders_total",
			Help: "Promo window reminders by stage and status",
		},
		[]string{"stage", "status"},
	)
	upstreamDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Latency of calls to external rails",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"api", "status"},
	)
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Download quota checks by plan and outcome",
		},
		[]string{"plan", "outcome"},
	)
	accountsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_created_total",
			Help: "Accounts registered, split by whether a referral code was used",
		},
		[]string{"referred"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served by route, method and status code",
		},
		[]string{"route", "method", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"name"},
	)
)

var trackedStates = []state.State{
	state.StateChoosingMethod,
	state.StateAwaitingPhone,
	state.StateError,
}

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	botCommandsTotal.WithLabelValues(orUnknown(command), orUnknown(status)).Inc()
	commandDurationSeconds.WithLabelValues(orUnknown(command)).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(orUnknown(from), orUnknown(to)).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(orUnknown(errType), orUnknown(severity)).Inc()
}

// RecordTicketCreated counts a new pending ticket.
func RecordTicketCreated(method, plan string) {
	ticketsCreatedTotal.WithLabelValues(orUnknown(method), orUnknown(plan)).Inc()
}

// RecordTicketsCancelled counts cancelled tickets.
func RecordTicketsCancelled(n int64) {
	if n > 0 {
		ticketsCancelledTotal.Add(float64(n))
	}
}

// RecordWebhookEvent counts an inbound settlement event. outcome is e.g. completed, duplicate, ignored, error.
func RecordWebhookEvent(rail, outcome string) {
	webhookEventsTotal.WithLabelValues(orUnknown(rail), orUnknown(outcome)).Inc()
}

// RecordMatchAnomaly counts an ambiguous match or a conflicting settlement.
func RecordMatchAnomaly(rail, kind string) {
	matchAnomaliesTotal.WithLabelValues(orUnknown(rail), orUnknown(kind)).Inc()
}

// RecordActivation counts a plan activated from a completed ticket.
func RecordActivation(plan, method string) {
	activationsTotal.WithLabelValues(orUnknown(plan), orUnknown(method)).Inc()
}

// RecordNotification counts notification attempts.
func RecordNotification(kind, status string) {
	notificationsTotal.WithLabelValues(orUnknown(kind), orUnknown(status)).Inc()
}

// RecordPromoReminder counts a promo reminder attempt.
func RecordPromoReminder(stage, status string) {
	promoRemindersTotal.WithLabelValues(orUnknown(stage), orUnknown(status)).Inc()
}

// ObserveUpstream records the latency of an external rail call.
func ObserveUpstream(api, status string, d time.Duration) {
	upstreamDurationSeconds.WithLabelValues(orUnknown(api), orUnknown(status)).Observe(d.Seconds())
}

// RecordDownload counts a quota decision.
func RecordDownload(plan, outcome string) {
	downloadsTotal.WithLabelValues(orUnknown(plan), orUnknown(outcome)).Inc()
}

// RecordAccountCreated counts a new registration.
func RecordAccountCreated(referred bool) {
	label := "false"
	if referred {
		label = "true"
	}
	accountsCreatedTotal.WithLabelValues(label).Inc()
}

// RecordHTTPRequest counts a served HTTP request and observes its latency.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(orUnknown(route), method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(orUnknown(route)).Observe(duration.Seconds())
}

// SetCircuitState exports a breaker state as a gauge.
func SetCircuitState(name string, value int) {
	circuitState.WithLabelValues(orUnknown(name)).Set(float64(value))
}

// SetUsersByState updates the gauge for the given state.
func SetUsersByState(state string, count int) {
	usersByState.WithLabelValues(orUnknown(state)).Set(float64(count))
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// StateCollector periodically gathers FSM state counts and emits gauge metrics.
type StateCollector struct {
	fsm      state.StateMachine
	interval time.Duration
}

// NewStateCollector builds a metrics collector bound to the provided FSM.
func NewStateCollector(fsm state.StateMachine, interval time.Duration) *StateCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StateCollector{fsm: fsm, interval: interval}
}

// Run polls the FSM until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	states, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		return err
	}

	counts := make(map[state.State]int, len(trackedStates))
	for _, st := range states {
		if st != nil {
			counts[st.CurrentState]++
		}
	}

	for _, tracked := range trackedStates {
		SetUsersByState(string(tracked), counts[tracked])
	}

	return nil
}
