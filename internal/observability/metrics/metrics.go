package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "medicare"

func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cs...)
}

// CacheMetrics counts read-through cache lookups.
type CacheMetrics struct {
	lookups *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by key namespace and result (hit, miss, error)",
		}, []string{"namespace", "result"}),
	}
	register(reg, m.lookups)
	return m
}

func (m *CacheMetrics) ObserveLookup(ns, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(ns, result).Inc()
}

// AppointmentMetrics covers booking and cancellation outcomes.
type AppointmentMetrics struct {
	bookings      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	refunded      *prometheus.CounterVec
}

func NewAppointmentMetrics(reg prometheus.Registerer) *AppointmentMetrics {
	m := &AppointmentMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "cancellations_total",
			Help:      "Cancelled appointments by actor role and refund percentage",
		}, []string{"actor", "refund_percentage"}),
		refunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "refunded_amount_total",
			Help:      "Sum of refund amounts by actor role",
		}, []string{"actor"}),
	}
	register(reg, m.bookings, m.cancellations, m.refunded)
	return m
}

func (m *AppointmentMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *AppointmentMetrics) ObserveCancellation(actor string, refundPercentage int, refundAmount float64) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(actor, strconv.Itoa(refundPercentage)).Inc()
	if refundAmount > 0 {
		m.refunded.WithLabelValues(actor).Add(refundAmount)
	}
}

// InvalidationMetrics counts cache evictions driven by change events.
type InvalidationMetrics struct {
	events *prometheus.CounterVec
}

func NewInvalidationMetrics(reg prometheus.Registerer) *InvalidationMetrics {
	m := &InvalidationMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invalidation",
			Name:      "events_total",
			Help:      "Change events processed by collection and result",
		}, []string{"collection", "result"}),
	}
	register(reg, m.events)
	return m
}

func (m *InvalidationMetrics) ObserveEvent(collection, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(collection, result).Inc()
}

// TaskMetrics tracks background side effects.
type TaskMetrics struct {
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	m := &TaskMetrics{
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Background tasks by name and status (ok, failed, rejected)",
		}, []string{"task", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Background task run time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
	register(reg, m.completed, m.duration)
	return m
}

func (m *TaskMetrics) ObserveTask(task, status string, seconds float64) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(task, status).Inc()
	if seconds > 0 {
		m.duration.WithLabelValues(task).Observe(seconds)
	}
}

// AssistantMetrics tracks answering latency per provider.
type AssistantMetrics struct {
	answers *prometheus.HistogramVec
}

func NewAssistantMetrics(reg prometheus.Registerer) *AssistantMetrics {
	m := &AssistantMetrics{
		answers: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "answer_latency_seconds",
			Help:      "Answer latency by provider and status",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider", "status"}),
	}
	register(reg, m.answers)
	return m
}

func (m *AssistantMetrics) ObserveAnswer(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(provider, status).Observe(seconds)
}

// ReminderMetrics counts reminder emails by outcome.
type ReminderMetrics struct {
	reminders *prometheus.CounterVec
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "processed_total",
			Help:      "Reminder candidates by outcome (sent, skipped, failed)",
		}, []string{"outcome"}),
	}
	register(reg, m.reminders)
	return m
}

func (m *ReminderMetrics) ObserveReminder(outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(outcome).Inc()
}
