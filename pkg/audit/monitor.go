// Package audit keeps the in-memory operational record of the moderation
// core: recent audit events, per-operation-class counters and latency
// buckets, circuit-breaker trips and lock contention. The same numbers are
// exported through Prometheus collectors when a registry is attached.
package audit

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event is one audit record for a moderation attempt.
type Event struct {
	Timestamp     time.Time     `json:"timestamp"`
	OperationType string        `json:"operation_type"`
	GuildID       string        `json:"guild_id"`
	UserID        string        `json:"user_id"`
	ModeratorID   string        `json:"moderator_id"`
	CaseType      string        `json:"case_type"`
	Success       bool          `json:"success"`
	ResponseTime  time.Duration `json:"response_time"`
	DMSent        bool          `json:"dm_sent"`
	CaseCreated   bool          `json:"case_created"`
	CaseNumber    int64         `json:"case_number"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// DefaultCapacity bounds the event deque.
const DefaultCapacity = 1024

// Latency histogram: fixed-width 50 ms buckets up to 10 s, plus overflow.
const (
	bucketWidth = 50 * time.Millisecond
	bucketCount = 200
)

type classStats struct {
	total   uint64
	success uint64
	failed  uint64
	buckets [bucketCount + 1]uint64
}

// Monitor is safe for concurrent use from every task.
type Monitor struct {
	mu             sync.Mutex
	events         []Event // ring ordered oldest→newest
	capacity       int
	stats          map[string]*classStats
	errorCounts    map[string]uint64
	breakerTrips   map[string]uint64
	lockContention uint64

	promEvents    *prometheus.CounterVec
	promLatency   *prometheus.HistogramVec
	promTrips     *prometheus.CounterVec
	promContended prometheus.Counter
}

// NewMonitor creates a monitor holding at most capacity recent events
// (DefaultCapacity when capacity <= 0).
func NewMonitor(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Monitor{
		capacity:     capacity,
		stats:        make(map[string]*classStats),
		errorCounts:  make(map[string]uint64),
		breakerTrips: make(map[string]uint64),
		promEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tux_moderation_actions_total",
			Help: "Moderation attempts by operation class and outcome.",
		}, []string{"class", "outcome"}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tux_moderation_response_seconds",
			Help:    "End-to-end moderation response time by operation class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		promTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tux_circuit_breaker_trips_total",
			Help: "Circuit breaker trips by operation class.",
		}, []string{"class"}),
		promContended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tux_lock_contention_total",
			Help: "Moderation lock acquisitions that had to wait.",
		}),
	}
}

// Register attaches the monitor's collectors to a Prometheus registry.
func (m *Monitor) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.promEvents, m.promLatency, m.promTrips, m.promContended} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Record stores an audit event and updates the class counters.
func (m *Monitor) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	outcome := "success"
	if !ev.Success {
		outcome = "failure"
	}
	m.promEvents.WithLabelValues(ev.OperationType, outcome).Inc()
	m.promLatency.WithLabelValues(ev.OperationType).Observe(ev.ResponseTime.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)
	if len(m.events) > m.capacity {
		m.events = m.events[len(m.events)-m.capacity:]
	}

	st := m.stats[ev.OperationType]
	if st == nil {
		st = &classStats{}
		m.stats[ev.OperationType] = st
	}
	st.total++
	if ev.Success {
		st.success++
	} else {
		st.failed++
	}
	idx := int(ev.ResponseTime / bucketWidth)
	if idx < 0 {
		idx = 0
	}
	if idx > bucketCount {
		idx = bucketCount
	}
	st.buckets[idx]++

	if ev.ErrorMessage != "" {
		// First token of the message is a cheap error category.
		token := ev.ErrorMessage
		if i := strings.IndexAny(token, " \t"); i > 0 {
			token = token[:i]
		}
		m.errorCounts[strings.ToLower(token)]++
	}
}

// RecordBreakerTrip counts a circuit breaker trip for an operation class.
func (m *Monitor) RecordBreakerTrip(class string) {
	m.promTrips.WithLabelValues(class).Inc()
	m.mu.Lock()
	m.breakerTrips[class]++
	m.mu.Unlock()
}

// RecordLockContention counts a moderation lock acquisition that waited.
func (m *Monitor) RecordLockContention() {
	m.promContended.Inc()
	m.mu.Lock()
	m.lockContention++
	m.mu.Unlock()
}

// RecentEvents returns up to n most recent events, newest first.
func (m *Monitor) RecentEvents(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = m.events[len(m.events)-1-i]
	}
	return out
}

// ClassHealth summarizes one operation class.
type ClassHealth struct {
	Total       uint64        `json:"total"`
	Successful  uint64        `json:"successful"`
	Failed      uint64        `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
}

// Health is the structured system view.
type Health struct {
	Classes        map[string]ClassHealth `json:"classes"`
	ErrorCounts    map[string]uint64      `json:"error_counts"`
	BreakerTrips   map[string]uint64      `json:"breaker_trips"`
	LockContention uint64                 `json:"lock_contention"`
	EventCount     int                    `json:"event_count"`
	OldestEvent    time.Time              `json:"oldest_event"`
}

// SystemHealth combines counters, latency percentiles and trip counts.
func (m *Monitor) SystemHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		Classes:        make(map[string]ClassHealth, len(m.stats)),
		ErrorCounts:    make(map[string]uint64, len(m.errorCounts)),
		BreakerTrips:   make(map[string]uint64, len(m.breakerTrips)),
		LockContention: m.lockContention,
		EventCount:     len(m.events),
	}
	if len(m.events) > 0 {
		h.OldestEvent = m.events[0].Timestamp
	}
	for k, v := range m.errorCounts {
		h.ErrorCounts[k] = v
	}
	for k, v := range m.breakerTrips {
		h.BreakerTrips[k] = v
	}
	for class, st := range m.stats {
		ch := ClassHealth{
			Total:      st.total,
			Successful: st.success,
			Failed:     st.failed,
			P50:        percentile(st, 0.50),
			P95:        percentile(st, 0.95),
			P99:        percentile(st, 0.99),
		}
		if st.total > 0 {
			ch.SuccessRate = float64(st.success) / float64(st.total)
		}
		h.Classes[class] = ch
	}
	return h
}

// percentile approximates from the fixed-width buckets: the answer is the
// upper bound of the bucket containing the target rank.
func percentile(st *classStats, q float64) time.Duration {
	var total uint64
	for _, c := range st.buckets {
		total += c
	}
	if total == 0 {
		return 0
	}
	rank := uint64(float64(total)*q + 0.5)
	if rank < 1 {
		rank = 1
	}
	var seen uint64
	for i, c := range st.buckets {
		seen += c
		if seen >= rank {
			return time.Duration(i+1) * bucketWidth
		}
	}
	return time.Duration(bucketCount+1) * bucketWidth
}

// ClearOldData prunes events older than maxAge and resets the breaker-trip
// and lock-contention counters. Class counters are cumulative and survive.
func (m *Monitor) ClearOldData(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Events are appended in time order, so the survivors are a suffix.
	idx := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].Timestamp.After(cutoff)
	})
	removed := idx
	if idx > 0 {
		m.events = append([]Event(nil), m.events[idx:]...)
	}

	m.breakerTrips = make(map[string]uint64)
	m.lockContention = 0
	return removed
}
