package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRecordAndSystemHealth(t *testing.T) {
	m := NewMonitor(0)

	for i := 0; i < 9; i++ {
		m.Record(Event{
			OperationType: "ban_kick",
			GuildID:       "111",
			Success:       true,
			ResponseTime:  60 * time.Millisecond,
		})
	}
	m.Record(Event{
		OperationType: "ban_kick",
		GuildID:       "111",
		Success:       false,
		ResponseTime:  900 * time.Millisecond,
		ErrorMessage:  "forbidden: missing permissions",
	})

	h := m.SystemHealth()
	ch := h.Classes["ban_kick"]
	require.EqualValues(t, 10, ch.Total)
	require.EqualValues(t, 9, ch.Successful)
	require.EqualValues(t, 1, ch.Failed)
	require.InDelta(t, 0.9, ch.SuccessRate, 1e-9)

	// p50 lands in the 50-100ms bucket, p99 catches the slow failure.
	require.Equal(t, 100*time.Millisecond, ch.P50)
	require.Equal(t, 950*time.Millisecond, ch.P99)

	require.EqualValues(t, 1, h.ErrorCounts["forbidden:"])
	require.Equal(t, 10, h.EventCount)
}

func TestEventDequeBounded(t *testing.T) {
	m := NewMonitor(4)
	for i := 0; i < 10; i++ {
		m.Record(Event{OperationType: "api_other", CaseType: fmt.Sprintf("n%d", i), Success: true})
	}

	events := m.RecentEvents(0)
	require.Len(t, events, 4)
	require.Equal(t, "n9", events[0].CaseType, "newest first")
	require.Equal(t, "n6", events[3].CaseType, "oldest surviving")
}

func TestBreakerTripsAndContention(t *testing.T) {
	m := NewMonitor(0)
	m.RecordBreakerTrip("ban_kick")
	m.RecordBreakerTrip("ban_kick")
	m.RecordBreakerTrip("database")
	m.RecordLockContention()

	h := m.SystemHealth()
	require.EqualValues(t, 2, h.BreakerTrips["ban_kick"])
	require.EqualValues(t, 1, h.BreakerTrips["database"])
	require.EqualValues(t, 1, h.LockContention)
}

func TestClearOldData(t *testing.T) {
	m := NewMonitor(0)

	old := time.Now().UTC().Add(-48 * time.Hour)
	m.Record(Event{OperationType: "timeout", Timestamp: old, Success: true})
	m.Record(Event{OperationType: "timeout", Success: true})
	m.RecordBreakerTrip("timeout")
	m.RecordLockContention()

	removed := m.ClearOldData(24 * time.Hour)
	require.Equal(t, 1, removed)

	h := m.SystemHealth()
	require.Equal(t, 1, h.EventCount)
	require.Empty(t, h.BreakerTrips)
	require.Zero(t, h.LockContention)

	// Cumulative class counters survive the prune.
	require.EqualValues(t, 2, h.Classes["timeout"].Total)
}

func TestRegisterCollectors(t *testing.T) {
	m := NewMonitor(0)
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.Record(Event{OperationType: "messages", Success: true, ResponseTime: 10 * time.Millisecond})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["tux_moderation_actions_total"])
	require.True(t, names["tux_moderation_response_seconds"])
}
