package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/stretchr/testify/require"
)

func entry(number string, action core.Action, ts time.Time) core.HistoryEntry {
	return core.HistoryEntry{Number: number, Action: action, Timestamp: ts, ReceivedOn: core.SourceManual}
}

func ptr(t time.Time) *time.Time { return &t }

func TestFilterHistory(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	entries := []core.HistoryEntry{
		entry("1", core.ActionOptOut, day(1, 9)),
		entry("2", core.ActionOptIn, day(2, 0)),
		entry("3", core.ActionOptOut, day(2, 23)),
		entry("4", core.ActionOptOut, day(3, 0)),
	}

	t.Run("newest first", func(t *testing.T) {
		got := core.FilterHistory(entries, core.HistoryQuery{})
		require.Len(t, got, 4)
		require.Equal(t, "4", got[0].Number)
		require.Equal(t, "1", got[3].Number)
	})

	t.Run("day granularity is inclusive", func(t *testing.T) {
		// mid-day bounds are widened to the whole day
		got := core.FilterHistory(entries, core.HistoryQuery{Start: ptr(day(2, 15)), End: ptr(day(2, 1))})
		require.Len(t, got, 2)
		require.Equal(t, "3", got[0].Number)
		require.Equal(t, "2", got[1].Number)
	})

	t.Run("end of day edge", func(t *testing.T) {
		edge := time.Date(2024, 3, 2, 23, 59, 59, int(999*time.Millisecond), time.UTC)
		late := append([]core.HistoryEntry{}, entry("5", core.ActionOptIn, edge))
		got := core.FilterHistory(late, core.HistoryQuery{End: ptr(day(2, 0))})
		require.Len(t, got, 1)
	})

	t.Run("action filter", func(t *testing.T) {
		got := core.FilterHistory(entries, core.HistoryQuery{Action: core.ActionOptIn})
		require.Len(t, got, 1)
		require.Equal(t, "2", got[0].Number)
	})

	t.Run("open ended start", func(t *testing.T) {
		got := core.FilterHistory(entries, core.HistoryQuery{Start: ptr(day(3, 12))})
		require.Len(t, got, 1)
		require.Equal(t, "4", got[0].Number)
	})
}

func TestComputeStats_Window(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	entries := []core.HistoryEntry{
		entry("1", core.ActionOptOut, now.Add(-25*time.Hour)),
		entry("2", core.ActionOptOut, now.Add(-24*time.Hour)),
		entry("3", core.ActionOptIn, now.Add(-time.Hour)),
		entry("4", core.ActionOptOut, now),
		entry("5", core.ActionOptOut, now.Add(time.Minute)),
	}
	// pad with old history; size must not matter
	for i := 0; i < 500; i++ {
		entries = append(entries, entry("old", core.ActionOptIn, now.Add(-72*time.Hour)))
	}

	st := core.ComputeStats(entries, now, 24*time.Hour)
	require.Equal(t, core.Stats{Optins: 1, Optouts: 2}, st)
	require.Equal(t, 3, st.Total())
}

func TestStoreStatsAndClear(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, entry("1", core.ActionOptOut, t0.Add(-48*time.Hour))))
	require.NoError(t, s.AppendHistory(ctx, entry("2", core.ActionOptIn, t0.Add(-2*time.Hour))))
	require.NoError(t, s.AppendHistory(ctx, core.HistoryEntry{Number: "3", Action: core.ActionOptOut, ReceivedOn: core.SourceAPI}))

	require.Equal(t, core.Stats{Optins: 1, Optouts: 1}, s.Stats(ctx, 0))
	require.Equal(t, core.Stats{Optins: 1, Optouts: 2}, s.Stats(ctx, 72*time.Hour))

	require.NoError(t, s.ClearHistory(ctx))
	require.Empty(t, s.QueryHistory(ctx, core.HistoryQuery{}))
	require.Equal(t, core.Stats{}, s.Stats(ctx, 0))
}
