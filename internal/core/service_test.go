package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	database "github.com/Cypherspark/optout-gateway/internal/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, opts ...core.Option) (*core.Store, *database.Memory) {
	t.Helper()
	mem := database.NewMemory()
	opts = append([]core.Option{core.WithClock(func() time.Time { return t0 })}, opts...)
	return core.NewStore(mem, zaptest.NewLogger(t), opts...), mem
}

func createConfig(t *testing.T, s *core.Store, number string) core.OptOutConfig {
	t.Helper()
	c, err := s.CreateConfig(context.Background(), core.ConfigInput{OptoutNumber: number})
	require.NoError(t, err)
	return c
}

func TestConsentRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	added, err := s.Add(ctx, core.OptOutEntry{Number: "+44 7700 900000", ConfigID: core.SourceManual})
	require.NoError(t, err)
	require.True(t, added)
	require.True(t, s.IsBlocked(ctx, "447700900000"))
	require.True(t, s.IsBlocked(ctx, "(44) 7700-900000"))

	added, err = s.Add(ctx, core.OptOutEntry{Number: "447700900000", ConfigID: core.SourceManual})
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, []string{"447700900000"}, s.ListOptOuts(ctx))

	removed, err := s.Remove(ctx, "447700900000")
	require.NoError(t, err)
	require.True(t, removed)
	require.False(t, s.IsBlocked(ctx, "447700900000"))

	removed, err = s.Remove(ctx, "447700900000")
	require.NoError(t, err)
	require.False(t, removed)
	require.Empty(t, s.ListOptOuts(ctx))
}

func TestIsBlocked_EmptyNeverMatches(t *testing.T) {
	s, _ := newStore(t)
	require.False(t, s.IsBlocked(context.Background(), ""))
	require.False(t, s.IsBlocked(context.Background(), "abc"))
}

func TestStopScenario(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	cfg := createConfig(t, s, "447418317717")

	res := s.HandleInbound(ctx, core.InboundMessage{From: "447700900000", To: "447418317717", Text: "STOP"})
	require.Equal(t, core.ClassOptOut, res.Classification)
	require.Equal(t, cfg.ID, res.ConfigID)

	require.True(t, s.IsBlocked(ctx, "447700900000"))
	entries := s.OptOutEntries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, cfg.ID, entries[0].ConfigID)

	hist := s.QueryHistory(ctx, core.HistoryQuery{})
	require.Len(t, hist, 1)
	require.Equal(t, core.ActionOptOut, hist[0].Action)
	require.Equal(t, "447418317717", hist[0].ReceivedOn)
	require.Equal(t, cfg.ID, hist[0].ConfigID)

	dec, n := s.Authorize(ctx, "+447700900000")
	require.Equal(t, core.Reject, dec)
	require.Equal(t, "447700900000", n)
}

func TestInbound_UnconfiguredDestinationNeverMutates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	createConfig(t, s, "447418317717")

	res := s.HandleInbound(ctx, core.InboundMessage{From: "447700900000", To: "15550001111", Text: "STOP"})
	require.Equal(t, core.ClassNone, res.Classification)
	require.Nil(t, res.Change)
	require.Empty(t, s.ListOptOuts(ctx))
	require.Empty(t, s.QueryHistory(ctx, core.HistoryQuery{}))
}

func TestInbound_NoPhraseMatch(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	createConfig(t, s, "447418317717")

	s.HandleInbound(ctx, core.InboundMessage{From: "447700900000", To: "447418317717", Text: "hello"})
	require.Empty(t, s.ListOptOuts(ctx))
	require.Empty(t, s.QueryHistory(ctx, core.HistoryQuery{}))
}

func TestInbound_MissingFieldsDiscarded(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	createConfig(t, s, "447418317717")

	res := s.HandleInbound(ctx, core.InboundMessage{To: "447418317717", Text: "STOP"})
	require.Nil(t, res.Change)
	res = s.HandleInbound(ctx, core.InboundMessage{From: "447700900000", To: "447418317717"})
	require.Nil(t, res.Change)
	require.Empty(t, s.ListOptOuts(ctx))
}

func TestInbound_OptInHistoryPolicy(t *testing.T) {
	ctx := context.Background()
	msg := core.InboundMessage{From: "447700900000", To: "447418317717", Text: "start"}

	t.Run("unconditional by default", func(t *testing.T) {
		s, _ := newStore(t)
		createConfig(t, s, "447418317717")
		res := s.HandleInbound(ctx, msg)
		require.Equal(t, core.ClassOptIn, res.Classification)
		require.Equal(t, core.OutcomeNotFound, res.Change.Outcome)
		require.Len(t, s.QueryHistory(ctx, core.HistoryQuery{Action: core.ActionOptIn}), 1)
	})

	t.Run("gated on removal", func(t *testing.T) {
		s, _ := newStore(t, core.WithOptinHistoryRequiresRemoval(true))
		createConfig(t, s, "447418317717")
		s.HandleInbound(ctx, msg)
		require.Empty(t, s.QueryHistory(ctx, core.HistoryQuery{}))

		s.HandleInbound(ctx, core.InboundMessage{From: msg.From, To: msg.To, Text: "STOP"})
		res := s.HandleInbound(ctx, msg)
		require.Equal(t, core.OutcomeRemoved, res.Change.Outcome)
		require.Len(t, s.QueryHistory(ctx, core.HistoryQuery{Action: core.ActionOptIn}), 1)
		require.False(t, s.IsBlocked(ctx, msg.From))
	})
}

func TestBulkOptOut_SameIdentityDifferentFormat(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	res, err := s.ApplyBatch(ctx, []core.Change{
		{Action: core.ActionOptOut, Number: "+44 7700 900000", ReceivedOn: core.SourceAPI},
		{Action: core.ActionOptOut, Number: "447700900000", ReceivedOn: core.SourceAPI},
		{Action: core.ActionOptOut, Number: "n/a", ReceivedOn: core.SourceAPI},
	})
	require.NoError(t, err)
	require.Equal(t, core.OutcomeAdded, res[0].Outcome)
	require.Equal(t, core.OutcomeAlreadyBlocked, res[1].Outcome)
	require.Equal(t, core.OutcomeInvalid, res[2].Outcome)

	entries := s.OptOutEntries(ctx)
	require.Len(t, entries, 1)
	require.Equal(t, "447700900000", entries[0].Number)
	require.Equal(t, "+44 7700 900000", entries[0].OriginalNumber)
	require.Equal(t, core.SourceAPI, entries[0].ConfigID)

	// only the real change is recorded
	require.Len(t, s.QueryHistory(ctx, core.HistoryQuery{}), 1)
}

func TestPersistsAcrossStores(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)
	createConfig(t, s, "447418317717")
	_, err := s.Apply(ctx, core.Change{Action: core.ActionOptOut, Number: "447700900000", ReceivedOn: core.SourceManual})
	require.NoError(t, err)

	again := core.NewStore(mem, zaptest.NewLogger(t))
	require.NoError(t, again.Load(ctx))
	require.True(t, again.IsBlocked(ctx, "447700900000"))
	require.Len(t, again.ListConfigs(ctx), 1)
	require.Len(t, again.QueryHistory(ctx, core.HistoryQuery{}), 1)
}

func TestLoad_MigratesLegacyEntries(t *testing.T) {
	ctx := context.Background()
	mem := database.NewMemory()
	require.NoError(t, mem.Set(ctx, database.KeyOptOuts, json.RawMessage(
		`["+44 7700 900000", {"number":"15550001111","configId":"abc"}, "447700900000", ""]`)))

	s := core.NewStore(mem, zaptest.NewLogger(t))
	require.NoError(t, s.Load(ctx))
	require.Equal(t, []string{"447700900000", "15550001111"}, s.ListOptOuts(ctx))

	raw, err := mem.Get(ctx, database.KeyOptOuts)
	require.NoError(t, err)
	var stored []core.OptOutEntry
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 2)
	require.Equal(t, core.SourceManual, stored[0].ConfigID)
	require.Equal(t, "+44 7700 900000", stored[0].OriginalNumber)
	require.Equal(t, "abc", stored[1].ConfigID)
}

func TestPersistFailure_KeepsMemoryAndReportsIt(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)
	mem.FailWrites(errors.New("disk full"))

	res, err := s.Apply(ctx, core.Change{Action: core.ActionOptOut, Number: "447700900000", ReceivedOn: core.SourceManual})
	require.ErrorIs(t, err, core.ErrNotPersisted)
	require.Equal(t, core.OutcomeAdded, res.Outcome)
	require.True(t, s.IsBlocked(ctx, "447700900000"))
	require.True(t, s.Degraded())
}

func TestLoadFailure_PinsKeyToMemory(t *testing.T) {
	ctx := context.Background()
	mem := database.NewMemory()
	require.NoError(t, mem.Set(ctx, database.KeyHistory, json.RawMessage(`{not json`)))

	s := core.NewStore(mem, zaptest.NewLogger(t))
	require.ErrorIs(t, s.Load(ctx), core.ErrNotPersisted)
	require.True(t, s.Degraded())

	// the unreadable record is never overwritten
	_, err := s.Apply(ctx, core.Change{Action: core.ActionOptOut, Number: "1", ReceivedOn: core.SourceManual})
	require.ErrorIs(t, err, core.ErrNotPersisted)
	raw, err := mem.Get(ctx, database.KeyHistory)
	require.NoError(t, err)
	require.Equal(t, `{not json`, string(raw))
	require.True(t, s.IsBlocked(ctx, "1"))
}

func TestConcurrentOptOut_SameNumberSingleEntry(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Apply(ctx, core.Change{Action: core.ActionOptOut, Number: "447700900000", ReceivedOn: core.SourceAPI})
		}()
	}
	wg.Wait()

	require.Len(t, s.ListOptOuts(ctx), 1)
	require.Len(t, s.QueryHistory(ctx, core.HistoryQuery{}), 1)
}

func TestConcurrentOptOut_NoLostUpdates(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()

	const total = 100
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Apply(ctx, core.Change{Action: core.ActionOptOut, Number: strconv.Itoa(1000 + i), ReceivedOn: core.SourceAPI})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Len(t, s.ListOptOuts(ctx), total)

	again := core.NewStore(mem, zaptest.NewLogger(t))
	require.Len(t, again.ListOptOuts(ctx), total)
}

func TestSubscribeReceivesHistory(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var got []core.HistoryEntry
	s.Subscribe(func(h core.HistoryEntry) { got = append(got, h) })

	_, err := s.Apply(ctx, core.Change{Action: core.ActionOptOut, Number: "447700900000", ReceivedOn: core.SourceManual})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, core.ActionOptOut, got[0].Action)
	require.Equal(t, t0, got[0].Timestamp)
}
