package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/Cypherspark/optout-gateway/internal/db"
	"github.com/Cypherspark/optout-gateway/internal/provider"
	"github.com/Cypherspark/optout-gateway/internal/worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingProv records every transport call.
type countingProv struct {
	mu    sync.Mutex
	calls []provider.SMSRequest
	at    []time.Time
	send  func(ctx context.Context, req provider.SMSRequest) (*provider.SMSResponse, error)
}

func (p *countingProv) Send(ctx context.Context, req provider.SMSRequest) (*provider.SMSResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.at = append(p.at, time.Now())
	p.mu.Unlock()
	if p.send != nil {
		return p.send(ctx, req)
	}
	r := provider.Envelope(req.To, provider.StatusOK, "")
	r.Messages[0].MessageID = "msg-" + req.To
	return r, nil
}

func (p *countingProv) OwnedNumbers(context.Context, string, string) ([]provider.OwnedNumber, error) {
	return nil, nil
}

func (p *countingProv) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func setup(t *testing.T, opt worker.Options) (*worker.Engine, *core.Store, *countingProv) {
	t.Helper()
	store := core.NewStore(db.NewMemory(), zaptest.NewLogger(t), core.WithEnvCredentials("key", "secret"))
	_, err := store.Add(context.Background(), core.OptOutEntry{Number: "447700900000", ConfigID: core.SourceManual})
	require.NoError(t, err)
	prov := &countingProv{}
	return worker.NewEngine(store, prov, zaptest.NewLogger(t), opt), store, prov
}

func TestSend_BlockedNeverReachesTransport(t *testing.T) {
	e, _, prov := setup(t, worker.Options{})
	res := e.Send(context.Background(), worker.SurfaceSingle, worker.Message{To: "+44 7700 900000", From: "Acme", Text: "hi"})
	require.Equal(t, worker.StatusBlocked, res.Status)
	require.Equal(t, "447700900000", res.Normalized)
	require.Zero(t, prov.count())
}

func TestSend_AllowedForwardsUnchanged(t *testing.T) {
	e, _, prov := setup(t, worker.Options{})
	res := e.Send(context.Background(), worker.SurfaceSingle, worker.Message{To: "+15550001111", From: "Acme", Text: "hi"})
	require.Equal(t, worker.StatusSent, res.Status)
	require.Equal(t, "msg-+15550001111", res.MessageID)
	require.Equal(t, []provider.SMSRequest{{APIKey: "key", APISecret: "secret", To: "+15550001111", From: "Acme", Text: "hi"}}, prov.calls)
}

func TestSend_MissingCredentials(t *testing.T) {
	store := core.NewStore(db.NewMemory(), zaptest.NewLogger(t))
	prov := &countingProv{}
	e := worker.NewEngine(store, prov, nil, worker.Options{})
	res := e.Send(context.Background(), worker.SurfaceSingle, worker.Message{To: "1555", Text: "x"})
	require.Equal(t, worker.StatusFailed, res.Status)
	require.Equal(t, "credentials_missing", res.ErrorCode)
	require.Zero(t, prov.count())
}

func TestSend_TimeoutIsFailure(t *testing.T) {
	e, _, prov := setup(t, worker.Options{SendTimeout: 20 * time.Millisecond})
	prov.send = func(ctx context.Context, _ provider.SMSRequest) (*provider.SMSResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	res := e.Send(context.Background(), worker.SurfaceSingle, worker.Message{To: "1555", Text: "x"})
	require.Equal(t, worker.StatusFailed, res.Status)
	require.Equal(t, "transport_error", res.ErrorCode)
	require.Contains(t, res.Error, "timed out")
}

func TestSend_UpstreamRejection(t *testing.T) {
	e, _, prov := setup(t, worker.Options{})
	prov.send = func(_ context.Context, req provider.SMSRequest) (*provider.SMSResponse, error) {
		return provider.Envelope(req.To, "9", "Partner quota exceeded"), nil
	}
	res := e.Send(context.Background(), worker.SurfaceSingle, worker.Message{To: "1555", Text: "x"})
	require.Equal(t, worker.StatusFailed, res.Status)
	require.Equal(t, "9", res.ErrorCode)
	require.Equal(t, "Partner quota exceeded", res.Error)
}

func TestSendBulk_PartitionsAndPaces(t *testing.T) {
	e, _, prov := setup(t, worker.Options{BulkDelay: 30 * time.Millisecond})
	prov.send = func(_ context.Context, req provider.SMSRequest) (*provider.SMSResponse, error) {
		if req.To == "15550000003" {
			return nil, errors.New("connection reset")
		}
		return provider.Envelope(req.To, provider.StatusOK, ""), nil
	}

	rep := e.SendBulk(context.Background(), worker.BulkRequest{
		Recipients: []string{"15550000001", "447700900000", "not a number", "15550000002", "15550000003"},
		From:       "Acme",
		Text:       "hi",
	})
	require.Equal(t, 5, rep.Total)
	require.Equal(t, 2, rep.Sent)
	require.Equal(t, 1, rep.Blocked)
	require.Equal(t, 2, rep.Failed)

	statuses := make([]worker.Status, len(rep.Results))
	for i, r := range rep.Results {
		statuses[i] = r.Status
	}
	require.Equal(t, []worker.Status{
		worker.StatusSent, worker.StatusBlocked, worker.StatusFailed, worker.StatusSent, worker.StatusFailed,
	}, statuses)
	require.Equal(t, "invalid_number", rep.Results[2].ErrorCode)

	// three transport calls, never closer than the delay
	require.Equal(t, 3, prov.count())
	for i := 1; i < len(prov.at); i++ {
		require.GreaterOrEqual(t, prov.at[i].Sub(prov.at[i-1]), 25*time.Millisecond)
	}
}

func TestSendBulk_DelayFollowsSlowTransport(t *testing.T) {
	e, _, prov := setup(t, worker.Options{BulkDelay: 30 * time.Millisecond})
	var (
		mu   sync.Mutex
		ends []time.Time
	)
	prov.send = func(_ context.Context, req provider.SMSRequest) (*provider.SMSResponse, error) {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return provider.Envelope(req.To, provider.StatusOK, ""), nil
	}

	rep := e.SendBulk(context.Background(), worker.BulkRequest{
		Recipients: []string{"15550000001", "15550000002", "15550000003"},
		From:       "Acme",
		Text:       "hi",
	})
	require.Equal(t, 3, rep.Sent)
	require.Len(t, prov.at, 3)
	for i := 1; i < len(prov.at); i++ {
		require.GreaterOrEqual(t, prov.at[i].Sub(ends[i-1]), 25*time.Millisecond)
	}
}

func TestSendBulk_CanceledRemainderFails(t *testing.T) {
	e, _, prov := setup(t, worker.Options{BulkDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	prov.send = func(_ context.Context, req provider.SMSRequest) (*provider.SMSResponse, error) {
		cancel()
		return provider.Envelope(req.To, provider.StatusOK, ""), nil
	}

	rep := e.SendBulk(ctx, worker.BulkRequest{Recipients: []string{"1", "2", "3"}, Text: "x"})
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, 2, rep.Failed)
	require.Equal(t, 1, prov.count())
}

func TestRelay(t *testing.T) {
	e, _, prov := setup(t, worker.Options{})
	ctx := context.Background()
	req := provider.SMSRequest{APIKey: "k", APISecret: "s", To: "447700900000", From: "Acme", Text: "hi"}

	t.Run("blocked", func(t *testing.T) {
		resp := e.Relay(ctx, req)
		require.Equal(t, provider.StatusOptedOut, resp.First().Status)
		require.Equal(t, provider.OptedOutErrorText, resp.First().ErrorText)
		require.Zero(t, prov.count())
	})

	t.Run("missing field", func(t *testing.T) {
		r := req
		r.From = ""
		resp := e.Relay(ctx, r)
		require.Equal(t, provider.StatusMissingParams, resp.First().Status)
		require.Equal(t, "Missing from", resp.First().ErrorText)
	})

	t.Run("verbatim pass-through", func(t *testing.T) {
		raw := []byte(`{"message-count":"1","messages":[{"to":"15550001111","message-id":"abc","status":"0","network":"23410"}]}`)
		prov.send = func(context.Context, provider.SMSRequest) (*provider.SMSResponse, error) {
			return &provider.SMSResponse{MessageCount: "1", Messages: []provider.SMSMessage{{Status: "0"}}, Raw: raw, HTTPStatus: 200}, nil
		}
		r := req
		r.To = "15550001111"
		resp := e.Relay(ctx, r)
		require.Equal(t, raw, resp.Raw)
		require.Equal(t, "k", prov.calls[0].APIKey)
	})

	t.Run("transport error", func(t *testing.T) {
		prov.send = func(context.Context, provider.SMSRequest) (*provider.SMSResponse, error) {
			return nil, errors.New("dial tcp: refused")
		}
		r := req
		r.To = "15550001111"
		resp := e.Relay(ctx, r)
		require.Equal(t, provider.StatusInternalError, resp.First().Status)
	})
}
