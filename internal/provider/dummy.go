package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Dummy accepts every message after a short delay. FailureRate (0..1) makes a
// share of sends come back with upstream status 5.
type Dummy struct {
	Latency     time.Duration
	FailureRate float64
	Numbers     []OwnedNumber
}

func NewDummy() *Dummy {
	return &Dummy{
		Latency: 50 * time.Millisecond,
		Numbers: []OwnedNumber{{MSISDN: "447418317717", Country: "GB", Type: "mobile-lvn", Features: []string{"SMS"}}},
	}
}

func (d *Dummy) Send(ctx context.Context, req SMSRequest) (*SMSResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.Latency):
	}
	if d.FailureRate > 0 && rand.Float64() < d.FailureRate {
		return Envelope(req.To, StatusInternalError, "Internal Error"), nil
	}
	r := Envelope(req.To, StatusOK, "")
	r.Messages[0].MessageID = uuid.NewString()
	return withRaw(r), nil
}

func (d *Dummy) OwnedNumbers(ctx context.Context, _, _ string) ([]OwnedNumber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]OwnedNumber{}, d.Numbers...), nil
}
