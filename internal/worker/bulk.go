package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type BulkRequest struct {
	Recipients []string `json:"recipients"`
	From       string   `json:"from"`
	Text       string   `json:"text"`
}

type BulkReport struct {
	Total   int      `json:"total"`
	Sent    int      `json:"sent"`
	Blocked int      `json:"blocked"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

func (r *BulkReport) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusSent:
		r.Sent++
	case StatusBlocked:
		r.Blocked++
	default:
		r.Failed++
	}
}

// SendBulk sends to each recipient in order, one at a time, waiting
// BulkDelay after each transport call returns before starting the next.
// Blocked and malformed recipients do not consume a slot. Once ctx ends the
// remaining recipients are reported failed.
func (e *Engine) SendBulk(ctx context.Context, req BulkRequest) BulkReport {
	p := newPacer(e.opt.BulkDelay)

	report := BulkReport{Total: len(req.Recipients), Results: make([]Result, 0, len(req.Recipients))}
	for _, to := range req.Recipients {
		if err := ctx.Err(); err != nil {
			report.add(Result{To: to, Status: StatusFailed, ErrorCode: "canceled", Error: err.Error()})
			continue
		}
		msg := Message{To: to, From: req.From, Text: req.Text}
		report.add(e.sendPaced(ctx, p, msg))
	}

	e.log.Info("bulk send finished",
		zap.Int("total", report.Total),
		zap.Int("sent", report.Sent),
		zap.Int("blocked", report.Blocked),
		zap.Int("failed", report.Failed))
	return report
}

func (e *Engine) sendPaced(ctx context.Context, p *pacer, msg Message) Result {
	called := false
	res := e.send(ctx, SurfaceBulk, msg, func() error {
		if err := p.wait(ctx); err != nil {
			return err
		}
		called = true
		return nil
	})
	if called {
		p.sent()
	}
	return res
}

// pacer measures the bulk delay from the end of the previous transport call.
type pacer struct {
	every   rate.Limit
	limiter *rate.Limiter // nil until the first call completes
}

func newPacer(delay time.Duration) *pacer {
	if delay <= 0 {
		return &pacer{every: rate.Inf}
	}
	return &pacer{every: rate.Every(delay)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// sent restarts the interval with its single token already spent.
func (p *pacer) sent() {
	if p.every == rate.Inf {
		return
	}
	p.limiter = rate.NewLimiter(p.every, 1)
	p.limiter.Allow()
}
