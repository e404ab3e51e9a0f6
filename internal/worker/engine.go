package worker

import (
	"context"
	"errors"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/Cypherspark/optout-gateway/internal/metrics"
	"github.com/Cypherspark/optout-gateway/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Send surfaces, used as metric and span labels.
const (
	SurfaceSingle = "single"
	SurfaceBulk   = "bulk"
	SurfaceShim   = "shim"
)

type Status string

const (
	StatusSent    Status = "sent"
	StatusBlocked Status = "blocked"
	StatusFailed  Status = "failed"
)

// Store is what the engine needs from the consent store.
type Store interface {
	Authorize(ctx context.Context, to string) (core.Decision, string)
	Credentials(ctx context.Context) core.Credentials
}

type Options struct {
	SendTimeout time.Duration // per transport call
	BulkDelay   time.Duration // gap between bulk transport calls
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.BulkDelay < 0 {
		o.BulkDelay = 0
	}
	return o
}

type Message struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

type Result struct {
	To         string `json:"to"`
	Normalized string `json:"normalized"`
	Status     Status `json:"status"`
	MessageID  string `json:"messageId,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`

	Response *provider.SMSResponse `json:"-"`
}

// Engine runs every outbound send through the gate before the transport.
type Engine struct {
	store  Store
	prov   provider.Provider
	log    *zap.Logger
	opt    Options
	tracer trace.Tracer
}

func NewEngine(store Store, prov provider.Provider, log *zap.Logger, opt Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:  store,
		prov:   prov,
		log:    log,
		opt:    opt.withDefaults(),
		tracer: otel.Tracer("github.com/Cypherspark/optout-gateway/internal/worker"),
	}
}

// Send delivers one message with the stored credentials.
func (e *Engine) Send(ctx context.Context, surface string, msg Message) Result {
	return e.send(ctx, surface, msg, nil)
}

// send runs the gate then the transport. wait, when set, is called right
// before the transport so pacing only applies to real sends.
func (e *Engine) send(ctx context.Context, surface string, msg Message, wait func() error) Result {
	res := Result{To: msg.To}

	dec, n := e.authorize(ctx, surface, msg.To)
	res.Normalized = n
	if n == "" {
		res.Status, res.ErrorCode, res.Error = StatusFailed, "invalid_number", "recipient has no digits"
		return res
	}
	if dec == core.Reject {
		res.Status, res.ErrorCode, res.Error = StatusBlocked, "number_opted_out", "recipient has opted out"
		return res
	}

	creds := e.store.Credentials(ctx)
	if !creds.Configured() {
		res.Status, res.ErrorCode, res.Error = StatusFailed, "credentials_missing", "provider credentials are not configured"
		return res
	}
	if wait != nil {
		if err := wait(); err != nil {
			res.Status, res.ErrorCode, res.Error = StatusFailed, "canceled", err.Error()
			return res
		}
	}

	resp, err := e.transport(ctx, surface, provider.SMSRequest{
		APIKey: creds.APIKey, APISecret: creds.APISecret,
		To: msg.To, From: msg.From, Text: msg.Text,
	})
	res.Response = resp
	switch {
	case err != nil:
		res.Status, res.ErrorCode, res.Error = StatusFailed, "transport_error", err.Error()
	case !resp.Accepted():
		m := resp.First()
		res.Status, res.ErrorCode, res.Error = StatusFailed, m.Status, m.ErrorText
	default:
		res.Status, res.MessageID = StatusSent, resp.First().MessageID
	}
	return res
}

// Relay serves the wire compatible endpoint: credentials come from the
// request and the upstream envelope goes back untouched. Missing fields,
// opted out recipients and transport errors are answered in the same
// envelope shape.
func (e *Engine) Relay(ctx context.Context, req provider.SMSRequest) *provider.SMSResponse {
	for _, f := range []struct{ name, val string }{
		{"api_key", req.APIKey},
		{"api_secret", req.APISecret},
		{"to", req.To},
		{"from", req.From},
		{"text", req.Text},
	} {
		if f.val == "" {
			return provider.Envelope(req.To, provider.StatusMissingParams, "Missing "+f.name)
		}
	}

	if dec, _ := e.authorize(ctx, SurfaceShim, req.To); dec == core.Reject {
		return provider.Envelope(req.To, provider.StatusOptedOut, provider.OptedOutErrorText)
	}

	resp, err := e.transport(ctx, SurfaceShim, req)
	if err != nil {
		return provider.Envelope(req.To, provider.StatusInternalError, err.Error())
	}
	return resp
}

func (e *Engine) authorize(ctx context.Context, surface, to string) (core.Decision, string) {
	_, span := e.tracer.Start(ctx, "gate.authorize", trace.WithAttributes(attribute.String("surface", surface)))
	defer span.End()

	dec, n := e.store.Authorize(ctx, to)
	span.SetAttributes(attribute.String("decision", string(dec)))
	metrics.GateDecisions.WithLabelValues(surface, string(dec)).Inc()
	if dec == core.Reject {
		e.log.Info("send blocked", zap.String("surface", surface), zap.String("to", n))
	}
	return dec, n
}

// transport calls the provider under the send timeout.
func (e *Engine) transport(ctx context.Context, surface string, req provider.SMSRequest) (*provider.SMSResponse, error) {
	ctx, span := e.tracer.Start(ctx, "provider.send", trace.WithAttributes(attribute.String("surface", surface)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, e.opt.SendTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.prov.Send(cctx, req)
	metrics.ProviderSendDuration.Observe(time.Since(start).Seconds())
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}

	switch {
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New("provider timed out after " + e.opt.SendTimeout.String())
		}
		metrics.ProviderSendTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn("provider send failed", zap.String("surface", surface), zap.Error(err))
		return nil, err
	case !resp.Accepted():
		metrics.ProviderSendTotal.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, resp.First().ErrorText)
		e.log.Warn("provider rejected message",
			zap.String("surface", surface),
			zap.String("status", resp.First().Status),
			zap.String("error_text", resp.First().ErrorText))
	default:
		metrics.ProviderSendTotal.WithLabelValues("sent").Inc()
	}
	return resp, nil
}
