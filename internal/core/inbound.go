package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

type InboundMessage struct {
	From string
	To   string
	Text string
}

// ParseInbound picks the sender, destination and body out of a webhook
// payload, accepting both msisdn/from and text/message field names. ok is
// false when the sender or the body is missing.
func ParseInbound(fields map[string]string) (msg InboundMessage, ok bool) {
	msg = InboundMessage{
		From: firstNonEmpty(fields["msisdn"], fields["from"]),
		To:   fields["to"],
		Text: firstNonEmpty(fields["text"], fields["message"]),
	}
	return msg, msg.From != "" && msg.Text != ""
}

type InboundResult struct {
	Classification Classification
	ConfigID       string
	Change         *ChangeResult
}

// HandleInbound classifies an inbound message and applies the resulting
// consent change. It never fails: problems are logged and the message is
// dropped, since the provider retries anything but a success.
func (s *Store) HandleInbound(ctx context.Context, msg InboundMessage) InboundResult {
	log := s.log.With(zap.String("from", msg.From), zap.String("to", msg.To))

	if strings.TrimSpace(msg.From) == "" || strings.TrimSpace(msg.Text) == "" {
		log.Info("inbound discarded: missing from or text")
		return InboundResult{}
	}

	class, cfg := Classify(s.ListConfigs(ctx), msg.To, msg.Text)
	if cfg == nil {
		log.Debug("inbound ignored: no rule set for destination")
		return InboundResult{}
	}
	res := InboundResult{Classification: class, ConfigID: cfg.ID}

	var c Change
	switch class {
	case ClassOptOut:
		c = Change{Action: ActionOptOut, AlwaysRecord: true}
	case ClassOptIn:
		c = Change{Action: ActionOptIn, AlwaysRecord: !s.optinNeedsRemoval}
	default:
		log.Debug("inbound ignored: text matched no phrase", zap.String("config_id", cfg.ID))
		return res
	}
	c.Number = msg.From
	c.ReceivedOn = Normalize(msg.To)
	c.ConfigID = cfg.ID

	r, err := s.Apply(ctx, c)
	res.Change = &r
	switch {
	case errors.Is(err, ErrNotPersisted):
		log.Warn("inbound change kept in memory only", zap.Error(err))
	case err != nil:
		log.Error("inbound change failed", zap.Error(err))
	}
	log.Info("inbound consent change",
		zap.String("action", class.String()),
		zap.String("number", r.Number),
		zap.String("outcome", string(r.Outcome)),
		zap.String("config_id", cfg.ID))
	return res
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
