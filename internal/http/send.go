package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/Cypherspark/optout-gateway/internal/provider"
	"github.com/Cypherspark/optout-gateway/internal/worker"
	"go.uber.org/zap"
)

const numbersTimeout = 10 * time.Second

type sendRequest struct {
	To   string `json:"to" validate:"required"`
	From string `json:"from" validate:"required"`
	Text string `json:"text" validate:"required"`
}

type sendBulkRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1"`
	From       string   `json:"from" validate:"required"`
	Text       string   `json:"text" validate:"required"`
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res := s.Engine.Send(r.Context(), worker.SurfaceSingle, worker.Message{To: in.To, From: in.From, Text: in.Text})
	switch {
	case res.Status == worker.StatusBlocked:
		s.writeError(w, r, core.NewPolicyRejection(res.Normalized))
	case res.ErrorCode == "invalid_number":
		s.writeError(w, r, core.NewValidationError(res.ErrorCode, res.Error))
	case res.ErrorCode == "credentials_missing":
		s.writeError(w, r, core.NewConflictError(res.ErrorCode, res.Error))
	case res.Status == worker.StatusFailed:
		s.writeError(w, r, core.NewTransportError(res.ErrorCode, res.Error))
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) sendBulk(w http.ResponseWriter, r *http.Request) {
	var in sendBulkRequest
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rep := s.Engine.SendBulk(r.Context(), worker.BulkRequest{Recipients: in.Recipients, From: in.From, Text: in.Text})
	writeJSON(w, http.StatusOK, rep)
}

type numberView struct {
	Number      string   `json:"number"`
	Source      string   `json:"source"` // provider | custom
	Country     string   `json:"country,omitempty"`
	Type        string   `json:"type,omitempty"`
	Features    []string `json:"features,omitempty"`
	Description string   `json:"description,omitempty"`
}

// numbers lists the account's numbers followed by the custom sender ids. A
// provider failure still returns the custom senders, with the reason attached.
func (s *Server) numbers(w http.ResponseWriter, r *http.Request) {
	out := []numberView{}
	body := map[string]any{}

	creds := s.Store.Credentials(r.Context())
	switch {
	case !creds.Configured():
		body["providerError"] = "provider credentials are not configured"
	default:
		ctx, cancel := context.WithTimeout(r.Context(), numbersTimeout)
		owned, err := s.Provider.OwnedNumbers(ctx, creds.APIKey, creds.APISecret)
		cancel()
		if err != nil {
			s.Log.Warn("listing provider numbers failed", zap.Error(err))
			body["providerError"] = err.Error()
			break
		}
		for _, n := range owned {
			out = append(out, numberView{Number: n.MSISDN, Source: "provider", Country: n.Country, Type: n.Type, Features: n.Features})
		}
	}
	for _, snd := range s.Store.ListSenders(r.Context()) {
		out = append(out, numberView{Number: snd.SenderID, Source: "custom", Type: "alphanumeric", Description: snd.Description})
	}
	body["numbers"] = out
	writeJSON(w, http.StatusOK, body)
}

// smsJSON is the drop-in replacement for the provider's /sms/json: same
// fields in, same envelope out, with the opt-out list enforced in between.
func (s *Server) smsJSON(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		s.Log.Debug("sms/json body unreadable", zap.Error(err))
	}
	resp := s.Engine.Relay(r.Context(), provider.SMSRequest{
		APIKey:    fields["api_key"],
		APISecret: fields["api_secret"],
		To:        fields["to"],
		From:      fields["from"],
		Text:      fields["text"],
	})

	status := resp.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	raw := resp.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(resp)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
