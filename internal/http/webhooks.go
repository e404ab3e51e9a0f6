package httpapi

import (
	"net/http"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"go.uber.org/zap"
)

// inbound always answers 200. Any other status makes the provider retry the
// same message, which would only repeat the outcome.
func (s *Server) inbound(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		s.Log.Warn("inbound payload unreadable", zap.Error(err))
	}
	msg, ok := core.ParseInbound(fields)
	if !ok {
		s.Log.Debug("inbound discarded", zap.Any("fields", fields))
		w.WriteHeader(http.StatusOK)
		return
	}
	s.Store.HandleInbound(r.Context(), msg)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deliveryReceipt(w http.ResponseWriter, r *http.Request) {
	fields, err := requestFields(r)
	if err != nil {
		s.Log.Warn("delivery receipt unreadable", zap.Error(err))
	}
	s.Log.Info("delivery receipt",
		zap.String("message_id", fields["messageId"]),
		zap.String("msisdn", fields["msisdn"]),
		zap.String("to", fields["to"]),
		zap.String("status", fields["status"]),
		zap.String("err_code", fields["err-code"]))
	w.WriteHeader(http.StatusOK)
}
