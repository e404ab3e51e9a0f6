package httpapi

import (
	"net/http"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/go-chi/chi/v5"
)

type credentialsView struct {
	core.Credentials
	Configured bool `json:"configured"`
}

func credentialsBody(c core.Credentials) credentialsView {
	return credentialsView{Credentials: c.Masked(), Configured: c.Configured()}
}

type credentialsRequest struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

func (s *Server) getCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, credentialsBody(s.Store.Credentials(r.Context())))
}

// setCredentials leaves required-field checks to the store so the message
// matches across callers.
func (s *Server) setCredentials(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.Store.SetCredentials(r.Context(), in.APIKey, in.APISecret)
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Log.Info("credentials updated")
	writeJSON(w, http.StatusOK, credentialsBody(c))
}

func (s *Server) unlockCredentials(w http.ResponseWriter, r *http.Request) {
	c, err := s.Store.UnlockCredentials(r.Context())
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialsBody(c))
}

func (s *Server) lockCredentials(w http.ResponseWriter, r *http.Request) {
	c, err := s.Store.LockCredentials(r.Context())
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialsBody(c))
}

func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"configs": s.Store.ListConfigs(r.Context())})
}

func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	var in core.ConfigInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.Store.CreateConfig(r.Context(), in)
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var in core.ConfigInput
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.Store.UpdateConfig(r.Context(), chi.URLParam(r, "id"), in)
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := settle(w, s.Store.DeleteConfig(r.Context(), chi.URLParam(r, "id"))); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) listSenders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"senders": s.Store.ListSenders(r.Context())})
}

func (s *Server) createSender(w http.ResponseWriter, r *http.Request) {
	var in core.SenderInput
	// sender validation lives in the store
	if err := s.decodeOnly(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sender, err := s.Store.CreateSender(r.Context(), in)
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sender)
}

type bulkSendersRequest struct {
	Senders []core.SenderInput `json:"senders"`
}

type bulkSendersReport struct {
	Results []core.SenderResult `json:"results"`
	Created int                 `json:"created"`
	Skipped int                 `json:"skipped"`
	Invalid int                 `json:"invalid"`
}

func (s *Server) createSenders(w http.ResponseWriter, r *http.Request) {
	var in bulkSendersRequest
	if err := s.decodeOnly(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(in.Senders) == 0 {
		s.writeError(w, r, core.NewValidationError("missing_field", "Missing senders"))
		return
	}
	results, err := s.Store.CreateSenders(r.Context(), in.Senders)
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	rep := bulkSendersReport{Results: results}
	for _, res := range results {
		switch res.Status {
		case core.SenderCreated:
			rep.Created++
		case core.SenderSkipped:
			rep.Skipped++
		default:
			rep.Invalid++
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) deleteSender(w http.ResponseWriter, r *http.Request) {
	if err := settle(w, s.Store.DeleteSender(r.Context(), chi.URLParam(r, "id"))); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
