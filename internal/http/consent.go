package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/go-chi/chi/v5"
)

type numberRequest struct {
	Number string `json:"number" validate:"required"`
}

type bulkNumbersRequest struct {
	Numbers []string `json:"numbers" validate:"required,min=1"`
}

func (s *Server) listOptOuts(w http.ResponseWriter, r *http.Request) {
	if detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed")); detailed {
		writeJSON(w, http.StatusOK, map[string]any{"optouts": s.Store.OptOutEntries(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"optouts": s.Store.ListOptOuts(r.Context())})
}

func (s *Server) optOut(w http.ResponseWriter, r *http.Request) {
	s.singleChange(w, r, core.ActionOptOut)
}

func (s *Server) optIn(w http.ResponseWriter, r *http.Request) {
	s.singleChange(w, r, core.ActionOptIn)
}

func (s *Server) singleChange(w http.ResponseWriter, r *http.Request, action core.Action) {
	var in numberRequest
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Store.Apply(r.Context(), core.Change{Action: action, Number: in.Number, ReceivedOn: core.SourceManual})
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return
	}
	// removing an absent number is a no-op reported as notFound, not a 404
	if res.Outcome == core.OutcomeInvalid {
		s.writeError(w, r, core.NewValidationError("invalid_number", "number must contain digits"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"number":  res.Number,
		"outcome": res.Outcome,
		"blocked": action == core.ActionOptOut,
	})
}

type bulkOptOutReport struct {
	Total          int      `json:"total"`
	Added          []string `json:"added"`
	AlreadyBlocked []string `json:"alreadyBlocked"`
	Invalid        []string `json:"invalid"`
}

type bulkOptInReport struct {
	Total    int      `json:"total"`
	Removed  []string `json:"removed"`
	NotFound []string `json:"notFound"`
	Invalid  []string `json:"invalid"`
}

func (s *Server) bulkChanges(w http.ResponseWriter, r *http.Request, action core.Action) ([]core.ChangeResult, bool) {
	var in bulkNumbersRequest
	if err := s.decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	changes := make([]core.Change, len(in.Numbers))
	for i, n := range in.Numbers {
		changes[i] = core.Change{Action: action, Number: n, ReceivedOn: core.SourceAPI}
	}
	res, err := s.Store.ApplyBatch(r.Context(), changes)
	if err = settle(w, err); err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return res, true
}

func (s *Server) bulkOptOut(w http.ResponseWriter, r *http.Request) {
	res, ok := s.bulkChanges(w, r, core.ActionOptOut)
	if !ok {
		return
	}
	rep := bulkOptOutReport{Total: len(res), Added: []string{}, AlreadyBlocked: []string{}, Invalid: []string{}}
	for _, c := range res {
		switch c.Outcome {
		case core.OutcomeAdded:
			rep.Added = append(rep.Added, c.Original)
		case core.OutcomeAlreadyBlocked:
			rep.AlreadyBlocked = append(rep.AlreadyBlocked, c.Original)
		default:
			rep.Invalid = append(rep.Invalid, c.Original)
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) bulkOptIn(w http.ResponseWriter, r *http.Request) {
	res, ok := s.bulkChanges(w, r, core.ActionOptIn)
	if !ok {
		return
	}
	rep := bulkOptInReport{Total: len(res), Removed: []string{}, NotFound: []string{}, Invalid: []string{}}
	for _, c := range res {
		switch c.Outcome {
		case core.OutcomeRemoved:
			rep.Removed = append(rep.Removed, c.Original)
		case core.OutcomeNotFound:
			rep.NotFound = append(rep.NotFound, c.Original)
		default:
			rep.Invalid = append(rep.Invalid, c.Original)
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) checkNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	n := core.Normalize(number)
	writeJSON(w, http.StatusOK, map[string]any{
		"number":     number,
		"normalized": n,
		"blocked":    s.Store.IsBlocked(r.Context(), n),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	window := core.DefaultStatsWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			s.writeError(w, r, core.NewValidationError("invalid_field", "hours must be a positive integer"))
			return
		}
		window = time.Duration(h) * time.Hour
	}
	st := s.Store.Stats(r.Context(), window)
	writeJSON(w, http.StatusOK, map[string]any{
		"optins":      st.Optins,
		"optouts":     st.Optouts,
		"total":       st.Total(),
		"blocked":     s.Store.OptOutCount(r.Context()),
		"windowHours": int(window / time.Hour),
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var hq core.HistoryQuery
	var err error
	if hq.Start, err = parseDate(q.Get("startDate")); err != nil {
		s.writeError(w, r, core.NewValidationError("invalid_field", "startDate must be YYYY-MM-DD or RFC3339"))
		return
	}
	if hq.End, err = parseDate(q.Get("endDate")); err != nil {
		s.writeError(w, r, core.NewValidationError("invalid_field", "endDate must be YYYY-MM-DD or RFC3339"))
		return
	}
	if a := core.Action(q.Get("action")); a != "" {
		if !a.Valid() {
			s.writeError(w, r, core.NewValidationError("invalid_field", "action must be optin or optout"))
			return
		}
		hq.Action = a
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": s.Store.QueryHistory(r.Context(), hq)})
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := settle(w, s.Store.ClearHistory(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	_, err := time.Parse(time.DateOnly, v)
	return nil, err
}
