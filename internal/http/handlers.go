package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/Cypherspark/optout-gateway/internal/provider"
	"github.com/Cypherspark/optout-gateway/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

type Server struct {
	Store    *core.Store
	Engine   *worker.Engine
	Provider provider.Provider
	Events   *EventHub
	Log      *zap.Logger

	validate *validator.Validate
}

func NewServer(store *core.Store, engine *worker.Engine, prov provider.Provider, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names in validation messages
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		Store:    store,
		Engine:   engine,
		Provider: prov,
		Events:   NewEventHub(log.Named("events")),
		Log:      log,
		validate: v,
	}
	store.Subscribe(s.Events.Publish)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(s.Log), middleware.Recoverer, instrument)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/credentials", s.getCredentials)
		r.Post("/credentials", s.setCredentials)
		r.Post("/credentials/unlock", s.unlockCredentials)
		r.Post("/credentials/lock", s.lockCredentials)

		r.Get("/configs", s.listConfigs)
		r.Post("/configs", s.createConfig)
		r.Put("/configs/{id}", s.updateConfig)
		r.Delete("/configs/{id}", s.deleteConfig)

		r.Get("/senders", s.listSenders)
		r.Post("/senders", s.createSender)
		r.Post("/senders/bulk", s.createSenders)
		r.Delete("/senders/{id}", s.deleteSender)

		r.Get("/optouts", s.listOptOuts)
		r.Post("/optout", s.optOut)
		r.Post("/optin", s.optIn)
		r.Post("/optout/bulk", s.bulkOptOut)
		r.Post("/optin/bulk", s.bulkOptIn)
		r.Get("/check/{number}", s.checkNumber)

		r.Get("/stats", s.stats)
		r.Get("/history", s.history)
		r.Delete("/history", s.clearHistory)

		r.Get("/numbers", s.numbers)
		r.Post("/send", s.send)
		r.Post("/send/bulk", s.sendBulk)

		r.Handle("/events", s.Events)
	})

	r.Get("/webhooks/inbound", s.inbound)
	r.Post("/webhooks/inbound", s.inbound)
	r.Get("/webhooks/status", s.deliveryReceipt)
	r.Post("/webhooks/status", s.deliveryReceipt)

	r.Get("/sms/json", s.smsJSON)
	r.Post("/sms/json", s.smsJSON)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := core.StatusCode(err)
	var ae *core.AppError
	if errors.As(err, &ae) {
		writeJSON(w, status, errorBody{Error: ae.Code, Message: ae.Message})
		return
	}
	s.Log.Error("request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeJSON(w, status, errorBody{Error: "internal_error", Message: err.Error()})
}

// settle turns a persistence failure into a response header. The change
// itself is live in this process, so the request still succeeds.
func settle(w http.ResponseWriter, err error) error {
	if errors.Is(err, core.ErrNotPersisted) {
		w.Header().Set("X-Persistence-Degraded", "true")
		return nil
	}
	return err
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := s.decodeOnly(r, v); err != nil {
		return err
	}
	return s.check(v)
}

func (s *Server) decodeOnly(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.NewValidationError("invalid_body", "request body is empty")
		}
		return core.NewValidationError("invalid_body", "request body is not valid JSON").WithCause(err)
	}
	return nil
}

// check runs struct validation and names the offending fields.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return core.NewValidationError("invalid_body", err.Error())
	}
	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
	}
	if len(missing) > 0 {
		return core.NewValidationError("missing_field", "Missing "+strings.Join(missing, ", "))
	}
	return core.NewValidationError("invalid_field", "Invalid "+strings.Join(invalid, ", "))
}

// requestFields flattens a query string and a JSON or form body into one map,
// body values winning. Webhook and wire compatible endpoints accept all three.
func requestFields(r *http.Request) (map[string]string, error) {
	out := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	if r.Method == http.MethodGet || r.Body == nil {
		return out, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "" {
		ct = sniffBody(r)
	}
	switch ct {
	case "application/json":
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return out, err
		}
		for k, v := range body {
			if v == nil {
				continue
			}
			out[k] = fmt.Sprint(v)
		}
	default:
		r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
		if err := r.ParseForm(); err != nil {
			return out, err
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out, nil
}

// sniffBody guesses the type of an unlabelled body. Some providers post JSON
// webhooks without a Content-Type.
func sniffBody(r *http.Request) string {
	br := bufio.NewReader(r.Body)
	r.Body = struct {
		io.Reader
		io.Closer
	}{br, r.Body}
	for {
		b, err := br.Peek(1)
		if err != nil {
			return ""
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.Discard(1)
		case '{':
			return "application/json"
		default:
			return ""
		}
	}
}
