package provider

import (
	"context"
	"encoding/json"
)

// Vonage status codes this service relies on. 99 is local: the recipient
// opted out and nothing was sent upstream.
const (
	StatusOK            = "0"
	StatusMissingParams = "2"
	StatusInternalError = "5"
	StatusOptedOut      = "99"
	OptedOutErrorText   = "Number is opted out"
)

// SMSRequest is the /sms/json request body.
type SMSRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	To        string `json:"to"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

type SMSMessage struct {
	To               string `json:"to,omitempty"`
	MessageID        string `json:"message-id,omitempty"`
	Status           string `json:"status"`
	ErrorText        string `json:"error-text,omitempty"`
	RemainingBalance string `json:"remaining-balance,omitempty"`
	MessagePrice     string `json:"message-price,omitempty"`
	Network          string `json:"network,omitempty"`
}

// SMSResponse is the /sms/json response envelope. Raw and HTTPStatus keep the
// upstream reply so it can be relayed byte for byte.
type SMSResponse struct {
	MessageCount string       `json:"message-count"`
	Messages     []SMSMessage `json:"messages"`

	Raw        []byte `json:"-"`
	HTTPStatus int    `json:"-"`
}

// Accepted reports whether every message in the envelope has status 0.
func (r *SMSResponse) Accepted() bool {
	if r == nil || len(r.Messages) == 0 {
		return false
	}
	for _, m := range r.Messages {
		if m.Status != StatusOK {
			return false
		}
	}
	return true
}

// First returns the first message, or a zero value for an empty envelope.
func (r *SMSResponse) First() SMSMessage {
	if r == nil || len(r.Messages) == 0 {
		return SMSMessage{}
	}
	return r.Messages[0]
}

// Envelope builds a single-message response in the upstream shape.
func Envelope(to, status, errorText string) *SMSResponse {
	r := &SMSResponse{
		MessageCount: "1",
		Messages:     []SMSMessage{{To: to, Status: status, ErrorText: errorText}},
		HTTPStatus:   200,
	}
	return withRaw(r)
}

// withRaw refreshes Raw after the envelope has been edited.
func withRaw(r *SMSResponse) *SMSResponse {
	r.Raw, _ = json.Marshal(r)
	return r
}

type OwnedNumber struct {
	MSISDN   string   `json:"msisdn"`
	Country  string   `json:"country,omitempty"`
	Type     string   `json:"type,omitempty"`
	Features []string `json:"features,omitempty"`
}

type Provider interface {
	Send(ctx context.Context, req SMSRequest) (*SMSResponse, error)
	OwnedNumbers(ctx context.Context, apiKey, apiSecret string) ([]OwnedNumber, error)
}
