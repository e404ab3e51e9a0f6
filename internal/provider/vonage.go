package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultVonageURL = "https://rest.nexmo.com"

// Vonage talks to the Vonage (Nexmo) SMS REST API, or anything wire
// compatible with it.
type Vonage struct {
	baseURL string
	client  *http.Client
}

func NewVonage(baseURL string, timeout time.Duration) *Vonage {
	if baseURL == "" {
		baseURL = DefaultVonageURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Vonage{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Send posts req as a form. Any decodable envelope is returned, whatever
// the HTTP status, so callers can relay it unchanged.
func (v *Vonage) Send(ctx context.Context, req SMSRequest) (*SMSResponse, error) {
	form := url.Values{
		"api_key":    {req.APIKey},
		"api_secret": {req.APISecret},
		"to":         {req.To},
		"from":       {req.From},
		"text":       {req.Text},
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/sms/json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hreq.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var sr SMSResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("unexpected status code: %d body=%q: %w", resp.StatusCode, string(body), err)
	}
	sr.Raw = body
	sr.HTTPStatus = resp.StatusCode
	return &sr, nil
}

type numbersResponse struct {
	Count   int           `json:"count"`
	Numbers []OwnedNumber `json:"numbers"`
}

func (v *Vonage) OwnedNumbers(ctx context.Context, apiKey, apiSecret string) ([]OwnedNumber, error) {
	q := url.Values{"api_key": {apiKey}, "api_secret": {apiSecret}}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/account/numbers?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var nr numbersResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return nr.Numbers, nil
}
