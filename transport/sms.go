package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSConfig configures the SMS vendor client.
type SMSConfig struct {
	// URL is the vendor's message-create endpoint.
	URL string

	// AccountSID and AuthToken form the basic-auth credential pair.
	AccountSID string
	AuthToken  string

	// From is the sending phone number.
	From string

	// Timeout bounds one send attempt.
	Timeout time.Duration
}

// SMS sends text messages over the vendor's HTTPS API. The vendor
// acknowledges an accepted message with 201 Created.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
}

// NewSMS builds an SMS client.
func NewSMS(cfg SMSConfig) *SMS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &SMS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send posts one SMS to the vendor.
func (s *SMS) Send(ctx context.Context, to, body string) Outcome {
	form := url.Values{}
	form.Set("From", s.cfg.From)
	form.Set("To", to)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return NetworkFailure(err)
	}
	defer resp.Body.Close()

	return ClassifyStatus(resp.StatusCode, http.StatusCreated)
}
