// Package edge implements the sensor-side half of the pipeline: observation,
// smoothing, classification, and send-or-buffer delivery toward the
// ingestion gateway.
package edge

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/fogline/fogline/pkg/fogline/event"
)

// Outcome is the three-way result of a single delivery attempt.
type Outcome int

const (
	// Delivered means the gateway accepted the event.
	Delivered Outcome = iota

	// Rejected means authentication or validation failed; retrying the
	// same event with the same credentials cannot succeed.
	Rejected

	// TransientFailure means a network or server error; the event should
	// be buffered and retried later.
	TransientFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case TransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// Sender performs one bounded-latency delivery attempt per call. It does not
// touch the buffer; classifying and reacting to the outcome is the caller's
// job.
type Sender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSender creates a sender posting to endpoint with the given API key.
// A non-positive timeout defaults to 5 seconds.
func NewSender(endpoint, apiKey string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send posts the event to the gateway and classifies the result. Timeouts
// and network errors are transient; 4xx auth/validation responses are
// rejected; everything else server-side is transient.
func (s *Sender) Send(ctx context.Context, evt event.Event) Outcome {
	body, err := evt.Encode()
	if err != nil {
		// An unencodable event cannot succeed on retry.
		return Rejected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Rejected
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return TransientFailure
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Delivered
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return Rejected
	default:
		return TransientFailure
	}
}
