// Package notify delivers structured events to the configured email
// webhook endpoint. Delivery is best effort: the notifier retries
// transient failures a bounded number of times, logs the outcome, and
// reports success as a boolean rather than an error.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const (
	maxAttempts    = 3
	requestTimeout = 30 * time.Second
)

// Event is the webhook payload. Only fields relevant to the event kind
// are populated.
type Event struct {
	EventType   string `json:"event_type"`
	To          string `json:"to,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	FromEmail   string `json:"from_email,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body,omitempty"`
	BodyHTML    string `json:"body_html,omitempty"`
	SigningLink string `json:"signing_link,omitempty"`
	QuizLink    string `json:"quiz_link,omitempty"`
	TrackingID  string `json:"tracking_id,omitempty"`
	QuizID      string `json:"quiz_id,omitempty"`
	Message     string `json:"message,omitempty"`
	Data        any    `json:"data,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Notifier posts events to a single webhook endpoint.
type Notifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	// backoff returns the wait before retrying after the given
	// zero-based attempt. Tests override it to avoid sleeping.
	backoff func(attempt int) time.Duration
}

func New(endpoint string, logger *slog.Logger) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
		backoff:  exponentialJitter,
	}
}

// NewWithBackoff is used by tests to control the retry wait.
func NewWithBackoff(endpoint string, logger *slog.Logger, backoff func(int) time.Duration) *Notifier {
	n := New(endpoint, logger)
	n.backoff = backoff
	return n
}

// Configured reports whether a webhook endpoint is set.
func (n *Notifier) Configured() bool { return n.endpoint != "" }

func exponentialJitter(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt)) + rand.Float64()
	return time.Duration(secs * float64(time.Second))
}

// Send delivers the event. Up to three attempts are made: 5xx responses
// and request timeouts back off and retry, anything else is terminal.
// Send never returns transport errors to the caller; it logs and reports
// false.
func (n *Notifier) Send(ctx context.Context, ev Event) bool {
	if n.endpoint == "" {
		n.logger.Warn("webhook endpoint not configured, dropping event", "event_type", ev.EventType)
		return false
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("marshal webhook payload", "event_type", ev.EventType, "error", err)
		return false
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		status, err := n.post(ctx, payload)
		switch {
		case err == nil && (status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted):
			n.logger.Info("webhook sent", "event_type", ev.EventType, "attempts", attempt+1)
			return true
		case err == nil && status >= 500:
			// Server error, worth retrying.
		case err == nil:
			n.logger.Error("webhook rejected", "event_type", ev.EventType, "status", status)
			return false
		case isTimeout(err):
			if attempt == maxAttempts-1 {
				n.logger.Error("webhook timeout after all retries", "event_type", ev.EventType)
				return false
			}
		default:
			n.logger.Error("webhook error", "event_type", ev.EventType, "error", err)
			return false
		}

		if attempt < maxAttempts-1 {
			wait := n.backoff(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				n.logger.Error("webhook cancelled", "event_type", ev.EventType, "error", ctx.Err())
				return false
			}
		}
	}
	n.logger.Error("webhook failed after all retries", "event_type", ev.EventType)
	return false
}

func (n *Notifier) post(ctx context.Context, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
