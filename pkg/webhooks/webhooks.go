package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Turnstile-Event"
	HeaderEventID   = "X-Turnstile-Event-ID"
	HeaderAttempt   = "X-Turnstile-Delivery-Attempt"
	HeaderSignature = "X-Turnstile-Signature"
)

// Format selects the request body layout.
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
	FormatTeams Format = "teams"
)

// ErrQueueFull is returned by Log when the delivery queue has no room.
var ErrQueueFull = errors.New("webhook queue is full")

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("webhook notifier is closed")

// DefaultEvents are the actions forwarded when Config.Events is empty.
var DefaultEvents = []audit.Action{
	audit.ActionLoginFailed,
	audit.ActionRefreshReuse,
	audit.ActionLogoutAll,
	audit.ActionPermissionGrant,
	audit.ActionPermissionGrantTemporary,
	audit.ActionPermissionTemplateApply,
	audit.ActionPermissionClone,
	audit.ActionPermissionRevoke,
}

// Config configures a Notifier.
type Config struct {
	URL    string
	Secret string
	Format Format
	Events []audit.Action

	// Timeout bounds a single delivery attempt.
	Timeout   time.Duration
	QueueSize int
	Retry     RetryConfig
}

// Payload is the body of a FormatJSON delivery.
type Payload struct {
	ID        string       `json:"id"`
	Type      audit.Action `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Event     *audit.Event `json:"data"`
}

// Notifier forwards security events to a single HTTP endpoint. It
// implements audit.Logger: Log enqueues and returns immediately, and one
// worker delivers the queue in order with retries.
type Notifier struct {
	cfg     Config
	events  map[audit.Action]bool
	client  *http.Client
	retry   *RetryPolicy
	logger  *observability.Logger
	metrics *observability.Metrics
	stats   DeliveryStats

	mu     sync.RWMutex
	closed bool
	queue  chan *Payload
	done   chan struct{}
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithLogger(l *observability.Logger) Option {
	return func(n *Notifier) { n.logger = observability.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// NewNotifier validates cfg and starts the delivery worker.
func NewNotifier(cfg Config, opts ...Option) (*Notifier, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid webhook URL %q", cfg.URL)
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatJSON
	case FormatJSON, FormatSlack, FormatTeams:
	default:
		return nil, fmt.Errorf("unknown webhook format %q", cfg.Format)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}

	n := &Notifier{
		cfg:    cfg,
		events: make(map[audit.Action]bool, len(cfg.Events)),
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		retry:  NewRetryPolicy(cfg.Retry),
		logger: observability.NewNopLogger(),
		queue:  make(chan *Payload, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for _, a := range cfg.Events {
		n.events[a] = true
	}
	for _, opt := range opts {
		opt(n)
	}

	go n.run()
	return n, nil
}

// Subscribed reports whether events with action are forwarded.
func (n *Notifier) Subscribed(action audit.Action) bool {
	return n.events[action]
}

// Log queues event for delivery. Unsubscribed actions are ignored.
func (n *Notifier) Log(_ context.Context, event *audit.Event) error {
	if event == nil || !n.events[event.Action] {
		return nil
	}
	p := &Payload{
		ID:        uuid.NewString(),
		Type:      event.Action,
		Timestamp: event.Timestamp,
		Event:     event,
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- p:
		return nil
	default:
		n.stats.add(DeliveryDropped)
		n.metrics.WebhookDelivery(string(DeliveryDropped))
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queued ones to be
// delivered or to exhaust their retries.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
	return nil
}

// Stats returns the delivery counters.
func (n *Notifier) Stats() DeliveryStats {
	return n.stats.snapshot()
}

func (n *Notifier) run() {
	defer close(n.done)
	for p := range n.queue {
		n.deliver(p)
	}
}

func (n *Notifier) deliver(p *Payload) {
	defer observability.RecoverPanic(n.logger, "webhook delivery")

	body, err := n.render(p)
	if err != nil {
		n.logger.WithError(err).WithField("event_id", p.ID).Error("Failed to render webhook payload")
		n.stats.add(DeliveryFailed)
		n.metrics.WebhookDelivery(string(DeliveryFailed))
		return
	}

	for attempt := 1; ; attempt++ {
		err := n.send(p, body, attempt)
		if err == nil {
			n.stats.add(DeliverySuccess)
			n.metrics.WebhookDelivery(string(DeliverySuccess))
			return
		}
		if !n.retry.ShouldRetry(attempt, err) {
			n.stats.add(DeliveryFailed)
			n.metrics.WebhookDelivery(string(DeliveryFailed))
			n.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id": p.ID,
				"action":   string(p.Type),
				"attempts": attempt,
			}).Error("Webhook delivery failed")
			return
		}
		n.stats.add(DeliveryRetrying)
		n.metrics.WebhookDelivery(string(DeliveryRetrying))
		time.Sleep(n.retry.NextRetryDelay(attempt))
	}
}

func (n *Notifier) render(p *Payload) ([]byte, error) {
	var v interface{} = p
	switch n.cfg.Format {
	case FormatSlack:
		v = FormatSlackMessage(p)
	case FormatTeams:
		v = FormatTeamsMessage(p)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return body, nil
}

func (n *Notifier) send(p *Payload, body []byte, attempt int) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(p.Type))
	req.Header.Set(HeaderEventID, p.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	if n.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, n.cfg.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header on the receiving side.
func VerifySignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
