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
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"paysettle/core/events"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Paysettle-Signature"
	// EventHeader names the settlement event type of the delivery.
	EventHeader = "X-Paysettle-Event"
	// DeliveryHeader repeats the delivery identifier for idempotent receivers.
	DeliveryHeader = "X-Paysettle-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultTimeout     = 15 * time.Second
	defaultQueueSize   = 256
)

var (
	ErrEndpointRequired = errors.New("webhook: endpoint required")
	ErrSecretRequired   = errors.New("webhook: secret required")
	ErrClosed           = errors.New("webhook: dispatcher closed")
	ErrQueueFull        = errors.New("webhook: queue full")
)

// Payload is the JSON body posted for each committed settlement event.
type Payload struct {
	DeliveryID string            `json:"deliveryId"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// Dispatcher posts settlement events to a single endpoint with retry and
// exponential backoff. It implements events.Emitter so it can sit behind the
// envelope next to the journal; only committed events ever reach it.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration. Non-positive values keep
// the defaults.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff > 0 && maxBackoff >= d.minBackoff {
			d.maxBackoff = maxBackoff
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and starts its delivery worker.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if len(secret) == 0 {
		return nil, ErrSecretRequired
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxBackoff < d.minBackoff {
		d.maxBackoff = d.minBackoff
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops the worker and waits for the in-flight delivery to finish.
// Queued deliveries that have not started are dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit implements events.Emitter. Events without a wire payload are ignored
// and a full queue drops the delivery with a warning rather than blocking the
// settlement path.
func (d *Dispatcher) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if d == nil || payload == nil {
		return
	}
	if _, err := d.Enqueue(payload.Type, payload.Attributes); err != nil {
		d.logger.Warn("webhook delivery dropped", "type", payload.Type, "error", err)
	}
}

// Enqueue schedules a delivery and returns its identifier.
func (d *Dispatcher) Enqueue(eventType string, attributes map[string]string) (string, error) {
	if d == nil {
		return "", errors.New("webhook: dispatcher not initialised")
	}
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	body := Payload{
		DeliveryID: uuid.NewString(),
		Type:       eventType,
		Attributes: attrs,
		EmittedAt:  d.now().UTC(),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	job := delivery{id: body.DeliveryID, eventType: eventType, body: data}
	select {
	case <-d.ctx.Done():
		return "", ErrClosed
	default:
	}
	select {
	case d.queue <- job:
		return job.id, nil
	case <-d.ctx.Done():
		return "", ErrClosed
	default:
		return "", ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	backoff := d.minBackoff
	timeout := d.client.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			d.logger.Debug("webhook delivered", "delivery", job.id, "type", job.eventType, "attempt", attempt)
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery abandoned", "delivery", job.id, "type", job.eventType, "attempts", attempt, "error", err)
			return
		}
		d.logger.Warn("webhook delivery failed", "delivery", job.id, "attempt", attempt, "retry_in", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, job.eventType)
	req.Header.Set(DeliveryHeader, job.id)
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
