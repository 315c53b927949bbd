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
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventBadgeMinted is emitted when a badge record is created for a new
	// holder/account/asset relationship.
	EventBadgeMinted EventType = "badge.minted"
	// EventBadgeStatusChanged is emitted for every applied status update.
	EventBadgeStatusChanged EventType = "badge.status.changed"

	// HeaderEvent carries the webhook topic.
	HeaderEvent = "X-SB-Event"
	// HeaderSignature carries the HMAC signature of the request body.
	HeaderSignature = "X-SB-Signature"
	// HeaderDelivery carries the unique delivery identifier.
	HeaderDelivery = "X-SB-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// MintedPayload describes the webhook body for badge mint events.
type MintedPayload struct {
	Type       EventType `json:"type"`
	BadgeID    string    `json:"badgeId"`
	Owner      string    `json:"owner"`
	Sequence   uint64    `json:"sequence"`
	ObservedAt time.Time `json:"observedAt"`
	DeliveryID string    `json:"deliveryId"`
}

// StatusChangedPayload describes the webhook body for status transitions.
type StatusChangedPayload struct {
	Type        EventType `json:"type"`
	BadgeID     string    `json:"badgeId"`
	Holder      string    `json:"holder"`
	Account     string    `json:"account"`
	Asset       string    `json:"asset"`
	Rate        string    `json:"rate"`
	WindowStart uint32    `json:"windowStart"`
	WindowEnd   uint32    `json:"windowEnd"`
	Kind        string    `json:"kind"`
	Sequence    uint64    `json:"sequence"`
	ObservedAt  time.Time `json:"observedAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential
// backoff. With an outbox attached, queued deliveries survive restarts and are
// replayed before live traffic; receivers must tolerate at-least-once
// delivery and deduplicate on the delivery id.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *log.Logger
	outbox      *Outbox
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	key   []byte // outbox key, nil for in-memory deliveries
	id    string
	event EventType
	body  []byte
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

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithOutbox persists queued deliveries to the supplied store. The dispatcher
// replays pending entries on startup; the caller keeps ownership of the
// outbox and closes it after the dispatcher.
func WithOutbox(outbox *Outbox) Option {
	return func(d *Dispatcher) {
		d.outbox = outbox
	}
}

// WithLogger overrides the destination for delivery failure logs.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      log.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 32),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for the inflight delivery to settle.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueMinted sends a mint event asynchronously.
func (d *Dispatcher) EnqueueMinted(payload MintedPayload) error {
	payload.Type = EventBadgeMinted
	if payload.ObservedAt.IsZero() {
		payload.ObservedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.NewString()
	}
	return d.enqueue(payload.Type, payload.DeliveryID, payload)
}

// EnqueueStatusChanged sends a status transition event asynchronously.
func (d *Dispatcher) EnqueueStatusChanged(payload StatusChangedPayload) error {
	payload.Type = EventBadgeStatusChanged
	if payload.ObservedAt.IsZero() {
		payload.ObservedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = uuid.NewString()
	}
	return d.enqueue(payload.Type, payload.DeliveryID, payload)
}

func (d *Dispatcher) enqueue(eventType EventType, id string, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	job := delivery{id: id, event: eventType, body: data}
	if d.outbox != nil {
		key, err := d.outbox.put(storedDelivery{
			ID:         id,
			Event:      eventType,
			Body:       data,
			EnqueuedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("webhook: persist delivery: %w", err)
		}
		job.key = key
	}
	select {
	case d.queue <- job:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	d.replayPending()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

// replayPending drains deliveries a previous run left in the outbox.
func (d *Dispatcher) replayPending() {
	if d.outbox == nil {
		return
	}
	entries, err := d.outbox.pending()
	if err != nil {
		d.logger.Printf("webhook: load pending deliveries: %v", err)
		return
	}
	for _, entry := range entries {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		d.process(delivery{key: entry.key, id: entry.record.ID, event: entry.record.Event, body: entry.record.Body})
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			if d.outbox != nil {
				if err := d.outbox.delete(job.key); err != nil {
					d.logger.Printf("webhook: settle delivery %s: %v", job.id, err)
				}
			}
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Printf("webhook: delivery %s failed after %d attempts: %v", job.id, attempt, err)
			if d.outbox != nil {
				// Entry stays pending and is retried on the next start.
				if err := d.outbox.recordAttempts(job.key, attempt); err != nil {
					d.logger.Printf("webhook: record attempts for %s: %v", job.id, err)
				}
			}
			return
		}
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
	req.Header.Set(HeaderEvent, string(job.event))
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	req.Header.Set(HeaderDelivery, job.id)
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

// Sign computes the signature header value for a payload.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether a signature header matches the payload. Receivers
// call it before trusting a delivery.
func Verify(secret, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
