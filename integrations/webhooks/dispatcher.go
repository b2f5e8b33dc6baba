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
	"sync"
	"time"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventLoanFunded is emitted when a lender funds an invoice.
	EventLoanFunded EventType = "loan.funded"
	// EventLoanRepaid is emitted when a borrower settles a loan.
	EventLoanRepaid EventType = "loan.repaid"
	// EventLoanDefaulted is emitted when the oracle records a default.
	EventLoanDefaulted EventType = "loan.defaulted"
	// EventLoanBookReady is emitted when a loan-book export is written.
	EventLoanBookReady EventType = "loanbook.ready"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// LoanEventPayload describes the webhook body for loan lifecycle events.
type LoanEventPayload struct {
	Type       EventType         `json:"type"`
	Sequence   uint64            `json:"sequence"`
	InvoiceID  string            `json:"invoiceId"`
	Attributes map[string]string `json:"attributes"`
	OccurredAt time.Time         `json:"occurredAt"`
	DeliveryID string            `json:"deliveryId"`
}

// LoanBookReadyPayload describes the webhook body for finished exports.
type LoanBookReadyPayload struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"runId"`
	Rows        int       `json:"rows"`
	Files       []string  `json:"files"`
	Checksum    string    `json:"checksum"`
	GeneratedAt time.Time `json:"generatedAt"`
	DeliveryID  string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType EventType
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

// WithLogger reports deliveries that exhaust their retries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
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

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
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
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
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

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueLoanEvent sends a loan lifecycle event asynchronously.
func (d *Dispatcher) EnqueueLoanEvent(payload LoanEventPayload) error {
	if payload.Type == "" {
		return errors.New("webhook: event type required")
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("%s-%s-%d", payload.Type, payload.InvoiceID, payload.Sequence)
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueLoanBookReady announces a finished export asynchronously.
func (d *Dispatcher) EnqueueLoanBookReady(payload LoanBookReadyPayload) error {
	payload.Type = EventLoanBookReady
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = "loanbook-" + payload.RunID
	}
	return d.enqueue(payload.Type, payload)
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
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
	if err := d.deliver(d.ctx, job); err != nil {
		d.logger.Warn("webhook delivery abandoned",
			slog.String("event", string(job.eventType)),
			slog.Any("error", err))
	}
}

// deliver retries job until it succeeds, the attempts run out or ctx ends.
func (d *Dispatcher) deliver(ctx context.Context, job delivery) error {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, d.client.Timeout)
		err := d.send(callCtx, job)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= d.maxAttempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

// DeliverLoanBookReady sends the export notification synchronously, bypassing
// the queue. It is meant for one-shot tools that exit right after.
func (d *Dispatcher) DeliverLoanBookReady(ctx context.Context, payload LoanBookReadyPayload) error {
	payload.Type = EventLoanBookReady
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = "loanbook-" + payload.RunID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.deliver(ctx, delivery{eventType: payload.Type, body: data})
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Factoring-Event", string(job.eventType))
	req.Header.Set("X-Factoring-Signature", d.sign(job.body))
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

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
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
