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

	"pynthchain/core/events"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second

	signatureHeader = "X-Pynth-Signature"
	eventHeader     = "X-Pynth-Event"
)

var (
	ErrDispatcherClosed = errors.New("webhook: dispatcher closed")
	ErrQueueFull        = errors.New("webhook: queue full")
)

// DefaultTopics are the ledger events forwarded when no topics are configured.
var DefaultTopics = []string{
	events.TypeFeePeriodClosed,
	events.TypeAccountFlagged,
	events.TypeAccountLiquidated,
	events.TypeLoanLiquidated,
}

// Payload is the webhook body for a ledger event.
type Payload struct {
	Type       string            `json:"type"`
	DeliveryID string            `json:"deliveryId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes"`
}

// Dispatcher delivers ledger events to a single endpoint with retry and
// exponential backoff. Bodies are signed with HMAC-SHA256.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	topics      map[string]struct{}
	logger      *slog.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
	seq    uint64
	seqMu  sync.Mutex
}

type delivery struct {
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

// WithTopics restricts forwarding to the listed event types.
func WithTopics(topics ...string) Option {
	return func(d *Dispatcher) {
		if len(topics) == 0 {
			return
		}
		d.topics = make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			d.topics[topic] = struct{}{}
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
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 64),
	}
	WithTopics(DefaultTopics...)(d)
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit forwards subscribed ledger events. It never blocks the caller; a full
// queue drops the event with a warning.
func (d *Dispatcher) Emit(ev events.Event) {
	if d == nil || ev == nil {
		return
	}
	if _, ok := d.topics[ev.EventType()]; !ok {
		return
	}
	converted := events.ToTypes(ev)
	d.seqMu.Lock()
	d.seq++
	id := fmt.Sprintf("%s-%d-%d", converted.Type, d.now().UnixNano(), d.seq)
	d.seqMu.Unlock()
	payload := Payload{
		Type:       converted.Type,
		DeliveryID: id,
		OccurredAt: d.now().UTC(),
		Attributes: converted.Attributes,
	}
	if err := d.enqueue(payload, false); err != nil {
		d.logger.Warn("webhook dropped", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Enqueue sends payload asynchronously, waiting for queue space.
func (d *Dispatcher) Enqueue(payload Payload) error {
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = d.now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("%s-%d", payload.Type, d.now().UnixNano())
	}
	return d.enqueue(payload, true)
}

func (d *Dispatcher) enqueue(payload Payload, wait bool) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job := delivery{eventType: payload.Type, body: data}
	if !wait {
		select {
		case d.queue <- job:
			return nil
		case <-d.ctx.Done():
			return ErrDispatcherClosed
		default:
			return ErrQueueFull
		}
	}
	select {
	case d.queue <- job:
		return nil
	case <-d.ctx.Done():
		return ErrDispatcherClosed
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
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery abandoned", slog.String("type", job.eventType), slog.Int("attempts", attempt), slog.Any("error", err))
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
	req.Header.Set(eventHeader, job.eventType)
	req.Header.Set(signatureHeader, Sign(d.secret, job.body))
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

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}
