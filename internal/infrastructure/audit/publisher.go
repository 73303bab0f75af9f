package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/metrics"
)

// RecordKind classifies an outbound compliance record.
type RecordKind string

const (
	KindSecurityIncident  RecordKind = "security_incident"
	KindConsentRevocation RecordKind = "consent_revocation"
	KindIsolation         RecordKind = "client_isolation"
)

// Record is one structured compliance record for the notification/audit
// sink.
type Record struct {
	Kind       RecordKind      `json:"kind"`
	TenantID   string          `json:"tenant_id"`
	ClientID   string          `json:"client_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Sink is the external delivery boundary. Delivery is fire-and-forget from
// the decision path's perspective.
type Sink interface {
	Deliver(ctx context.Context, record Record) error
}

// Publisher is a bounded asynchronous fan-out to the audit sink. A slow or
// unavailable sink never blocks the decision path: when the queue is full
// the record is dropped and counted.
type Publisher struct {
	logger  *zap.Logger
	sink    Sink
	metrics *metrics.Registry

	queue        chan Record
	flushTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher starts the delivery worker with the given queue depth.
func NewPublisher(logger *zap.Logger, sink Sink, reg *metrics.Registry, queueDepth int, flushTimeout time.Duration) *Publisher {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		logger:       logger,
		sink:         sink,
		metrics:      reg,
		queue:        make(chan Record, queueDepth),
		flushTimeout: flushTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues a record without blocking. Reports whether the record
// was accepted; a full queue drops it and increments the drop counter.
func (p *Publisher) Publish(record Record) bool {
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	select {
	case p.queue <- record:
		return true
	default:
		p.metrics.AuditDropped.Inc()
		p.logger.Warn("audit record dropped, queue full",
			zap.String("kind", string(record.Kind)),
			zap.String("tenant_id", record.TenantID))
		return false
	}
}

// PublishJSON marshals the payload and enqueues it.
func (p *Publisher) PublishJSON(kind RecordKind, tenantID, clientID, userID string, payload interface{}) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("audit payload marshal failed",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return false
	}
	return p.Publish(Record{
		Kind:     kind,
		TenantID: tenantID,
		ClientID: clientID,
		UserID:   userID,
		Payload:  raw,
	})
}

// Close stops accepting work and drains the queue within the flush timeout.
func (p *Publisher) Close() {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.flushTimeout):
		p.logger.Warn("audit publisher close timed out, records may be undelivered")
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case record := <-p.queue:
			p.deliver(record)
		case <-p.ctx.Done():
			// Drain whatever is already queued.
			for {
				select {
				case record := <-p.queue:
					p.deliver(record)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(record Record) {
	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()

	if err := p.sink.Deliver(ctx, record); err != nil {
		p.metrics.AuditDropped.Inc()
		p.logger.Error("audit delivery failed",
			zap.String("kind", string(record.Kind)),
			zap.Error(err))
		return
	}
	p.metrics.AuditPublished.Inc()
}

// NopSink discards records; used when no sink is configured.
type NopSink struct{}

// Deliver implements Sink.
func (NopSink) Deliver(ctx context.Context, record Record) error { return nil }
