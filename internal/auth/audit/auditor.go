// Package audit records security events. Every event lands in an in-process
// ring and the security log synchronously; durable sinks and alert mail are
// fed by a background worker so the request path never waits on them.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/metrics"
	"github.com/victorgomez09/jobguard/internal/store"
)

// Config tunes the background delivery of events.
type Config struct {
	RingSize         int              // Events kept in process.
	QueueSize        int              // Pending events for the durable sinks; overflow is dropped.
	SinkTimeout      time.Duration    // Deadline of a single sink write.
	AlertMinInterval time.Duration    // Minimum spacing between two alerts.
	Now              func() time.Time // Clock override for tests.
}

// Auditor is safe for concurrent use. Log never returns an error.
type Auditor struct {
	cfg     Config
	ring    *store.MemoryAudit
	sinks   []store.AuditStore
	alerter Alerter
	alerts  *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	queue  chan models.AuditEvent
	closed bool
	done   chan struct{}

	subsMu  sync.RWMutex
	subs    map[int]chan models.AuditEvent
	nextSub int
}

// New starts the delivery worker. logger should be the dedicated security logger.
func New(cfg Config, sinks []store.AuditStore, alerter Alerter, logger *zap.Logger, m *metrics.Metrics) *Auditor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 2 * time.Second
	}
	if cfg.AlertMinInterval <= 0 {
		cfg.AlertMinInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if alerter == nil {
		alerter = NoopAlerter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Auditor{
		cfg:     cfg,
		ring:    store.NewMemoryAudit(cfg.RingSize),
		sinks:   sinks,
		alerter: alerter,
		alerts:  rate.NewLimiter(rate.Every(cfg.AlertMinInterval), 1),
		logger:  logger,
		metrics: m,
		queue:   make(chan models.AuditEvent, cfg.QueueSize),
		done:    make(chan struct{}),
		subs:    make(map[int]chan models.AuditEvent),
	}
	go a.run()
	return a
}

// Log records an event. Severity is derived from the event type.
func (a *Auditor) Log(eventType models.EventType, userID, address string, details map[string]any) {
	event := models.AuditEvent{
		Timestamp:     a.cfg.Now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		SourceAddress: address,
		Details:       details,
		Severity:      models.SeverityOf(eventType),
	}

	_ = a.ring.Append(context.Background(), event)
	a.mirror(event)
	a.metrics.AuditEvent(string(event.EventType), string(event.Severity))
	a.publish(event)
	a.enqueue(event)
}

func (a *Auditor) mirror(event models.AuditEvent) {
	fields := []zap.Field{
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.SourceAddress != "" {
		fields = append(fields, zap.String("ip_address", event.SourceAddress))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	switch event.Severity {
	case models.SeverityHigh:
		a.logger.Warn("Security event", fields...)
	default:
		a.logger.Info("Security event", fields...)
	}
}

func (a *Auditor) enqueue(event models.AuditEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- event:
	default:
		a.metrics.AuditDrop()
		a.logger.Warn("Audit queue full, event not persisted",
			zap.String("event_type", string(event.EventType)))
	}
}

func (a *Auditor) run() {
	defer close(a.done)
	for event := range a.queue {
		a.deliver(event)
	}
}

func (a *Auditor) deliver(event models.AuditEvent) {
	for _, sink := range a.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SinkTimeout)
		if err := sink.Append(ctx, event); err != nil {
			a.logger.Error("Failed to persist security event",
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
		}
		cancel()
	}

	if event.Severity == models.SeverityHigh && a.alerts.AllowN(a.cfg.Now(), 1) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.alerter.Alert(ctx, event); err != nil {
			a.logger.Error("Failed to send security alert",
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
		}
		cancel()
	}
}

// Recent returns up to limit events, newest first. The first sink is asked
// first; the in-process ring answers when there is none or it fails.
func (a *Auditor) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if len(a.sinks) > 0 {
		sinkCtx, cancel := context.WithTimeout(ctx, a.cfg.SinkTimeout)
		defer cancel()
		events, err := a.sinks[0].Recent(sinkCtx, limit)
		if err == nil {
			return events, nil
		}
		a.logger.Warn("Audit sink unavailable, serving in-process events", zap.Error(err))
	}
	return a.ring.Recent(ctx, limit)
}

// Subscribe returns a channel receiving every new event. Slow subscribers
// miss events rather than block the caller. cancel must be called once done.
func (a *Auditor) Subscribe(buffer int) (<-chan models.AuditEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.AuditEvent, buffer)

	a.subsMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subsMu.Lock()
			delete(a.subs, id)
			a.subsMu.Unlock()
			close(ch)
		})
	}
}

func (a *Auditor) publish(event models.AuditEvent) {
	a.subsMu.RLock()
	defer a.subsMu.RUnlock()
	for _, ch := range a.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close stops accepting durable writes and waits for the queue to drain.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return errors.New("audit: timed out draining queue")
	}
}
