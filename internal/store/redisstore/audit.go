package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victorgomez09/jobguard/internal/auth/models"
)

const (
	auditPrefix = "security_events:"
	// DefaultAuditRetention is how long a daily event list is kept.
	DefaultAuditRetention = 30 * 24 * time.Hour
)

// Audit pushes events onto one list per UTC day.
type Audit struct {
	client    redis.UniversalClient
	retention time.Duration
	now       func() time.Time
}

func NewAudit(client redis.UniversalClient, retention time.Duration) *Audit {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &Audit{client: client, retention: retention, now: time.Now}
}

func dayKey(t time.Time) string {
	return auditPrefix + t.UTC().Format("2006-01-02")
}

func (a *Audit) Append(ctx context.Context, event models.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	key := dayKey(event.Timestamp)
	_, err = a.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, payload)
		p.Expire(ctx, key, a.retention)
		return nil
	})
	return err
}

// Recent returns up to limit of today's events, newest first.
func (a *Audit) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}

	raw, err := a.client.LRange(ctx, dayKey(a.now()), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.AuditEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.AuditEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
