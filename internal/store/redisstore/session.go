package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/store"
)

const (
	sessionPrefix     = "session:"
	userSessionPrefix = "user_sessions:"
)

// Sessions keeps each session as JSON under session:<id> with the inactivity
// timeout as TTL, plus a per-user index set used for bulk revocation.
type Sessions struct {
	client redis.UniversalClient
	// indexTTL bounds the lifetime of the per-user index set.
	indexTTL time.Duration
}

// NewSessions returns a Redis session store. indexTTL should be at least the
// refresh token lifetime.
func NewSessions(client redis.UniversalClient, indexTTL time.Duration) *Sessions {
	if indexTTL <= 0 {
		indexTTL = 30 * 24 * time.Hour
	}
	return &Sessions{client: client, indexTTL: indexTTL}
}

func (s *Sessions) Save(ctx context.Context, session models.Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionPrefix+session.ID, payload, ttl)
		p.SAdd(ctx, userSessionPrefix+session.UserID, session.ID)
		p.Expire(ctx, userSessionPrefix+session.UserID, s.indexTTL)
		return nil
	})
	return err
}

func (s *Sessions) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *Sessions) Touch(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	session.LastActivityAt = at

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	// XX keeps a concurrent delete from being undone
	return s.client.SetXX(ctx, sessionPrefix+sessionID, payload, ttl).Err()
}

func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionPrefix+sessionID)
		p.SRem(ctx, userSessionPrefix+session.UserID, sessionID)
		return nil
	})
	return err
}

func (s *Sessions) DeleteUser(ctx context.Context, userID string) (int, error) {
	indexKey := userSessionPrefix + userID
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionPrefix+id)
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.Del(ctx, keys...)
		p.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed.Val()), nil
}
