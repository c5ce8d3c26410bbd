// Package ledger remembers which posts the responder has already answered.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultTTL = 7 * 24 * time.Hour

// Modes keep dry-run claims apart from live ones, so a post answered only in
// dev mode still gets a real reply later.
const (
	ModeLive   = "live"
	ModeDryRun = "dryrun"
)

// ReplyLedger hands out at most one claim per post id until the claim is
// released or expires.
type ReplyLedger interface {
	Claim(ctx context.Context, postID string) (bool, error)
	Release(ctx context.Context, postID string) error
}

// MemoryLedger is a process-local ledger used when no Redis is configured.
type MemoryLedger struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (m *MemoryLedger) Claim(_ context.Context, postID string) (bool, error) {
	if postID == "" {
		return false, errors.New("post id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)
	if _, ok := m.claims[postID]; ok {
		return false, nil
	}
	m.claims[postID] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryLedger) Release(_ context.Context, postID string) error {
	m.mu.Lock()
	delete(m.claims, postID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) expireLocked(now time.Time) {
	for id, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, id)
		}
	}
}

// RedisLedger shares claims across replicas with SET NX and a TTL.
type RedisLedger struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(client goredis.UniversalClient, accountID, mode string, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if mode == "" {
		mode = ModeLive
	}
	return &RedisLedger{
		client: client,
		prefix: fmt.Sprintf("{bosun:%s}:replied:%s:", accountID, mode),
		ttl:    ttl,
	}
}

func (r *RedisLedger) Claim(ctx context.Context, postID string) (bool, error) {
	if postID == "" {
		return false, errors.New("post id is required")
	}
	ok, err := r.client.SetNX(ctx, r.prefix+postID, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", postID, err)
	}
	return ok, nil
}

func (r *RedisLedger) Release(ctx context.Context, postID string) error {
	if err := r.client.Del(ctx, r.prefix+postID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", postID, err)
	}
	return nil
}
