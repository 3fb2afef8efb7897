package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = fmt.Errorf("lock held by another process: %w", ErrConcurrencyConflict)

// WeightTicketLockKey builds redis keys for weight ticket transitions.
func WeightTicketLockKey(ticketID int64) string {
	return fmt.Sprintf("weightticket:%d:lock", ticketID)
}

// SignatureLockKey builds redis keys for a single signature slot.
func SignatureLockKey(transportID uuid.UUID, role string) string {
	return fmt.Sprintf("signature:%s:%s:lock", transportID, role)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const lockRetryInterval = 20 * time.Millisecond

// Locker hands out short-lived redis locks for critical sections.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLocker constructs a Locker. A nil client yields a no-op locker. Callers
// wait up to ttl for a held key.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, ttl: ttl, wait: ttl}
}

// WithWait caps how long WithLock waits for a held key.
func (l *Locker) WithWait(wait time.Duration) *Locker {
	if wait > 0 {
		l.wait = wait
	}
	return l
}

// WithLock runs fn while holding key. When the key is taken it polls until
// the holder releases it, returning ErrLockHeld once the wait elapses.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback required")
	}
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}()
	return fn(ctx)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()
	retry := time.NewTicker(lockRetryInterval)
	defer retry.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
		case <-deadline.C:
			return ErrLockHeld
		case <-retry.C:
		}
	}
}
