package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	// JobLockPrefix namespaces scheduler job leases in redis.
	JobLockPrefix = "billingschedule:scheduler:"
	// DefaultJobLockTTL outlives the longest job deadline (30m metrics run).
	DefaultJobLockTTL = 35 * time.Minute
)

var (
	ErrJobLocksUnconfigured = errors.New("job_locks_unconfigured")
	ErrEmptyJobName         = errors.New("empty_job_name")
	ErrLeaseLost            = errors.New("job_lease_lost")
)

// Both scripts act only while the key still carries the caller's token, so a
// replica whose lease expired cannot extend or delete its successor's lease.
const (
	releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
	extendLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
)

type leaseStore interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisLeaseStore struct {
	client        *redis.Client
	extendScript  *redis.Script
	releaseScript *redis.Script
}

func (r *redisLeaseStore) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, token, ttl).Result()
}

func (r *redisLeaseStore) extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := r.extendScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int()
	return n == 1, err
}

func (r *redisLeaseStore) release(ctx context.Context, key, token string) error {
	return r.releaseScript.Run(ctx, r.client, []string{key}, token).Err()
}

// JobLocks hands out per-job leases so that one replica at a time runs a
// scheduler job.
type JobLocks struct {
	store leaseStore
	ttl   time.Duration
}

// NewJobLocks returns nil when no redis client is configured; a nil JobLocks
// means jobs run unserialized.
func NewJobLocks(client *redis.Client) *JobLocks {
	if client == nil {
		return nil
	}
	return &JobLocks{
		store: &redisLeaseStore{
			client:        client,
			extendScript:  redis.NewScript(extendLeaseScript),
			releaseScript: redis.NewScript(releaseLeaseScript),
		},
		ttl: DefaultJobLockTTL,
	}
}

// JobLockKey is the redis key guarding job.
func JobLockKey(job string) string {
	return JobLockPrefix + strings.ToLower(strings.TrimSpace(job))
}

// Lease is a held job lock.
type Lease struct {
	store leaseStore
	Key   string
	token string
	ttl   time.Duration

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// Acquire tries to take the lease for job. ok is false when another replica
// holds it. A non-positive ttl uses DefaultJobLockTTL.
func (l *JobLocks) Acquire(ctx context.Context, job string, ttl time.Duration) (_ *Lease, ok bool, _ error) {
	if l == nil || l.store == nil {
		return nil, false, ErrJobLocksUnconfigured
	}
	if strings.TrimSpace(job) == "" {
		return nil, false, ErrEmptyJobName
	}
	if ttl <= 0 {
		ttl = l.ttl
	}

	key := JobLockKey(job)
	token := uuid.NewString()
	ok, err := l.store.acquire(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{store: l.store, Key: key, token: token, ttl: ttl}, true, nil
}

// Extend pushes the lease expiry out by its ttl. It returns ErrLeaseLost when
// the key expired or now belongs to another holder.
func (le *Lease) Extend(ctx context.Context) error {
	ok, err := le.store.extend(ctx, le.Key, le.token, le.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// KeepAlive extends the lease every third of its ttl until Release or ctx
// ends. onLost is called once if an extension fails, after which the lease is
// no longer refreshed.
func (le *Lease) KeepAlive(ctx context.Context, onLost func(error)) {
	le.keepAlive(ctx, le.ttl/3, onLost)
}

func (le *Lease) keepAlive(ctx context.Context, every time.Duration, onLost func(error)) {
	if every <= 0 {
		return
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	le.stop = cancel
	le.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := le.Extend(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					if onLost != nil {
						onLost(err)
					}
					return
				}
			}
		}
	}()
}

// Release stops any keep-alive and deletes the key if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	le.mu.Lock()
	stop, done := le.stop, le.done
	le.stop = nil
	le.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return le.store.release(ctx, le.Key, le.token)
}
