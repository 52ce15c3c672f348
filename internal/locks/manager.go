package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"basis/pkg/errors"
	"basis/pkg/logger"
)

// Lease is the proof of lock ownership. Release requires the lease so a
// caller can never release a lock it does not hold.
type Lease struct {
	Key       string
	Token     uuid.UUID
	ExpiresAt time.Time
}

// Manager provides non-blocking per-key mutual exclusion with TTL-bounded
// leases. Acquire fails immediately with ErrLockConflict when the key is
// held: callers are interactive requests expecting a fast response and are
// expected to retry. The TTL bounds how long a crashed holder can keep a key
// locked; positions orphaned in a transitional state past the TTL are handled
// by the reconciler worker.
type Manager interface {
	Acquire(ctx context.Context, key string) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// OpenKey builds the lock key guarding hedge opens for one user and symbol
func OpenKey(userID uuid.UUID, symbol string) string {
	return fmt.Sprintf("hedge:open:%s:%s", userID, symbol)
}

// CloseKey builds the lock key guarding one position's close
func CloseKey(positionID uuid.UUID) string {
	return fmt.Sprintf("hedge:close:%s", positionID)
}

// MemoryManager is an in-process lock table. It is explicitly constructed and
// injected rather than kept as ambient global state; Close is the teardown
// hook stopping the expiry janitor.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]*Lease
	ttl    time.Duration
	stop   chan struct{}
	once   sync.Once
	log    *logger.Logger
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager creates a lock manager with the given lease TTL
func NewMemoryManager(ttl time.Duration) *MemoryManager {
	m := &MemoryManager{
		leases: make(map[string]*Lease),
		ttl:    ttl,
		stop:   make(chan struct{}),
		log:    logger.Get().With("component", "lock_manager"),
	}
	go m.janitor()
	return m
}

// Acquire takes the lock for key or fails with ErrLockConflict
func (m *MemoryManager) Acquire(ctx context.Context, key string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.leases[key]; ok && existing.ExpiresAt.After(now) {
		return nil, errors.Wrapf(errors.ErrLockConflict, "key %s", key)
	}

	lease := &Lease{
		Key:       key,
		Token:     uuid.New(),
		ExpiresAt: now.Add(m.ttl),
	}
	m.leases[key] = lease
	return lease, nil
}

// Release frees the lock if the lease still owns it. Releasing an expired or
// superseded lease is a no-op, not an error: the operation already lost the
// lock and its work was fenced off.
func (m *MemoryManager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.leases[lease.Key]; ok && current.Token == lease.Token {
		delete(m.leases, lease.Key)
	}
	return nil
}

// Close stops the expiry janitor
func (m *MemoryManager) Close() {
	m.once.Do(func() {
		close(m.stop)
	})
}

// janitor evicts expired leases so the table stays bounded
func (m *MemoryManager) janitor() {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, lease := range m.leases {
				if !lease.ExpiresAt.After(now) {
					delete(m.leases, key)
					m.log.Warnw("Evicted expired lock lease",
						"key", key,
						"expired_at", lease.ExpiresAt,
					)
				}
			}
			m.mu.Unlock()
		}
	}
}
