package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basis/pkg/errors"
)

func TestMemoryManagerAcquireRelease(t *testing.T) {
	m := NewMemoryManager(time.Minute)
	defer m.Close()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "key")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "key", lease.Key)

	require.NoError(t, m.Release(ctx, lease))

	// Released key is immediately acquirable
	again, err := m.Acquire(ctx, "key")
	require.NoError(t, err)
	assert.NotEqual(t, lease.Token, again.Token)
}

func TestMemoryManagerConflict(t *testing.T) {
	m := NewMemoryManager(time.Minute)
	defer m.Close()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "key")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockConflict))
}

func TestMemoryManagerIndependentKeys(t *testing.T) {
	m := NewMemoryManager(time.Minute)
	defer m.Close()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "b")
	require.NoError(t, err)
}

func TestMemoryManagerTTLExpiry(t *testing.T) {
	m := NewMemoryManager(20 * time.Millisecond)
	defer m.Close()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "key")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	// Expired lease no longer blocks acquisition
	_, err = m.Acquire(ctx, "key")
	require.NoError(t, err)
}

func TestMemoryManagerStaleReleaseIsNoop(t *testing.T) {
	m := NewMemoryManager(time.Minute)
	defer m.Close()
	ctx := context.Background()

	first, err := m.Acquire(ctx, "key")
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, first))

	second, err := m.Acquire(ctx, "key")
	require.NoError(t, err)

	// Releasing the superseded lease must not free the current holder
	require.NoError(t, m.Release(ctx, first))
	_, err = m.Acquire(ctx, "key")
	assert.True(t, errors.Is(err, errors.ErrLockConflict))

	require.NoError(t, m.Release(ctx, second))
}

func TestMemoryManagerReleaseNil(t *testing.T) {
	m := NewMemoryManager(time.Minute)
	defer m.Close()

	assert.NoError(t, m.Release(context.Background(), nil))
}

func TestMemoryManagerConcurrentAcquire(t *testing.T) {
	m := NewMemoryManager(time.Minute)
	defer m.Close()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(ctx, "contested"); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

func TestLockKeys(t *testing.T) {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	positionID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t,
		"hedge:open:11111111-1111-1111-1111-111111111111:BTCUSDT",
		OpenKey(userID, "BTCUSDT"))
	assert.Equal(t,
		"hedge:close:22222222-2222-2222-2222-222222222222",
		CloseKey(positionID))
}
