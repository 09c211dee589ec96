package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weezyhq/recon/model"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockIsExclusivePerKey(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := model.RunKey{Processor: "PAYSTACK", Date: time.Date(2023, 10, 27, 0, 0, 0, 0, time.UTC)}

	first := NewRunLocker(client, key)
	second := NewRunLocker(client, key)

	require.NoError(t, first.Lock(ctx, time.Minute))
	assert.Error(t, second.Lock(ctx, time.Minute))

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestUnlockOnlyByHolder(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := model.RunKey{Processor: "PAYSTACK", Date: time.Date(2023, 10, 27, 0, 0, 0, 0, time.UTC)}

	holder := NewRunLocker(client, key)
	impostor := NewRunLocker(client, key)

	require.NoError(t, holder.Lock(ctx, time.Minute))
	assert.Error(t, impostor.Unlock(ctx))
	assert.NoError(t, holder.Unlock(ctx))
}

func TestWaitLockAcquiresAfterRelease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	locker := NewLocker(client, "recon:lock:test", "v1")
	require.NoError(t, locker.Lock(ctx, time.Minute))

	waiter := NewLocker(client, "recon:lock:test", "v2")
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = locker.Unlock(ctx)
	}()

	assert.NoError(t, waiter.WaitLock(ctx, time.Minute, 2*time.Second))
}

func TestWaitLockTimesOut(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	locker := NewLocker(client, "recon:lock:held", "v1")
	require.NoError(t, locker.Lock(ctx, time.Minute))

	waiter := NewLocker(client, "recon:lock:held", "v2")
	assert.Error(t, waiter.WaitLock(ctx, time.Minute, 300*time.Millisecond))
}
