package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medvault/internal/models"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	return NewRegistry(Deps{Store: newRedisBackedStore(t), Mailer: &captureMailer{}}, testOptions(clk)), clk
}

func TestRegistry_OpenGetClose(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	c1, err := r.Open(ctx, testIdentity)
	require.NoError(t, err)
	c2, err := r.Open(ctx, models.Identity{UserID: testIdentity.UserID, Email: "new@example.com"})
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, "new@example.com", c1.Identity().Email, "login refreshes contact details")
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(testIdentity.UserID)
	require.True(t, ok)
	assert.Same(t, c1, got)

	require.NoError(t, c1.BeginSetup(ctx, []byte("1234")))
	require.NoError(t, c1.ConfirmSetup(ctx, []byte("1234")))

	assert.True(t, r.Close(testIdentity.UserID))
	assert.False(t, r.Close(testIdentity.UserID))
	assert.Equal(t, Locked, c1.State())
	_, ok = r.Get(testIdentity.UserID)
	assert.False(t, ok)

	// a fresh login finds the vault set up but locked
	c3, err := r.Open(ctx, testIdentity)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, Locked, c3.State())
}

func TestRegistry_ReopenKeepsUnlockBackoff(t *testing.T) {
	ctx := context.Background()
	r, clk := newTestRegistry(t)

	c, err := r.Open(ctx, testIdentity)
	require.NoError(t, err)
	require.NoError(t, c.BeginSetup(ctx, []byte("1234")))
	require.NoError(t, c.ConfirmSetup(ctx, []byte("1234")))
	c.Lock(ctx)

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, c.Unlock(ctx, []byte("0000")), ErrInvalidPin)
	}
	require.ErrorIs(t, c.Unlock(ctx, []byte("1234")), ErrTooManyAttempts)

	// logging out and back in must not clear the count
	require.True(t, r.Close(testIdentity.UserID))
	c, err = r.Open(ctx, testIdentity)
	require.NoError(t, err)
	err = c.Unlock(ctx, []byte("1234"))
	require.ErrorIs(t, err, ErrTooManyAttempts)
	wait, _ := RetryAfter(err)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, time.Second, c.Status().RetryAfter)

	require.True(t, r.Close(testIdentity.UserID))
	c, err = r.Open(ctx, testIdentity)
	require.NoError(t, err)
	require.ErrorIs(t, c.Unlock(ctx, []byte("0000")), ErrTooManyAttempts)

	clk.Advance(time.Second)
	require.ErrorIs(t, c.Unlock(ctx, []byte("0000")), ErrInvalidPin)
	clk.Advance(2 * time.Second)
	require.NoError(t, c.Unlock(ctx, []byte("1234")))

	// a clean limiter is dropped on close
	require.True(t, r.Close(testIdentity.UserID))
	r.mu.RLock()
	_, kept := r.limiters[testIdentity.UserID]
	r.mu.RUnlock()
	assert.False(t, kept)
}

func TestRegistry_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	alice, err := r.Open(ctx, models.Identity{UserID: "alice", Email: "a@example.com"})
	require.NoError(t, err)
	bob, err := r.Open(ctx, models.Identity{UserID: "bob", Email: "b@example.com"})
	require.NoError(t, err)

	for _, c := range []*Controller{alice, bob} {
		require.NoError(t, c.BeginSetup(ctx, []byte("1234")))
		require.NoError(t, c.ConfirmSetup(ctx, []byte("1234")))
	}
	_, err = alice.PutRecord(ctx, "", map[string]string{"diagnosis": "flu"})
	require.NoError(t, err)

	list, err := bob.ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	alice.Lock(ctx)
	assert.Equal(t, Unlocked, bob.State())
}

func TestRegistry_OpenRejectsAnonymous(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Open(context.Background(), models.Identity{})
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistry_LockIdle(t *testing.T) {
	ctx := context.Background()
	r, clk := newTestRegistry(t)

	busy, err := r.Open(ctx, models.Identity{UserID: "busy"})
	require.NoError(t, err)
	idle, err := r.Open(ctx, models.Identity{UserID: "idle"})
	require.NoError(t, err)
	for _, c := range []*Controller{busy, idle} {
		require.NoError(t, c.BeginSetup(ctx, []byte("1234")))
		require.NoError(t, c.ConfirmSetup(ctx, []byte("1234")))
	}

	clk.Advance(10 * time.Minute)
	busy.Touch()
	clk.Advance(6 * time.Minute)

	assert.Equal(t, 1, r.LockIdle(ctx))
	assert.Equal(t, Locked, idle.State())
	assert.Equal(t, Unlocked, busy.State())
}

func TestRegistry_RunIdleLocker(t *testing.T) {
	r, clk := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	c, err := r.Open(ctx, testIdentity)
	require.NoError(t, err)
	require.NoError(t, c.BeginSetup(ctx, []byte("1234")))
	require.NoError(t, c.ConfirmSetup(ctx, []byte("1234")))
	clk.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		r.RunIdleLocker(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.State() == Locked }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle locker did not stop")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	c, err := r.Open(ctx, testIdentity)
	require.NoError(t, err)
	require.NoError(t, c.BeginSetup(ctx, []byte("1234")))
	require.NoError(t, c.ConfirmSetup(ctx, []byte("1234")))

	r.CloseAll()
	assert.Zero(t, r.Len())
	assert.Equal(t, Locked, c.State())
}
