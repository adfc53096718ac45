package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/store"
)

const testOtp = "482913"

var testIdentity = models.Identity{UserID: "patient-1", Email: "patient@example.com", Name: "Jane Doe"}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureMailer struct {
	mu    sync.Mutex
	err   error
	sent  []string
	codes []string
}

func (m *captureMailer) SendPinResetOtp(_ context.Context, email, name, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email+"/"+name)
	m.codes = append(m.codes, code)
	return nil
}

func (m *captureMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		return ""
	}
	return m.codes[len(m.codes)-1]
}

// faultyStore fails Rekey on demand, or runs beforeRekey right before
// committing.
type faultyStore struct {
	Store
	rekeyErr    error
	beforeRekey func()
}

func (f *faultyStore) Rekey(ctx context.Context, base, next *models.Verifier, blobs []models.Blob) error {
	if f.rekeyErr != nil {
		return f.rekeyErr
	}
	if f.beforeRekey != nil {
		f.beforeRekey()
	}
	return f.Store.Rekey(ctx, base, next, blobs)
}

// gatedStore blocks GetVerifier once armed, so a test can act while an
// unlock is in flight.
type gatedStore struct {
	Store
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(s Store) *gatedStore {
	return &gatedStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedStore) GetVerifier(ctx context.Context, userID string) (*models.Verifier, error) {
	g.mu.Lock()
	armed := g.armed
	g.armed = false
	g.mu.Unlock()
	if armed {
		close(g.entered)
		<-g.release
	}
	return g.Store.GetVerifier(ctx, userID)
}

func testOptions(clk *fakeClock) Options {
	return Options{
		KDF:            cryptox.KDFParams{Algorithm: cryptox.KDFPBKDF2, Iterations: 1000},
		AppSalt:        "arctic-salt",
		MinPinLength:   4,
		DeriveTimeout:  5 * time.Second,
		SessionTimeout: 15 * time.Minute,
		OtpTTL:         5 * time.Minute,
		OtpMaxAttempts: 5,
		FreeAttempts:   3,
		BackoffInitial: time.Second,
		BackoffMax:     5 * time.Minute,
		Now:            clk.Now,
	}
}

func newRedisBackedStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStore(client)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSQLiteBackedStore(t *testing.T) store.Store {
	t.Helper()
	cfg := config.Storage{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "vault", "medvault.db")}
	s, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type harness struct {
	c      *Controller
	clk    *fakeClock
	mailer *captureMailer
	store  Store
}

func newHarness(t *testing.T, s Store) *harness {
	t.Helper()
	clk := newFakeClock()
	m := &captureMailer{}
	c, err := NewController(context.Background(), testIdentity, Deps{Store: s, Mailer: m}, testOptions(clk))
	require.NoError(t, err)
	c.newOtp = func() (string, error) { return testOtp, nil }
	return &harness{c: c, clk: clk, mailer: m, store: s}
}

func (h *harness) setup(t *testing.T, pin string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.c.BeginSetup(ctx, []byte(pin)))
	require.NoError(t, h.c.ConfirmSetup(ctx, []byte(pin)))
	require.Equal(t, Unlocked, h.c.State())
}

func (h *harness) beginPinChange(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.c.RequestPinChange(ctx))
	require.NoError(t, h.c.VerifyOtp(ctx, h.mailer.lastCode()))
	require.Equal(t, PinChangeActive, h.c.State())
}

var errBoom = errors.New("boom")
