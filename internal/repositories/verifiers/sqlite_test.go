package verifiers

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/migrations"
	"github.com/dmitrijs2005/medvault/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.SQLite)
	goose.SetLogger(goose.NopLogger())
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.Up(db, "sqlite"))
	return db
}

func sampleVerifier(userID string) *models.Verifier {
	return &models.Verifier{
		UserID: userID,
		KDF:    cryptox.KDFParams{Algorithm: cryptox.KDFArgon2id, Iterations: 1, Memory: 65536, Threads: 4},
		Salt:   []byte("0123456789abcdef"),
		Hash:   []byte("hash-hash-hash-hash-hash-hash-32"),
		KeyID:  "k1",
	}
}

func TestSQLite_CreateThenGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	v := sampleVerifier("u1")
	require.NoError(t, r.Create(ctx, v))
	assert.False(t, v.CreatedAt.IsZero())

	got, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, v.KDF, got.KDF)
	assert.Equal(t, v.Salt, got.Salt)
	assert.Equal(t, v.Hash, got.Hash)
	assert.Equal(t, "k1", got.KeyID)
	assert.Zero(t, got.Revision)
	assert.Equal(t, v.CreatedAt.UnixMicro(), got.CreatedAt.UnixMicro())
}

func TestSQLite_GetMissing(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	_, err := r.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLite_CreateTwiceFails(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, sampleVerifier("u1")))

	other := sampleVerifier("u1")
	other.Hash = []byte("different")
	assert.ErrorIs(t, r.Create(ctx, other), common.ErrorAlreadyExists)

	got, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash-hash-hash-hash-hash-hash-32"), got.Hash)
}

func TestSQLite_Replace(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	nv := sampleVerifier("")
	nv.KDF = cryptox.KDFParams{Algorithm: cryptox.KDFPBKDF2, Iterations: 1000}
	nv.Salt = []byte("fedcba9876543210")
	nv.Hash = []byte("new-hash")
	nv.KeyID = "k2"

	assert.ErrorIs(t, r.Replace(ctx, sampleVerifier("u1"), nv), common.ErrorConflict)

	require.NoError(t, r.Create(ctx, sampleVerifier("u1")))
	base, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, r.Replace(ctx, base, nv))
	assert.Equal(t, "u1", nv.UserID)
	assert.Equal(t, int64(1), nv.Revision)

	got, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, nv.KDF, got.KDF)
	assert.Equal(t, nv.Salt, got.Salt)
	assert.Equal(t, nv.Hash, got.Hash)
	assert.Equal(t, "k2", got.KeyID)
	assert.Equal(t, int64(1), got.Revision)

	// the same base again is stale
	assert.ErrorIs(t, r.Replace(ctx, base, sampleVerifier("")), common.ErrorConflict)
}

func TestSQLite_ReplaceRefusesMovedRevision(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, sampleVerifier("u1")))
	base, err := r.Get(ctx, "u1")
	require.NoError(t, err)

	// a record written after base was read
	require.NoError(t, r.Bump(ctx, "u1", "k1"))

	next := sampleVerifier("")
	next.KeyID = "k2"
	assert.ErrorIs(t, r.Replace(ctx, base, next), common.ErrorConflict)

	got, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.KeyID)
}

func TestSQLite_Bump(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	assert.ErrorIs(t, r.Bump(ctx, "u1", "k1"), common.ErrorConflict)

	require.NoError(t, r.Create(ctx, sampleVerifier("u1")))
	require.NoError(t, r.Bump(ctx, "u1", "k1"))
	require.NoError(t, r.Bump(ctx, "u1", "k1"))
	assert.ErrorIs(t, r.Bump(ctx, "u1", "k0"), common.ErrorConflict)

	got, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
}

func TestSQLite_Delete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, sampleVerifier("u1")))
	require.NoError(t, r.Delete(ctx, "u1"))
	require.NoError(t, r.Delete(ctx, "u1"))

	_, err := r.Get(ctx, "u1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
