package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/repositories/blobs"
	"github.com/dmitrijs2005/medvault/internal/repositories/verifiers"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestNew_ByDriver(t *testing.T) {
	m, err := New("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", m.DriverName())

	m, err = New("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", m.DriverName())

	_, err = New("oracle")
	assert.Error(t, err)
}

func TestSnapshotTxOptions(t *testing.T) {
	opts := NewPostgresRepositoryManager().SnapshotTxOptions()
	require.NotNil(t, opts)
	assert.Equal(t, sql.LevelRepeatableRead, opts.Isolation)
	assert.True(t, opts.ReadOnly)

	assert.Nil(t, NewSQLiteRepositoryManager().SnapshotTxOptions())
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	for _, m := range []RepositoryManager{NewPostgresRepositoryManager(), NewSQLiteRepositoryManager()} {
		var _ verifiers.Repository = m.Verifiers(db)
		var _ blobs.Repository = m.Blobs(db)
	}

	pm := NewPostgresRepositoryManager()
	if _, ok := pm.Verifiers(db).(*verifiers.PostgresRepository); !ok {
		t.Fatal("postgres manager must vend postgres verifiers")
	}
	sm := NewSQLiteRepositoryManager()
	if _, ok := sm.Blobs(db).(*blobs.SQLiteRepository); !ok {
		t.Fatal("sqlite manager must vend sqlite blobs")
	}
}

func TestRunMigrations_PostgresUsesPostgresDir(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "postgres" {
			return errors.New("unexpected dir " + dir)
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	if err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := NewPostgresRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunMigrations_SQLiteCreatesSchema(t *testing.T) {
	goose.SetLogger(goose.NopLogger())
	m := NewSQLiteRepositoryManager()
	db, err := sql.Open(m.DriverName(), filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, m.RunMigrations(ctx, db))
	// second run is a no-op
	require.NoError(t, m.RunMigrations(ctx, db))

	require.NoError(t, m.Blobs(db).Put(ctx, &models.Blob{ID: "r1", UserID: "u1", Nonce: []byte("n"), Ciphertext: []byte("c")}))
	list, err := m.Blobs(db).List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
