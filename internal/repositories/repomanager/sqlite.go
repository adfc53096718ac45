package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/migrations"
	"github.com/dmitrijs2005/medvault/internal/repositories/blobs"
	"github.com/dmitrijs2005/medvault/internal/repositories/verifiers"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends SQLite-backed repositories for the local
// single-user vault.
type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) DriverName() string { return "sqlite" }

// SnapshotTxOptions is nil: a sqlite transaction is already serializable.
func (m *SQLiteRepositoryManager) SnapshotTxOptions() *sql.TxOptions { return nil }

func (m *SQLiteRepositoryManager) Verifiers(db dbx.DBTX) verifiers.Repository {
	return verifiers.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Blobs(db dbx.DBTX) blobs.Repository {
	return blobs.NewSQLiteRepository(db)
}

// RunMigrations applies the embedded sqlite migrations with goose.
func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.SQLite)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "sqlite"); err != nil {
		return err
	}
	return nil
}
