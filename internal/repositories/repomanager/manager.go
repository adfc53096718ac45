// Package repomanager vends dialect-specific repository implementations and
// the matching schema migration hook.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/repositories/blobs"
	"github.com/dmitrijs2005/medvault/internal/repositories/verifiers"
	"github.com/pressly/goose/v3"
)

type RepositoryManager interface {
	// DriverName is the database/sql driver to open connections with.
	DriverName() string
	RunMigrations(context.Context, *sql.DB) error
	// SnapshotTxOptions are the options of a read that must see the
	// verifier and the blobs as of one instant.
	SnapshotTxOptions() *sql.TxOptions
	Verifiers(db dbx.DBTX) verifiers.Repository
	Blobs(db dbx.DBTX) blobs.Repository
}

// New returns the manager for a storage driver name ("sqlite" or "postgres").
func New(driver string) (RepositoryManager, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteRepositoryManager(), nil
	case "postgres":
		return NewPostgresRepositoryManager(), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}
