package verifiers

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/medvault/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const (
	qGet     = `(?s)^SELECT\s+user_id,\s*kdf,\s*kdf_iterations,\s*kdf_memory,\s*kdf_threads,\s*salt,\s*hash,\s*key_id,\s*revision,\s*created_at,\s*updated_at\s+FROM\s+verifiers\s+WHERE\s+user_id\s*=\s*\$1\s*$`
	qCreate  = `(?s)^INSERT\s+INTO\s+verifiers\s*\(.*key_id\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$8\)\s*ON\s+CONFLICT\s*\(user_id\)\s+DO\s+NOTHING\s+RETURNING\s+revision,\s*created_at,\s*updated_at\s*$`
	qReplace = `(?s)^UPDATE\s+verifiers\s+SET\s+.*revision\s*=\s*revision\s*\+\s*1.*WHERE\s+user_id\s*=\s*\$1\s+AND\s+key_id\s*=\s*\$2\s+AND\s+revision\s*=\s*\$3\s+RETURNING\s+revision,\s*created_at,\s*updated_at\s*$`
	qBump    = `^UPDATE\s+verifiers\s+SET\s+revision\s*=\s*revision\s*\+\s*1\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+key_id\s*=\s*\$2$`
	qDelete  = `^DELETE\s+FROM\s+verifiers\s+WHERE\s+user_id\s*=\s*\$1$`
)

func TestPostgres_Get_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "kdf", "kdf_iterations", "kdf_memory", "kdf_threads", "salt", "hash", "key_id", "revision", "created_at", "updated_at"}).
		AddRow("u1", "pbkdf2-sha256", int64(100000), int64(0), int64(0), []byte("salt"), []byte("hash"), "k1", int64(7), now, now)
	mock.ExpectQuery(qGet).WithArgs("u1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.UserID != "u1" || got.KDF.Iterations != 100000 || string(got.Hash) != "hash" || got.KeyID != "k1" || got.Revision != 7 {
		t.Fatalf("unexpected verifier: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_Get_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qGet).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestPostgres_Get_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qGet).WithArgs("u1").WillReturnError(errors.New("db down"))

	_, err := repo.Get(context.Background(), "u1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgres_Create_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	v := sampleVerifier("u1")
	mock.ExpectQuery(qCreate).
		WithArgs("u1", v.KDF.Algorithm, v.KDF.Iterations, v.KDF.Memory, v.KDF.Threads, v.Salt, v.Hash, v.KeyID).
		WillReturnRows(sqlmock.NewRows([]string{"revision", "created_at", "updated_at"}).AddRow(int64(0), now, now))

	if err := repo.Create(context.Background(), v); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !v.CreatedAt.Equal(now) {
		t.Fatalf("created_at not populated: %v", v.CreatedAt)
	}
}

func TestPostgres_Create_Conflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qCreate).WillReturnRows(sqlmock.NewRows([]string{"revision", "created_at", "updated_at"}))

	err := repo.Create(context.Background(), sampleVerifier("u1"))
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestPostgres_Replace(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	base := sampleVerifier("u1")
	base.Revision = 4
	next := sampleVerifier("")
	next.KeyID = "k2"
	next.Hash = []byte("new-hash")

	now := time.Now()
	mock.ExpectQuery(qReplace).
		WithArgs("u1", "k1", int64(4), next.KDF.Algorithm, next.KDF.Iterations, next.KDF.Memory, next.KDF.Threads, next.Salt, next.Hash, "k2").
		WillReturnRows(sqlmock.NewRows([]string{"revision", "created_at", "updated_at"}).AddRow(int64(5), now, now))
	if err := repo.Replace(context.Background(), base, next); err != nil {
		t.Fatalf("Replace error: %v", err)
	}
	if next.UserID != "u1" || next.Revision != 5 {
		t.Fatalf("next not populated: %+v", next)
	}

	// stale revision or key
	mock.ExpectQuery(qReplace).WillReturnRows(sqlmock.NewRows([]string{"revision", "created_at", "updated_at"}))
	if err := repo.Replace(context.Background(), base, sampleVerifier("")); !errors.Is(err, common.ErrorConflict) {
		t.Fatalf("want common.ErrorConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_Bump(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qBump).WithArgs("u1", "k1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Bump(context.Background(), "u1", "k1"); err != nil {
		t.Fatalf("Bump error: %v", err)
	}

	mock.ExpectExec(qBump).WithArgs("u1", "old").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Bump(context.Background(), "u1", "old"); !errors.Is(err, common.ErrorConflict) {
		t.Fatalf("want common.ErrorConflict, got %v", err)
	}

	mock.ExpectExec(qBump).WithArgs("u1", "k1").WillReturnError(errors.New("db down"))
	if err := repo.Bump(context.Background(), "u1", "k1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgres_Delete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qDelete).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Delete(context.Background(), "u1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	mock.ExpectExec(qDelete).WithArgs("u1").WillReturnError(errors.New("boom"))
	if err := repo.Delete(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
}
