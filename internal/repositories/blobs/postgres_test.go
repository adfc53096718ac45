package blobs

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
	qList      = `(?s)^SELECT\s+id,\s*nonce,\s*ciphertext,\s*created_at\s+FROM\s+blobs\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at,\s*id\s*$`
	qGet       = `(?s)^SELECT\s+nonce,\s*ciphertext,\s*created_at\s+FROM\s+blobs\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2\s*$`
	qPut       = `(?s)^INSERT\s+INTO\s+blobs\s*\(user_id,\s*id,\s*nonce,\s*ciphertext,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*ON\s+CONFLICT\s*\(user_id,\s*id\)\s*DO\s+UPDATE\s+SET.*$`
	qDelete    = `^DELETE\s+FROM\s+blobs\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2$`
	qDeleteAll = `^DELETE\s+FROM\s+blobs\s+WHERE\s+user_id\s*=\s*\$1$`
)

func TestPostgres_List(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "nonce", "ciphertext", "created_at"}).
		AddRow("a", []byte("n1"), []byte("c1"), now).
		AddRow("b", []byte("n2"), []byte("c2"), now)
	mock.ExpectQuery(qList).WithArgs("u1").WillReturnRows(rows)

	got, err := repo.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].UserID != "u1" {
		t.Fatalf("unexpected blobs: %+v", got)
	}
}

func TestPostgres_List_ScanError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "nonce", "ciphertext", "created_at"}).
		AddRow("a", []byte("n1"), []byte("c1"), "not-a-time")
	mock.ExpectQuery(qList).WithArgs("u1").WillReturnRows(rows)

	_, err := repo.List(context.Background(), "u1")
	if err == nil || !regexp.MustCompile(`query row scan failed`).MatchString(err.Error()) {
		t.Fatalf("expected scan error, got %v", err)
	}
}

func TestPostgres_Get(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qGet).WithArgs("u1", "a").
		WillReturnRows(sqlmock.NewRows([]string{"nonce", "ciphertext", "created_at"}).AddRow([]byte("n"), []byte("c"), time.Now()))
	got, err := repo.Get(context.Background(), "u1", "a")
	if err != nil || string(got.Ciphertext) != "c" {
		t.Fatalf("unexpected result: %+v, %v", got, err)
	}

	mock.ExpectQuery(qGet).WithArgs("u1", "x").WillReturnError(sql.ErrNoRows)
	if _, err := repo.Get(context.Background(), "u1", "x"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestPostgres_Put(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	b := blob("u1", "a", time.Now())
	mock.ExpectExec(qPut).
		WithArgs("u1", "a", b.Nonce, b.Ciphertext, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Put(context.Background(), b); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	mock.ExpectExec(qPut).WillReturnError(errors.New("db down"))
	err := repo.Put(context.Background(), b)
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgres_Delete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qDelete).WithArgs("u1", "a").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Delete(context.Background(), "u1", "a"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	mock.ExpectExec(qDelete).WithArgs("u1", "a").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Delete(context.Background(), "u1", "a"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestPostgres_DeleteAll(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qDeleteAll).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	if err := repo.DeleteAll(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteAll error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
