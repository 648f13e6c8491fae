package parts

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

var ts = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func part(n int, etag string) *models.CompletedPart {
	return &models.CompletedPart{SessionID: "s1", PartNumber: n, ETag: etag, SizeBytes: 100, CreatedAt: ts}
}

func TestUpsert_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT INTO completed_parts .*ON CONFLICT \(session_id, part_number\)\s+DO UPDATE SET etag = EXCLUDED\.etag`).
		WithArgs("s1", 2, "e2", int64(100), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), part(2, "e2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO completed_parts`).WillReturnError(errors.New("db down"))

	err := repo.Upsert(context.Background(), part(1, "e"))
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestInsert_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^INSERT INTO completed_parts \(session_id, part_number, etag, size_bytes, created_at\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5\)$`).
		WithArgs("s1", 3, "e3", int64(100), ts).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Insert(context.Background(), part(3, "e3"))
	if !errors.Is(err, common.ErrDuplicatePartNumber) {
		t.Fatalf("want ErrDuplicatePartNumber, got %v", err)
	}
}

func TestInsert_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO completed_parts`).
		WithArgs("s1", 1, "e1", int64(100), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), part(1, "e1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListOrdered_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"session_id", "part_number", "etag", "size_bytes", "created_at"}).
		AddRow("s1", 1, "e1", int64(10), ts).
		AddRow("s1", 2, "e2", int64(20), ts)
	mock.ExpectQuery(`(?s)FROM completed_parts\s+WHERE session_id = \$1\s+ORDER BY part_number`).
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := repo.ListOrdered(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].PartNumber != 1 || got[1].ETag != "e2" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestListOrdered_QueryErr(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM completed_parts`).WillReturnError(errors.New("db err"))

	_, err := repo.ListOrdered(context.Background(), "s1")
	if err == nil || !regexp.MustCompile(`failed to select parts: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped select error, got %v", err)
	}
}

func TestDeleteBySession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM completed_parts WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.DeleteBySession(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
