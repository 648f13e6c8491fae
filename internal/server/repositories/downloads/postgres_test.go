package downloads

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

var downloadCols = []string{"id", "tenant_id", "organization_id", "source_url", "bytes_transferred", "total_bytes", "status",
	"retry_count", "retryable", "last_retry_at", "next_retry_at", "error_code", "error_message", "webhook_url", "result_asset_id",
	"expires_at", "created_at", "updated_at"}

var ts = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func pending() *models.ExternalDownload {
	return &models.ExternalDownload{
		ID:             "d1",
		TenantID:       "t1",
		OrganizationID: "o1",
		SourceURL:      "https://example.com/a",
		Status:         models.DownloadPending,
		WebhookURL:     "https://hooks.example.com",
		ExpiresAt:      ts.Add(time.Hour),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func TestInsert_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	d := pending()
	mock.ExpectExec(`(?s)^INSERT INTO external_downloads \(id, tenant_id, .*\$18\)$`).
		WithArgs("d1", "t1", "o1", "https://example.com/a", int64(0), nil, "PENDING",
			0, false, nil, nil, "", "", "https://hooks.example.com", "", d.ExpiresAt, ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_OK(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(downloadCols).
		AddRow("d1", "t1", "o1", "u", int64(5), int64(10), "FAILED", 2, true, ts, ts.Add(4*time.Second), "503", "bad gateway", "", "", ts, ts, ts)
	mock.ExpectQuery(`FROM external_downloads WHERE id = \$1`).WithArgs("d1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.DownloadFailed || got.RetryCount != 2 || !got.Retryable {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.TotalBytes == nil || *got.TotalBytes != 10 || got.LastRetryAt == nil {
		t.Fatalf("unexpected nullable fields: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(ts.Add(4*time.Second)) {
		t.Fatalf("unexpected nullable fields: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM external_downloads`).WillReturnRows(sqlmock.NewRows(downloadCols))

	if _, err := repo.Get(context.Background(), "x"); !errors.Is(err, common.ErrDownloadNotFound) {
		t.Fatalf("want ErrDownloadNotFound, got %v", err)
	}
}

func TestUpdate_Conditional(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	d := pending()
	d.Status = models.DownloadDownloading
	mock.ExpectExec(`(?s)^UPDATE external_downloads SET.*WHERE id = \$1 AND status = \$2$`).
		WithArgs("d1", "PENDING", "DOWNLOADING", int64(0), nil, 0, false, nil, nil, "", "", "", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), d, models.DownloadPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdate_LostRace(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE external_downloads SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), pending(), models.DownloadPending)
	if !errors.Is(err, common.ErrInvalidSessionState) {
		t.Fatalf("want ErrInvalidSessionState, got %v", err)
	}
}

func TestUpdateProgress(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	total := int64(1000)
	mock.ExpectExec(`UPDATE external_downloads SET bytes_transferred = \$2, total_bytes = COALESCE\(\$3, total_bytes\).*status = 'DOWNLOADING'`).
		WithArgs("d1", int64(500), int64(1000), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateProgress(context.Background(), "d1", 500, &total, ts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateProgress_NotDownloading(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE external_downloads SET bytes_transferred`).
		WithArgs("d1", int64(1), nil, ts).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateProgress(context.Background(), "d1", 1, nil, ts)
	if !errors.Is(err, common.ErrInvalidDownloadState) {
		t.Fatalf("want ErrInvalidDownloadState, got %v", err)
	}
}

func TestFindExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(downloadCols).
		AddRow("d1", "t1", "o1", "u", int64(0), nil, "PENDING", 0, false, nil, nil, "", "", "", "", ts, ts, ts)
	mock.ExpectQuery(`(?s)WHERE \(status IN \('PENDING', 'DOWNLOADING'\) OR \(status = 'FAILED' AND retryable\)\) AND expires_at < \$1.*LIMIT \$2`).
		WithArgs(ts, 10).
		WillReturnRows(rows)

	got, err := repo.FindExpired(context.Background(), ts, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].TotalBytes != nil || got[0].LastRetryAt != nil {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestFindExpired_QueryErr(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM external_downloads`).WillReturnError(errors.New("db err"))

	_, err := repo.FindExpired(context.Background(), ts, 10)
	if err == nil || !regexp.MustCompile(`failed to select downloads: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped select error, got %v", err)
	}
}

func TestFindRetryDue(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(downloadCols).
		AddRow("d1", "t1", "o1", "u", int64(0), nil, "FAILED", 1, true, ts, ts, "503", "", "", "", ts, ts, ts)
	mock.ExpectQuery(`(?s)WHERE status = 'FAILED' AND retryable AND \(next_retry_at IS NULL OR next_retry_at <= \$1\).*LIMIT \$2`).
		WithArgs(ts, 5).
		WillReturnRows(rows)

	got, err := repo.FindRetryDue(context.Background(), ts, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].Retryable || got[0].NextRetryAt == nil {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
