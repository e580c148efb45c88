package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/atinyakov/ShareKeeper/internal/models"
)

const (
	qLockCursor  = `SELECT hits FROM share_cursor WHERE owner_key = $1 FOR UPDATE`
	qReadShare   = `SELECT value FROM share_history WHERE owner_key = $1 AND version = $2`
	qAdvance     = `UPDATE share_cursor SET hits = hits + 1 WHERE owner_key = $1`
	qLatest      = `SELECT version, value FROM share_history WHERE owner_key = $1 ORDER BY version DESC LIMIT 1`
	qAppend      = `INSERT INTO share_history (owner_key, version, value) VALUES ($1, $2, $3)`
	qResetCursor = `INSERT INTO share_cursor (owner_key, hits) VALUES ($1, 0)`
	qDropHistory = `DELETE FROM share_history WHERE owner_key = $1`
	qFirstShare  = `INSERT INTO share_history (owner_key, version, value) VALUES ($1, 0, $2)`
)

func setupMock(t *testing.T) (*PostgresShareRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresShareRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestPostgresSet_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(qResetCursor)).WithArgs(int64(0xCAFE)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qDropHistory)).WithArgs(int64(0xCAFE)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q(qFirstShare)).WithArgs(int64(0xCAFE), int64(0xDEADBEEF)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Set(context.Background(), 0xCAFE, 0xDEADBEEF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSet_InsertError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(qResetCursor)).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qDropHistory)).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(qFirstShare)).WithArgs(int64(1), int64(2)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Set(context.Background(), 1, 2)
	if err == nil || !regexp.MustCompile(`Set failed`).MatchString(err.Error()) {
		t.Errorf("expected Set failed error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresGet_AdvancesCursor(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockCursor)).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"hits"}).AddRow(int64(1)))
	mock.ExpectQuery(q(qReadShare)).WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(0xFFFFFFFF)))
	mock.ExpectExec(q(qAdvance)).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, ok, err := repo.Get(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || got != 0xFFFFFFFF {
		t.Errorf("Get = (%#x, %v); want (0xffffffff, true)", got, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresGet_NotFound(t *testing.T) {
	cases := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
	}{
		{
			name: "unknown key",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q(qLockCursor)).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)
			},
		},
		{
			name: "history exhausted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q(qLockCursor)).WithArgs(int64(9)).
					WillReturnRows(sqlmock.NewRows([]string{"hits"}).AddRow(int64(3)))
				mock.ExpectQuery(q(qReadShare)).WithArgs(int64(9), int64(3)).
					WillReturnRows(sqlmock.NewRows([]string{"value"}))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, cleanup := setupMock(t)
			defer cleanup()

			mock.ExpectBegin()
			tc.setup(mock)
			mock.ExpectRollback()

			_, ok, err := repo.Get(context.Background(), 9)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Errorf("Get reported a value for %s", tc.name)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresPatch_AppendsXor(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockCursor)).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"hits"}).AddRow(int64(0)))
	mock.ExpectQuery(q(qLatest)).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "value"}).AddRow(int64(2), int64(0x00FF)))
	mock.ExpectExec(q(qAppend)).WithArgs(int64(7), int64(3), int64(0x00FF^0x0F0F)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Patch(context.Background(), 7, 0x0F0F); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresPatch_UnknownKeyIsNoop(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockCursor)).WithArgs(int64(7)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if err := repo.Patch(context.Background(), 7, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresPatch_QueryError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(qLockCursor)).WithArgs(int64(7)).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	err := repo.Patch(context.Background(), 7, 1)
	if err == nil || !regexp.MustCompile(`Patch failed`).MatchString(err.Error()) {
		t.Errorf("expected Patch failed error, got %v", err)
	}
}

func TestPostgresInspect(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`SELECT hits FROM share_cursor WHERE owner_key = $1`)).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"hits"}).AddRow(int64(1)))
	mock.ExpectQuery(q(qLatest)).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "value"}).AddRow(int64(1), int64(77)))

	state, found, err := repo.Inspect(context.Background(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.ShareState{Versions: 2, Cursor: 1, Latest: 77}
	if !found || state != want {
		t.Errorf("Inspect = (%+v, %v); want (%+v, true)", state, found, want)
	}
}

func TestPostgresCount(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`SELECT COUNT(*) FROM share_cursor`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d; want 3", n)
	}
}
