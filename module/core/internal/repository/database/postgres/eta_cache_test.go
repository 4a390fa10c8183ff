package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

func TestETACacheGet_Hit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	exp := time.Unix(1715003466, 0)
	mock.ExpectQuery(`SELECT payload, expires_at FROM eta_cache WHERE key = (.+)`).
		WithArgs("B1:12.91234:74.83567").
		WillReturnRows(sqlmock.NewRows([]string{"payload", "expires_at"}).AddRow([]byte(`{"busId":"B1"}`), exp))

	repo := NewETACacheRepo(db)
	payload, expiresAt, err := repo.Get(context.Background(), "B1:12.91234:74.83567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"busId":"B1"}` {
		t.Errorf("unexpected payload %s", payload)
	}
	if !expiresAt.Equal(exp) {
		t.Errorf("expected %v, got %v", exp, expiresAt)
	}
}

func TestETACacheGet_Miss(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT payload, expires_at FROM eta_cache`).
		WillReturnRows(sqlmock.NewRows([]string{"payload", "expires_at"}))

	repo := NewETACacheRepo(db)
	_, _, err = repo.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestETACachePut(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	exp := time.Unix(1715003466, 0)
	mock.ExpectExec(`INSERT INTO eta_cache (.+) ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k", []byte("v"), exp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewETACacheRepo(db)
	if err := repo.Put(context.Background(), "k", []byte("v"), exp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestETACacheDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	now := time.Unix(1715003500, 0)
	mock.ExpectExec(`DELETE FROM eta_cache WHERE expires_at <= (.+)`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := NewETACacheRepo(db)
	n, err := repo.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 purged, got %d", n)
	}
}
