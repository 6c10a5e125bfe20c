package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGStoreConsumeChallengeComparesAndClears(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewPGStore(db)

	mock.ExpectExec("update accounts set challenge=null").
		WithArgs("acct-1", "nonce-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.ConsumeChallenge(context.Background(), "acct-1", "nonce-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// Zero rows touched means the nonce was already cleared or replaced.
	mock.ExpectExec("update accounts set challenge=null").
		WithArgs("acct-1", "nonce-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.ConsumeChallenge(context.Background(), "acct-1", "nonce-1"); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("expected ErrChallengeConsumed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGStoreConsumeChallengeRejectsEmptyNonce(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewPGStore(db)

	if err := s.ConsumeChallenge(context.Background(), "acct-1", ""); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("empty nonce must not hit the database, got %v", err)
	}
}

func TestPGStoreCreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewPGStore(db)

	mock.ExpectExec("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_wallet_address_key"})
	err = s.Create(context.Background(), &Account{WalletAddress: "0xaa00000000000000000000000000000000000001"})
	if !errors.Is(err, ErrWalletTaken) {
		t.Fatalf("expected ErrWalletTaken, got %v", err)
	}

	mock.ExpectExec("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})
	err = s.Create(context.Background(), &Account{Email: "dup@example.com"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPGStoreFindScansAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewPGStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "wallet_address", "name", "email", "password_hash", "role", "status",
		"challenge", "challenge_set_at", "license_number", "institution_name", "document_ref",
		"created_at", "updated_at",
	}).AddRow("acct-1", "0xaa00000000000000000000000000000000000001", "Ayu", nil, nil,
		"PendingDoctor", "active", "nonce-1", now, "STR-001", "RSUD", "doc-1", now, now)
	mock.ExpectQuery("select (.+) from accounts where id=\\$1").
		WithArgs("acct-1").WillReturnRows(rows)

	a, err := s.Find(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if a.Role != RolePendingDoctor || a.Challenge != "nonce-1" {
		t.Fatalf("unexpected account: %+v", a)
	}
	if a.Doctor == nil || a.Doctor.LicenseNumber != "STR-001" {
		t.Fatalf("doctor credentials not scanned: %+v", a.Doctor)
	}
}

func TestPGStoreFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewPGStore(db)

	mock.ExpectQuery("select (.+) from accounts where id=\\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreSetRoleRequiresRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := NewPGStore(db)

	mock.ExpectExec("update accounts").
		WithArgs("missing", "Doctor").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.SetRole(context.Background(), "missing", RoleDoctor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
