package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"herbalyze.org/internal/ids"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const accountColumns = `id, wallet_address, name, email, password_hash, role, status,
	challenge, challenge_set_at, license_number, institution_name, document_ref,
	created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, a *Account) error {
	if a == nil {
		return ErrInvalidInput
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Role == "" {
		a.Role = RolePatient
	}
	if !a.Role.Valid() {
		return ErrInvalidRole
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.WalletAddress = NormalizeWallet(a.WalletAddress)

	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, wallet_address, name, email, password_hash, role, status, created_at, updated_at)
		values ($1, nullif($2,''), nullif($3,''), nullif($4,''), nullif($5,''), $6, $7, $8, $9)`,
		a.ID, a.WalletAddress, a.Name, a.Email, a.PasswordHash, string(a.Role), a.Status,
		a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		if a.WalletAddress != "" {
			return ErrWalletTaken
		}
		return ErrAlreadyExists
	}
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=lower($1)`, email)
	return scanAccount(row)
}

func (s *PGStore) FindByWallet(ctx context.Context, walletAddress string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where wallet_address=$1`,
		NormalizeWallet(walletAddress))
	return scanAccount(row)
}

func (s *PGStore) LinkWallet(ctx context.Context, id, walletAddress string) error {
	wallet := NormalizeWallet(walletAddress)
	if wallet == "" {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update accounts set wallet_address=$2, updated_at=now() where id=$1`, id, wallet)
	if isUniqueViolation(err) {
		return ErrWalletTaken
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) SetChallenge(ctx context.Context, id, nonce string, issuedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set challenge=$2, challenge_set_at=$3, updated_at=now() where id=$1`,
		id, nonce, issuedAt.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ConsumeChallenge relies on the row-level atomicity of a conditioned UPDATE:
// exactly one concurrent caller observes the clear.
func (s *PGStore) ConsumeChallenge(ctx context.Context, id, nonce string) error {
	if nonce == "" {
		return ErrChallengeConsumed
	}
	res, err := s.db.ExecContext(ctx,
		`update accounts set challenge=null, challenge_set_at=null, updated_at=now()
		 where id=$1 and challenge=$2`, id, nonce)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChallengeConsumed
	}
	return nil
}

func (s *PGStore) SetDoctorRequest(ctx context.Context, id string, creds DoctorCredentials) error {
	if !creds.Complete() {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set role=$2, license_number=$3, institution_name=$4, document_ref=$5, updated_at=now()
		where id=$1`,
		id, string(RolePendingDoctor), creds.LicenseNumber, creds.InstitutionName, creds.DocumentRef)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) SetRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	var (
		res sql.Result
		err error
	)
	if role == RolePatient {
		res, err = s.db.ExecContext(ctx, `
			update accounts
			set role=$2, license_number=null, institution_name=null, document_ref=null, updated_at=now()
			where id=$1`, id, string(role))
	} else {
		res, err = s.db.ExecContext(ctx,
			`update accounts set role=$2, updated_at=now() where id=$1`, id, string(role))
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) SetStatus(ctx context.Context, id, status string) error {
	if status != StatusActive && status != StatusPending {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update accounts set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var wallet, name, email, passwordHash, challenge sql.NullString
	var license, institution, ref sql.NullString
	var challengeSetAt sql.NullTime
	var role string
	err := row.Scan(&a.ID, &wallet, &name, &email, &passwordHash, &role, &a.Status,
		&challenge, &challengeSetAt, &license, &institution, &ref,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.WalletAddress = wallet.String
	a.Name = name.String
	a.Email = email.String
	a.PasswordHash = passwordHash.String
	a.Challenge = challenge.String
	if challengeSetAt.Valid {
		a.ChallengeSetAt = challengeSetAt.Time
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	a.Role = parsed
	if license.Valid || institution.Valid || ref.Valid {
		a.Doctor = &DoctorCredentials{
			LicenseNumber:   license.String,
			InstitutionName: institution.String,
			DocumentRef:     ref.String,
		}
	}
	return &a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
