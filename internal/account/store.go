package account

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
//
// ConsumeChallenge must be a compare-and-clear: it clears the stored challenge
// only if it still equals nonce, and reports ErrChallengeConsumed otherwise.
// Concurrent verifications of the same signature therefore succeed at most
// once.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByWallet(ctx context.Context, walletAddress string) (*Account, error)

	// LinkWallet binds a normalized wallet address to the account. Fails with
	// ErrWalletTaken when another account already holds the address.
	LinkWallet(ctx context.Context, id, walletAddress string) error

	// SetChallenge stores the outstanding nonce token, replacing any prior
	// unconsumed one.
	SetChallenge(ctx context.Context, id, nonce string, issuedAt time.Time) error
	ConsumeChallenge(ctx context.Context, id, nonce string) error

	// SetDoctorRequest persists the credentials and moves the role to
	// PendingDoctor in one update.
	SetDoctorRequest(ctx context.Context, id string, creds DoctorCredentials) error

	// SetRole persists a role decided by the transition table. Moving back to
	// Patient clears any stored doctor credentials.
	SetRole(ctx context.Context, id string, role Role) error

	// SetStatus toggles the account between active and pending.
	SetStatus(ctx context.Context, id, status string) error
}
