// Package approval coordinates the two authorization ledgers: the on-chain
// registry (source of truth for doctor privileges) and the local account
// store. Writes always land on the chain first; the local role only advances
// after the chain acknowledges. A failure between the two steps leaves the
// chain ahead of the local store, which a retry reconciles without a second
// on-chain write.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/obs"
)

var (
	// ErrNotPendingDoctor means the account has no doctor request to approve
	// or reject.
	ErrNotPendingDoctor = errors.New("approval: account is not a pending doctor")
	// ErrNotDoctor means there is no doctor privilege to revoke.
	ErrNotDoctor = errors.New("approval: account is not a doctor")
	// ErrNoWallet means the account has no linked wallet, so no on-chain
	// identity to approve or revoke.
	ErrNoWallet = errors.New("approval: account has no linked wallet")
)

// Ledger is the external authorization registry. *chain.Registry satisfies
// it; tests use fakes.
type Ledger interface {
	IsApproved(ctx context.Context, wallet string) (bool, error)
	Approve(ctx context.Context, wallet string) (string, error)
	Revoke(ctx context.Context, wallet string) (string, error)
}

// Publisher receives approval events for fan-out to live subscribers.
type Publisher interface {
	Publish(wallet, action string, at time.Time)
}

// Result reports what a coordinator operation actually did.
type Result struct {
	Account *account.Account
	// LedgerWriteOccurred is false when the registry already held the target
	// state and the operation only reconciled the local role.
	LedgerWriteOccurred bool
	TxHash              string
}

// Coordinator runs the ledger-then-local role transitions.
type Coordinator struct {
	store   account.Store
	ledger  Ledger
	publish Publisher
	now     func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithPublisher attaches an event sink for approval notifications.
func WithPublisher(p Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.publish = p }
}

// WithClock substitutes the time source. Test hook.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator builds a coordinator over the given store and ledger.
func NewCoordinator(store account.Store, ledger Ledger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:  store,
		ledger: ledger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApproveDoctor grants doctor privileges: registry write first, local role
// second. Re-running after a partial failure is safe; an approval already on
// the registry is detected and not re-submitted, and a call for an account
// already promoted reports success without another transition.
func (c *Coordinator) ApproveDoctor(ctx context.Context, accountID string) (Result, error) {
	acct, err := c.store.Find(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	// A Doctor re-approval is the idempotent success path; only roles with no
	// pending or granted privilege are rejected.
	if acct.Role != account.RolePendingDoctor && acct.Role != account.RoleDoctor {
		return Result{}, fmt.Errorf("%w: role %s", ErrNotPendingDoctor, acct.Role)
	}
	if acct.WalletAddress == "" {
		return Result{}, ErrNoWallet
	}

	approved, err := c.ledger.IsApproved(ctx, acct.WalletAddress)
	if err != nil {
		// Fail closed: without a readable registry no privilege is granted.
		return Result{}, fmt.Errorf("approve %s: %w", acct.WalletAddress, err)
	}

	res := Result{}
	if !approved {
		// Once submitted, the registry write runs to completion even if the
		// caller goes away; abandoning it mid-flight would strand an
		// in-flight admin transaction.
		txHash, err := c.ledger.Approve(context.WithoutCancel(ctx), acct.WalletAddress)
		if err != nil {
			return Result{}, fmt.Errorf("approve %s: %w", acct.WalletAddress, err)
		}
		res.LedgerWriteOccurred = true
		res.TxHash = txHash
	}

	if acct.Role == account.RoleDoctor {
		// Already promoted locally. A missing registry entry was reconciled
		// above; there is no further role transition to run.
		res.Account = acct
		if res.LedgerWriteOccurred {
			c.emit(acct.WalletAddress, "approved")
		}
		obs.Log("info", "doctor already approved", map[string]any{
			"account_id": acct.ID, "wallet": acct.WalletAddress,
			"ledger_write": res.LedgerWriteOccurred, "tx": res.TxHash,
		})
		return res, nil
	}

	// The registry write above outlives a cancelled caller, but the local
	// promotion must not run on its behalf; a retry converges via the
	// IsApproved short-circuit.
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("approve %s: %w", acct.WalletAddress, err)
	}

	next, err := account.NextRole(acct.Role, account.EventAdminApprove, acct.Doctor)
	if err != nil {
		return Result{}, err
	}
	if err := c.store.SetRole(context.WithoutCancel(ctx), acct.ID, next); err != nil {
		// Registry is ahead of the local store now. Surface the error; a
		// retry reconciles via the IsApproved short-circuit.
		return Result{}, fmt.Errorf("registry updated but local role not persisted for %s: %w", acct.ID, err)
	}
	acct.Role = next
	res.Account = acct

	c.emit(acct.WalletAddress, "approved")
	obs.Log("info", "doctor approved", map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress,
		"ledger_write": res.LedgerWriteOccurred, "tx": res.TxHash,
	})
	return res, nil
}

// RejectDoctor declines a pending request. Purely local: nothing was ever
// written to the registry for a pending doctor.
func (c *Coordinator) RejectDoctor(ctx context.Context, accountID string) (Result, error) {
	acct, err := c.store.Find(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	if acct.Role != account.RolePendingDoctor {
		return Result{}, fmt.Errorf("%w: role %s", ErrNotPendingDoctor, acct.Role)
	}
	next, err := account.NextRole(acct.Role, account.EventAdminReject, nil)
	if err != nil {
		return Result{}, err
	}
	if err := c.store.SetRole(ctx, acct.ID, next); err != nil {
		return Result{}, err
	}
	acct.Role = next
	acct.Doctor = nil

	c.emit(acct.WalletAddress, "rejected")
	obs.Log("info", "doctor request rejected", map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress,
	})
	return Result{Account: acct}, nil
}

// RevokeDoctor withdraws doctor privileges, registry first. Symmetric to
// ApproveDoctor: an address already absent from the registry skips the
// on-chain write and only demotes locally.
func (c *Coordinator) RevokeDoctor(ctx context.Context, accountID string) (Result, error) {
	acct, err := c.store.Find(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	if acct.Role != account.RoleDoctor {
		return Result{}, fmt.Errorf("%w: role %s", ErrNotDoctor, acct.Role)
	}
	if acct.WalletAddress == "" {
		return Result{}, ErrNoWallet
	}

	approved, err := c.ledger.IsApproved(ctx, acct.WalletAddress)
	if err != nil {
		return Result{}, fmt.Errorf("revoke %s: %w", acct.WalletAddress, err)
	}

	res := Result{}
	if approved {
		txHash, err := c.ledger.Revoke(context.WithoutCancel(ctx), acct.WalletAddress)
		if err != nil {
			return Result{}, fmt.Errorf("revoke %s: %w", acct.WalletAddress, err)
		}
		res.LedgerWriteOccurred = true
		res.TxHash = txHash
	}

	// Same liveness rule as approval: the registry write completes, the local
	// demotion waits for a live caller.
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("revoke %s: %w", acct.WalletAddress, err)
	}

	if err := c.store.SetRole(context.WithoutCancel(ctx), acct.ID, account.RolePatient); err != nil {
		return Result{}, fmt.Errorf("registry updated but local role not persisted for %s: %w", acct.ID, err)
	}
	acct.Role = account.RolePatient
	acct.Doctor = nil
	res.Account = acct

	c.emit(acct.WalletAddress, "revoked")
	obs.Log("info", "doctor revoked", map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress,
		"ledger_write": res.LedgerWriteOccurred, "tx": res.TxHash,
	})
	return res, nil
}

func (c *Coordinator) emit(wallet, action string) {
	if c.publish != nil {
		c.publish.Publish(wallet, action, c.now().UTC())
	}
}
