package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/chain"
)

// fakeLedger scripts the registry: a set of approved wallets plus optional
// forced errors, counting every write.
type fakeLedger struct {
	approved map[string]bool
	readErr  error
	writeErr error
	onWrite  func()

	approveCalls int
	revokeCalls  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{approved: make(map[string]bool)}
}

func (f *fakeLedger) IsApproved(ctx context.Context, wallet string) (bool, error) {
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.approved[wallet], nil
}

func (f *fakeLedger) Approve(ctx context.Context, wallet string) (string, error) {
	f.approveCalls++
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return "", f.writeErr
	}
	f.approved[wallet] = true
	return "0xtx-approve", nil
}

func (f *fakeLedger) Revoke(ctx context.Context, wallet string) (string, error) {
	f.revokeCalls++
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return "", f.writeErr
	}
	delete(f.approved, wallet)
	return "0xtx-revoke", nil
}

type recordedEvent struct {
	wallet string
	action string
}

type fakePublisher struct {
	events []recordedEvent
}

func (p *fakePublisher) Publish(wallet, action string, at time.Time) {
	p.events = append(p.events, recordedEvent{wallet: wallet, action: action})
}

const testWallet = "0xaa00000000000000000000000000000000000001"

func pendingDoctor(t *testing.T, store *account.MemoryStore) *account.Account {
	t.Helper()
	a := &account.Account{WalletAddress: testWallet}
	if err := store.Create(context.Background(), a); err != nil {
		t.Fatalf("create: %v", err)
	}
	creds := account.DoctorCredentials{LicenseNumber: "STR-001", InstitutionName: "RSUD", DocumentRef: "doc-1"}
	if err := store.SetDoctorRequest(context.Background(), a.ID, creds); err != nil {
		t.Fatalf("set doctor request: %v", err)
	}
	a.Role = account.RolePendingDoctor
	return a
}

func TestApproveDoctorWritesLedgerThenLocal(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	pub := &fakePublisher{}
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger, WithPublisher(pub))
	res, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.LedgerWriteOccurred || res.TxHash == "" {
		t.Fatalf("expected a ledger write, got %+v", res)
	}
	if res.Account.Role != account.RoleDoctor {
		t.Fatalf("expected Doctor, got %s", res.Account.Role)
	}
	if stored, _ := store.Find(ctx, acct.ID); stored.Role != account.RoleDoctor {
		t.Fatalf("local role not persisted: %s", stored.Role)
	}
	if len(pub.events) != 1 || pub.events[0].action != "approved" || pub.events[0].wallet != testWallet {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestApproveDoctorIdempotent(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	// Simulate a crash between the ledger write and the local role update.
	if err := store.SetRole(ctx, acct.ID, account.RolePendingDoctor); err != nil {
		t.Fatalf("reset role: %v", err)
	}

	res, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	if res.LedgerWriteOccurred {
		t.Fatal("retry must short-circuit on the existing ledger approval")
	}
	if ledger.approveCalls != 1 {
		t.Fatalf("exactly one ledger write expected, got %d", ledger.approveCalls)
	}
	if res.Account.Role != account.RoleDoctor {
		t.Fatalf("expected Doctor after retry, got %s", res.Account.Role)
	}
}

func TestApproveDoctorAfterSuccessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	// Second invocation on the now-Doctor account reports success with no
	// further registry write.
	res, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if res.LedgerWriteOccurred || res.TxHash != "" {
		t.Fatalf("second approve must not write the ledger: %+v", res)
	}
	if res.Account.Role != account.RoleDoctor {
		t.Fatalf("role = %s, want Doctor", res.Account.Role)
	}
	if ledger.approveCalls != 1 {
		t.Fatalf("ledger written %d times, want 1", ledger.approveCalls)
	}
}

func TestApproveDoctorReconcilesDriftedRegistry(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Registry lost the approval out of band; the local role is still Doctor.
	delete(ledger.approved, testWallet)

	res, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if !res.LedgerWriteOccurred {
		t.Fatal("expected the missing registry entry to be rewritten")
	}
	if !ledger.approved[testWallet] {
		t.Fatal("registry entry not restored")
	}
}

func TestApproveDoctorCancelledCallerKeepsLocalRole(t *testing.T) {
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	ledger.onWrite = cancel

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stored, _ := store.Find(context.Background(), acct.ID); stored.Role != account.RolePendingDoctor {
		t.Fatalf("local role advanced for a cancelled caller: %s", stored.Role)
	}
	// The registry write itself ran to completion.
	if ledger.approveCalls != 1 || !ledger.approved[testWallet] {
		t.Fatalf("registry write lost: calls=%d approved=%v", ledger.approveCalls, ledger.approved[testWallet])
	}

	// A live retry converges without a second write.
	ledger.onWrite = nil
	res, err := c.ApproveDoctor(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.LedgerWriteOccurred || res.Account.Role != account.RoleDoctor {
		t.Fatalf("unexpected retry result: %+v", res)
	}
	if ledger.approveCalls != 1 {
		t.Fatalf("ledger written %d times, want 1", ledger.approveCalls)
	}
}

func TestRevokeDoctorCancelledCallerKeepsLocalRole(t *testing.T) {
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(context.Background(), acct.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ledger.onWrite = cancel
	if _, err := c.RevokeDoctor(ctx, acct.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stored, _ := store.Find(context.Background(), acct.ID); stored.Role != account.RoleDoctor {
		t.Fatalf("local role demoted for a cancelled caller: %s", stored.Role)
	}
	if ledger.approved[testWallet] {
		t.Fatal("registry revocation lost")
	}

	// A live retry finishes the demotion; the registry already agrees.
	ledger.onWrite = nil
	res, err := c.RevokeDoctor(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.LedgerWriteOccurred || res.Account.Role != account.RolePatient {
		t.Fatalf("unexpected retry result: %+v", res)
	}
}

func TestApproveDoctorFailsClosedOnLedgerRead(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	ledger.readErr = chain.ErrUnavailable
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); !errors.Is(err, chain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if stored, _ := store.Find(ctx, acct.ID); stored.Role != account.RolePendingDoctor {
		t.Fatalf("role must not advance on a failed read: %s", stored.Role)
	}
}

func TestApproveDoctorFailsClosedOnLedgerWrite(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	ledger.writeErr = chain.ErrTxFailed
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); !errors.Is(err, chain.ErrTxFailed) {
		t.Fatalf("expected ErrTxFailed, got %v", err)
	}
	if stored, _ := store.Find(ctx, acct.ID); stored.Role != account.RolePendingDoctor {
		t.Fatalf("role must not advance on a failed write: %s", stored.Role)
	}

	// The account stays retryable once the ledger recovers.
	ledger.writeErr = nil
	res, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if !res.LedgerWriteOccurred || res.Account.Role != account.RoleDoctor {
		t.Fatalf("unexpected retry result: %+v", res)
	}
}

func TestApproveDoctorRejectsWrongRole(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	patient := &account.Account{WalletAddress: testWallet}
	if err := store.Create(ctx, patient); err != nil {
		t.Fatalf("create: %v", err)
	}

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, patient.ID); !errors.Is(err, ErrNotPendingDoctor) {
		t.Fatalf("expected ErrNotPendingDoctor, got %v", err)
	}
	if stored, _ := store.Find(ctx, patient.ID); stored.Role != account.RolePatient {
		t.Fatalf("role changed on rejected approval: %s", stored.Role)
	}
	if ledger.approveCalls != 0 {
		t.Fatal("ledger must not be touched for an illegal transition")
	}
}

func TestApproveDoctorMissingAccount(t *testing.T) {
	c := NewCoordinator(account.NewMemoryStore(), newFakeLedger())
	if _, err := c.ApproveDoctor(context.Background(), "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApproveDoctorRequiresWallet(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	a := &account.Account{Email: "doc@example.com"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	creds := account.DoctorCredentials{LicenseNumber: "STR-001", InstitutionName: "RSUD", DocumentRef: "doc-1"}
	if err := store.SetDoctorRequest(ctx, a.ID, creds); err != nil {
		t.Fatalf("set doctor request: %v", err)
	}

	c := NewCoordinator(store, newFakeLedger())
	if _, err := c.ApproveDoctor(ctx, a.ID); !errors.Is(err, ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}
}

func TestRejectDoctorIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	res, err := c.RejectDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.LedgerWriteOccurred || ledger.approveCalls != 0 || ledger.revokeCalls != 0 {
		t.Fatal("reject must never touch the ledger")
	}
	stored, _ := store.Find(ctx, acct.ID)
	if stored.Role != account.RolePatient || stored.Doctor != nil {
		t.Fatalf("reject must demote and clear credentials: %+v", stored)
	}
}

func TestRevokeDoctor(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res, err := c.RevokeDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !res.LedgerWriteOccurred || ledger.revokeCalls != 1 {
		t.Fatalf("expected one revoke write: %+v calls=%d", res, ledger.revokeCalls)
	}
	stored, _ := store.Find(ctx, acct.ID)
	if stored.Role != account.RolePatient || stored.Doctor != nil {
		t.Fatalf("revoke must demote and clear credentials: %+v", stored)
	}

	// Revoking a patient again is an illegal transition.
	if _, err := c.RevokeDoctor(ctx, acct.ID); !errors.Is(err, ErrNotDoctor) {
		t.Fatalf("expected ErrNotDoctor, got %v", err)
	}
}

func TestRevokeDoctorSkipsLedgerWhenAlreadyAbsent(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()
	acct := pendingDoctor(t, store)

	c := NewCoordinator(store, ledger)
	if _, err := c.ApproveDoctor(ctx, acct.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Registry lost the approval out of band; only the local role remains.
	delete(ledger.approved, testWallet)

	res, err := c.RevokeDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.LedgerWriteOccurred || ledger.revokeCalls != 0 {
		t.Fatal("revoke must short-circuit when the registry already agrees")
	}
	if res.Account.Role != account.RolePatient {
		t.Fatalf("expected Patient, got %s", res.Account.Role)
	}
}

// Full lifecycle: register, verify keeps Patient, request doctor, approve with
// a fresh ledger write, approve again with the idempotent short-circuit.
func TestDoctorLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemoryStore()
	ledger := newFakeLedger()

	acct := &account.Account{WalletAddress: testWallet}
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, _ := store.Find(ctx, acct.ID); got.Role != account.RolePatient {
		t.Fatalf("new account must be Patient, got %s", got.Role)
	}

	creds := account.DoctorCredentials{LicenseNumber: "STR-001", InstitutionName: "RSUD", DocumentRef: "doc-1"}
	next, err := account.NextRole(account.RolePatient, account.EventSubmitDoctorRequest, &creds)
	if err != nil || next != account.RolePendingDoctor {
		t.Fatalf("doctor request transition: %s, %v", next, err)
	}
	if err := store.SetDoctorRequest(ctx, acct.ID, creds); err != nil {
		t.Fatalf("set doctor request: %v", err)
	}

	c := NewCoordinator(store, ledger)
	first, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !first.LedgerWriteOccurred || first.Account.Role != account.RoleDoctor {
		t.Fatalf("first approval: %+v", first)
	}

	// Second invocation: the registry already holds the approval, so the call
	// succeeds without writing again and the role stays Doctor.
	second, err := c.ApproveDoctor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if second.LedgerWriteOccurred || second.Account.Role != account.RoleDoctor {
		t.Fatalf("second approval: %+v", second)
	}
	if ledger.approveCalls != 1 {
		t.Fatalf("ledger written %d times, want 1", ledger.approveCalls)
	}
}
