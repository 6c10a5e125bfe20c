package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/obs"
)

var (
	ErrInvalidAddress      = errors.New("wallet: invalid wallet address")
	ErrWalletNotRegistered = errors.New("wallet: wallet is not registered")
	ErrAccountPending      = errors.New("wallet: account awaiting administrative clearance")
	ErrNoActiveSession     = errors.New("wallet: no active sign-in challenge")
	ErrInvalidSignature    = errors.New("wallet: invalid signature")
	ErrAddressMismatch     = errors.New("wallet: signature does not match wallet address")
)

// The sign-in message shown by wallet UIs. The layout is fixed: preamble,
// blank line, instruction, blank line, nonce line. Changing any byte breaks
// interoperability with deployed frontends.
const (
	messagePreamble    = "Herbalyze wants you to sign in with your wallet."
	messageInstruction = "Sign this message to prove you control this address. Signing is free and will not send a transaction."
	noncePrefix        = "Secret Nonce: "
)

const nonceBytes = 32

// DefaultChallengeTTL bounds how long an issued challenge stays signable.
const DefaultChallengeTTL = 5 * time.Minute

// ValidAddress reports whether s is a well-formed hex wallet address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// Message renders the full challenge message for a nonce token.
func Message(nonce string) string {
	return messagePreamble + "\n\n" + messageInstruction + "\n\n" + noncePrefix + nonce
}

func newNonce() (string, error) {
	var b [nonceBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// ChallengeManager issues single-use sign-in challenges. Issuing replaces any
// prior unconsumed challenge, so only the latest message is ever signable.
type ChallengeManager struct {
	store account.Store
	now   func() time.Time
}

// NewChallengeManager constructs a manager over the given account store.
func NewChallengeManager(store account.Store) *ChallengeManager {
	return &ChallengeManager{store: store, now: time.Now}
}

// Issue generates a fresh challenge for the wallet's account and returns the
// full message to sign. No cryptography happens here; the persisted nonce is
// the only state change.
func (m *ChallengeManager) Issue(ctx context.Context, walletAddress string) (string, error) {
	if !common.IsHexAddress(walletAddress) {
		return "", ErrInvalidAddress
	}
	acct, err := m.store.FindByWallet(ctx, walletAddress)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", ErrWalletNotRegistered
		}
		return "", err
	}
	if acct.Status == account.StatusPending {
		return "", ErrAccountPending
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	if err := m.store.SetChallenge(ctx, acct.ID, nonce, m.now().UTC()); err != nil {
		return "", err
	}
	obs.ChallengeIssued()
	return Message(nonce), nil
}
