package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/obs"
)

// Verifier authenticates wallet owners by checking a signature over the
// account's outstanding challenge message.
type Verifier struct {
	store account.Store
	ttl   time.Duration
	now   func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithChallengeTTL overrides the challenge lifetime. Zero disables expiry.
func WithChallengeTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) { v.ttl = ttl }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier with the default challenge lifetime.
func NewVerifier(store account.Store, opts ...VerifierOption) *Verifier {
	v := &Verifier{store: store, ttl: DefaultChallengeTTL, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify recovers the signer of the stored challenge message and, on a match,
// consumes the challenge and returns the account as authenticated.
//
// Only a successful verification consumes the challenge: a mismatched attempt
// leaves it intact so the legitimate holder can still sign in, while the
// compare-and-clear in the store guarantees the same signature never succeeds
// twice.
func (v *Verifier) Verify(ctx context.Context, walletAddress, signature string) (*account.Account, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, ErrInvalidAddress
	}
	acct, err := v.store.FindByWallet(ctx, walletAddress)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrWalletNotRegistered
		}
		return nil, err
	}
	if acct.Challenge == "" {
		obs.WalletVerification("no_session")
		return nil, ErrNoActiveSession
	}
	if v.ttl > 0 && v.now().Sub(acct.ChallengeSetAt) > v.ttl {
		// An expired challenge reads as absent; the next issue replaces it.
		obs.WalletVerification("no_session")
		return nil, ErrNoActiveSession
	}

	recovered, err := RecoverAddress(Message(acct.Challenge), signature)
	if err != nil {
		obs.WalletVerification("invalid")
		return nil, ErrInvalidSignature
	}
	if !strings.EqualFold(recovered.Hex(), acct.WalletAddress) {
		obs.WalletVerification("mismatch")
		return nil, ErrAddressMismatch
	}

	if err := v.store.ConsumeChallenge(ctx, acct.ID, acct.Challenge); err != nil {
		if errors.Is(err, account.ErrChallengeConsumed) {
			obs.WalletVerification("no_session")
			return nil, ErrNoActiveSession
		}
		return nil, err
	}
	acct.Challenge = ""
	acct.ChallengeSetAt = time.Time{}
	obs.WalletVerification("ok")
	return acct, nil
}

// RecoverAddress recovers the signer of message from an Ethereum
// personal-message signature ("\x19Ethereum Signed Message:\n" prefix).
func RecoverAddress(message, signature string) (common.Address, error) {
	raw, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	raw, err := hex.DecodeString(signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if len(raw) != crypto.SignatureLength {
		return nil, ErrInvalidSignature
	}
	// Wallets emit V as 27/28; go-ethereum expects 0/1.
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	if raw[crypto.RecoveryIDOffset] > 1 {
		return nil, ErrInvalidSignature
	}
	return raw, nil
}
