// Package chain talks to the on-chain authorization registry: the
// admin-controlled contract recording which wallet addresses are approved
// doctors. Reads are plain contract calls; writes are legacy transactions
// signed with the administrative key.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"herbalyze.org/internal/obs"
)

var (
	// ErrNotConfigured means the RPC URL, contract address or admin key is
	// missing. Treated as hard unavailability, never a silent no-op.
	ErrNotConfigured = errors.New("chain: registry is not configured")
	// ErrUnavailable covers transport failures and timeouts after retries.
	ErrUnavailable = errors.New("chain: registry unavailable")
	// ErrTxFailed means the chain definitively rejected or reverted the
	// transaction. Never retried.
	ErrTxFailed = errors.New("chain: registry transaction failed")
)

// The registry exposes three functions; nothing else is consumed here.
const registryABI = `[
	{"type":"function","name":"approveUser","stateMutability":"nonpayable","inputs":[{"name":"_user","type":"address"}],"outputs":[]},
	{"type":"function","name":"revokeUser","stateMutability":"nonpayable","inputs":[{"name":"_user","type":"address"}],"outputs":[]},
	{"type":"function","name":"isApprovedUser","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const (
	defaultCallTimeout = 10 * time.Second
	defaultGasLimit    = 100_000
	retryAttempts      = 3
	retryBaseDelay     = 500 * time.Millisecond
	receiptPollEvery   = 250 * time.Millisecond
)

// Backend is the subset of the Ethereum client the registry needs. ethclient
// satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Registry is the authorization-ledger client. Writes are serialized through
// writeMu because the admin identity requires monotonically increasing
// transaction nonces; reads run in parallel.
type Registry struct {
	backend  Backend
	closeFn  func()
	contract common.Address
	abi      abi.ABI

	adminKey  *ecdsa.PrivateKey
	adminAddr common.Address
	chainID   *big.Int

	writeMu     sync.Mutex
	callTimeout time.Duration
	gasLimit    uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithCallTimeout bounds each registry round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithGasLimit overrides the fixed write gas limit.
func WithGasLimit(limit uint64) Option {
	return func(r *Registry) {
		if limit > 0 {
			r.gasLimit = limit
		}
	}
}

// Dial connects to the chain RPC endpoint and builds a registry client. All
// three parameters are required; a partially configured registry refuses to
// construct rather than degrade into no-op behavior at call time.
func Dial(ctx context.Context, rpcURL, contractAddr, adminKeyHex string, opts ...Option) (*Registry, error) {
	if strings.TrimSpace(rpcURL) == "" || strings.TrimSpace(contractAddr) == "" || strings.TrimSpace(adminKeyHex) == "" {
		return nil, ErrNotConfigured
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("%w: bad contract address", ErrNotConfigured)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(adminKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad admin key", ErrNotConfigured)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reg, err := NewRegistry(client, common.HexToAddress(contractAddr), key, chainID, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	reg.closeFn = client.Close
	return reg, nil
}

// NewRegistry wires a registry over an existing backend. Used directly by
// tests and by Dial.
func NewRegistry(backend Backend, contract common.Address, adminKey *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) (*Registry, error) {
	if backend == nil || adminKey == nil || chainID == nil {
		return nil, ErrNotConfigured
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	return applyOptions(&Registry{
		backend:     backend,
		contract:    contract,
		abi:         parsed,
		adminKey:    adminKey,
		adminAddr:   crypto.PubkeyToAddress(adminKey.PublicKey),
		chainID:     chainID,
		callTimeout: defaultCallTimeout,
		gasLimit:    defaultGasLimit,
	}, opts), nil
}

func applyOptions(r *Registry, opts []Option) *Registry {
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases the underlying RPC connection.
func (r *Registry) Close() {
	if r != nil && r.closeFn != nil {
		r.closeFn()
	}
}

// AdminAddress returns the address writes are signed with.
func (r *Registry) AdminAddress() common.Address { return r.adminAddr }

// IsApproved reports whether the wallet holds an approval on the registry.
func (r *Registry) IsApproved(ctx context.Context, wallet string) (bool, error) {
	data, err := r.abi.Pack("isApprovedUser", common.HexToAddress(wallet))
	if err != nil {
		return false, fmt.Errorf("pack isApprovedUser: %w", err)
	}

	var out []byte
	err = r.withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = r.backend.CallContract(ctx, ethereum.CallMsg{
			To:   &r.contract,
			Data: data,
		}, nil)
		return callErr
	})
	if err != nil {
		obs.RegistryRead("error")
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	results, err := r.abi.Unpack("isApprovedUser", out)
	if err != nil || len(results) != 1 {
		obs.RegistryRead("error")
		return false, fmt.Errorf("%w: bad isApprovedUser result", ErrUnavailable)
	}
	approved, ok := results[0].(bool)
	if !ok {
		obs.RegistryRead("error")
		return false, fmt.Errorf("%w: bad isApprovedUser result", ErrUnavailable)
	}
	obs.RegistryRead("ok")
	return approved, nil
}

// Approve submits an admin-signed approveUser transaction and waits for its
// receipt. Returns the transaction hash.
func (r *Registry) Approve(ctx context.Context, wallet string) (string, error) {
	return r.write(ctx, "approveUser", wallet)
}

// Revoke submits an admin-signed revokeUser transaction and waits for its
// receipt.
func (r *Registry) Revoke(ctx context.Context, wallet string) (string, error) {
	return r.write(ctx, "revokeUser", wallet)
}

func (r *Registry) write(ctx context.Context, method, wallet string) (string, error) {
	data, err := r.abi.Pack(method, common.HexToAddress(wallet))
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	// One writer at a time: the admin identity's transaction nonces must be
	// strictly increasing, and unsynchronized submissions invert ordering.
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var txHash common.Hash
	err = r.withRetry(ctx, func(ctx context.Context) error {
		nonce, err := r.backend.PendingNonceAt(ctx, r.adminAddr)
		if err != nil {
			return err
		}
		gasPrice, err := r.backend.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		tx := types.NewTransaction(nonce, r.contract, big.NewInt(0), r.gasLimit, gasPrice, data)
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.adminKey)
		if err != nil {
			return err
		}
		if err := r.backend.SendTransaction(ctx, signed); err != nil {
			return err
		}
		txHash = signed.Hash()
		return nil
	})
	if err != nil {
		obs.RegistryWrite(method, "unavailable")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	receipt, err := r.waitMined(ctx, txHash)
	if err != nil {
		obs.RegistryWrite(method, "unavailable")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		obs.RegistryWrite(method, "reverted")
		return "", fmt.Errorf("%w: %s reverted (tx %s)", ErrTxFailed, method, txHash.Hex())
	}
	obs.RegistryWrite(method, "ok")
	return txHash.Hex(), nil
}

func (r *Registry) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollEvery)
	defer ticker.Stop()
	for {
		receipt, err := r.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// withRetry runs fn under the call timeout, retrying transient transport
// failures a bounded number of times with doubling backoff. Definitive errors
// pass through on the first attempt.
func (r *Registry) withRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "i/o timeout", "no such host", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
