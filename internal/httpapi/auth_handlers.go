package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/audit"
	"herbalyze.org/internal/auth"
	"herbalyze.org/internal/ids"
	"herbalyze.org/internal/wallet"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type nonceRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type nonceResponse struct {
	NonceMessage string `json:"nonce_message"`
}

type verifyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
}

type walletRegisterRequest struct {
	WalletAddress string `json:"wallet_address"`
	Name          string `json:"name"`
}

type connectWalletRequest struct {
	AccountID     string `json:"account_id"`
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

type sessionResponse struct {
	Account   *account.Account `json:"account"`
	Token     string           `json:"token,omitempty"`
	ExpiresAt time.Time        `json:"expires_at,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid email address")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct := &account.Account{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         account.RolePatient,
	}
	if err := a.accounts.Create(r.Context(), acct); err != nil {
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventAccountRegister, map[string]any{
		"account_id": acct.ID, "email": email,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{Account: acct})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	acct, err := a.accounts.FindByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
			return
		}
		handleAccountError(w, r, err)
		return
	}
	if err := auth.VerifyPassword(acct.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	}

	a.writeSession(w, r, acct)
}

func (a *API) handleNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req nonceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := a.challenges.Issue(r.Context(), req.WalletAddress)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventChallengeIssued, map[string]any{
		"wallet": account.NormalizeWallet(req.WalletAddress),
	})
	writeJSON(w, http.StatusOK, nonceResponse{NonceMessage: msg})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := a.verifier.Verify(r.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventWalletRejected, map[string]any{
			"wallet": account.NormalizeWallet(req.WalletAddress), "reason": err.Error(),
		})
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventWalletVerified, map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress,
	})
	a.writeSession(w, r, acct)
}

// handleWalletRegister provisions a wallet-only account (pure web3 users).
// The caller still proves key control through the nonce/verify round trip.
func (a *API) handleWalletRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req walletRegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !wallet.ValidAddress(req.WalletAddress) {
		writeError(w, r, http.StatusBadRequest, "invalid wallet address")
		return
	}

	acct := &account.Account{
		Name:          strings.TrimSpace(req.Name),
		WalletAddress: account.NormalizeWallet(req.WalletAddress),
		Role:          account.RolePatient,
	}
	if err := a.accounts.Create(r.Context(), acct); err != nil {
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventAccountRegister, map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{Account: acct})
}

func (a *API) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req connectWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.WalletAddress) == "" {
		writeError(w, r, http.StatusBadRequest, "account_id and wallet_address are required")
		return
	}
	if !ids.IsValid(req.AccountID) {
		writeError(w, r, http.StatusBadRequest, "invalid account id")
		return
	}
	if !wallet.ValidAddress(req.WalletAddress) {
		writeError(w, r, http.StatusBadRequest, "invalid wallet address")
		return
	}

	// Proof of key control is optional here but, when supplied, must hold.
	if req.Signature != "" && req.Message != "" {
		recovered, err := wallet.RecoverAddress(req.Message, req.Signature)
		if err != nil || !strings.EqualFold(recovered.Hex(), req.WalletAddress) {
			writeError(w, r, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	if err := a.accounts.LinkWallet(r.Context(), req.AccountID, req.WalletAddress); err != nil {
		handleAccountError(w, r, err)
		return
	}
	acct, err := a.accounts.Find(r.Context(), req.AccountID)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventWalletLinked, map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Account: acct})
}

// writeSession issues an access token for the account and writes the session
// payload. Token issuance failure degrades to an account-only response so
// wallet verification itself never fails on a missing token secret.
func (a *API) writeSession(w http.ResponseWriter, r *http.Request, acct *account.Account) {
	resp := sessionResponse{Account: acct}
	if token, err := auth.GenerateToken(acct, auth.DefaultTokenTTL); err == nil {
		resp.Token = token
		resp.ExpiresAt = time.Now().UTC().Add(auth.DefaultTokenTTL)
		_ = audit.LogEvent(r.Context(), audit.EventTokenIssued, map[string]any{
			"account_id": acct.ID, "role": string(acct.Role),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers shared by the handler files ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAddress), errors.Is(err, account.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrNoActiveSession):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrInvalidSignature), errors.Is(err, wallet.ErrAddressMismatch):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, wallet.ErrAccountPending):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, wallet.ErrWalletNotRegistered), errors.Is(err, account.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, account.ErrWalletTaken), errors.Is(err, account.ErrAlreadyExists):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrIllegalTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
