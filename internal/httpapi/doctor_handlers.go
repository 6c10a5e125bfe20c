package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/approval"
	"herbalyze.org/internal/audit"
	"herbalyze.org/internal/chain"
)

type doctorRequestBody struct {
	WalletAddress     string `json:"wallet_address"`
	LicenseNumber     string `json:"license_number"`
	InstitutionName   string `json:"institution_name"`
	DocumentReference string `json:"document_reference"`
}

type adminDecisionBody struct {
	WalletAddress string `json:"wallet_address"`
}

type approvalResponse struct {
	Account             *account.Account `json:"account"`
	LedgerWriteOccurred bool             `json:"ledger_write_occurred"`
	TxHash              string           `json:"tx_hash,omitempty"`
}

// handleDoctorRequest takes a patient's professional credentials and moves the
// account to PendingDoctor.
func (a *API) handleDoctorRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req doctorRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	creds := account.DoctorCredentials{
		LicenseNumber:   strings.TrimSpace(req.LicenseNumber),
		InstitutionName: strings.TrimSpace(req.InstitutionName),
		DocumentRef:     strings.TrimSpace(req.DocumentReference),
	}
	if !creds.Complete() {
		writeError(w, r, http.StatusBadRequest, "license_number, institution_name and document_reference are required")
		return
	}

	acct, err := a.accounts.FindByWallet(r.Context(), req.WalletAddress)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	// Run the transition table before touching the store.
	next, err := account.NextRole(acct.Role, account.EventSubmitDoctorRequest, &creds)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	if err := a.accounts.SetDoctorRequest(r.Context(), acct.ID, creds); err != nil {
		handleAccountError(w, r, err)
		return
	}
	acct.Role = next
	acct.Doctor = &creds

	_ = audit.LogEvent(r.Context(), audit.EventDoctorRequested, map[string]any{
		"account_id": acct.ID, "wallet": acct.WalletAddress, "license": creds.LicenseNumber,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Account: acct})
}

func (a *API) handleDoctorApprove(w http.ResponseWriter, r *http.Request) {
	a.adminDecision(w, r, audit.EventDoctorApproved, a.approvals.ApproveDoctor)
}

func (a *API) handleDoctorReject(w http.ResponseWriter, r *http.Request) {
	a.adminDecision(w, r, audit.EventDoctorRejected, a.approvals.RejectDoctor)
}

func (a *API) handleDoctorRevoke(w http.ResponseWriter, r *http.Request) {
	a.adminDecision(w, r, audit.EventDoctorRevoked, a.approvals.RevokeDoctor)
}

func (a *API) adminDecision(w http.ResponseWriter, r *http.Request, event string,
	decide func(context.Context, string) (approval.Result, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := requireRole(r.Context(), account.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	var req adminDecisionBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := a.accounts.FindByWallet(r.Context(), req.WalletAddress)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	res, err := decide(r.Context(), acct.ID)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"account_id":   res.Account.ID,
		"wallet":       res.Account.WalletAddress,
		"ledger_write": res.LedgerWriteOccurred,
		"tx":           res.TxHash,
	})
	writeJSON(w, http.StatusOK, approvalResponse{
		Account:             res.Account,
		LedgerWriteOccurred: res.LedgerWriteOccurred,
		TxHash:              res.TxHash,
	})
}

func handleApprovalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, approval.ErrNotPendingDoctor),
		errors.Is(err, approval.ErrNotDoctor),
		errors.Is(err, approval.ErrNoWallet),
		errors.Is(err, account.ErrIllegalTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, chain.ErrUnavailable), errors.Is(err, chain.ErrNotConfigured),
		errors.Is(err, chain.ErrTxFailed):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
