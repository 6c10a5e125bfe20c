// Package httpapi is the HTTP surface of the identity service: wallet
// challenge/response auth, account registration, doctor verification, the
// admin approval endpoints and the herbal catalogue reads.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/approval"
	"herbalyze.org/internal/herbal"
	"herbalyze.org/internal/obs"
	"herbalyze.org/internal/stream"
	"herbalyze.org/internal/wallet"
)

// ReadyProbe is a simple readiness check (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	ReadyProbe ReadyProbe
	Version    string

	Accounts   account.Store
	Herbals    herbal.Store
	Challenges *wallet.ChallengeManager
	Verifier   *wallet.Verifier
	Approvals  *approval.Coordinator
	Stream     *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	accounts   account.Store
	herbals    herbal.Store
	challenges *wallet.ChallengeManager
	verifier   *wallet.Verifier
	approvals  *approval.Coordinator
	stream     *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		rateBurst:  20,
		ratePerSec: 10,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		accounts:   cfg.Accounts,
		herbals:    cfg.Herbals,
		challenges: cfg.Challenges,
		verifier:   cfg.Verifier,
		approvals:  cfg.Approvals,
		stream:     cfg.Stream,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/nonce", a.handleNonce)
	a.mux.HandleFunc("/v1/auth/verify", a.handleVerify)
	a.mux.HandleFunc("/v1/auth/wallet/register", a.handleWalletRegister)
	a.mux.HandleFunc("/v1/auth/connect-wallet", a.handleConnectWallet)

	// doctor lifecycle
	a.mux.HandleFunc("/v1/doctor/request", a.handleDoctorRequest)
	a.mux.HandleFunc("/v1/admin/doctor/approve", a.handleDoctorApprove)
	a.mux.HandleFunc("/v1/admin/doctor/reject", a.handleDoctorReject)
	a.mux.HandleFunc("/v1/admin/doctor/revoke", a.handleDoctorRevoke)
	a.mux.HandleFunc("/v1/admin/stream", a.Stream)

	// herbal catalogue
	a.mux.HandleFunc("/v1/herbals/diagnoses", a.handleDiagnoses)
	a.mux.HandleFunc("/v1/herbals/symptoms", a.handleSymptoms)
	a.mux.HandleFunc("/v1/herbals/special-conditions", a.handleSpecialConditions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "herbalyze-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "herbalyze-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
