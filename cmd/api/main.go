package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/approval"
	"herbalyze.org/internal/chain"
	"herbalyze.org/internal/herbal"
	"herbalyze.org/internal/httpapi"
	"herbalyze.org/internal/obs"
	"herbalyze.org/internal/stream"
	"herbalyze.org/internal/wallet"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("HERBALYZE_COMMIT"))

	// Postgres when a DSN is configured; in-memory stores otherwise (local
	// development without a database).
	var db *sql.DB
	var accounts account.Store
	var herbals herbal.Store
	if dsn := os.Getenv("HERBALYZE_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		accounts = account.NewPGStore(db)
		herbals = herbal.NewPGStore(db)
	} else {
		accounts = account.NewMemoryStore()
		herbals = herbal.NewMemoryStore()
	}

	// Registry client. An unconfigured registry is a hard failure for the
	// approval surface, never a silent no-op, so the coordinator gets the
	// dial error surfaced on first use instead of a nil ledger.
	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	registry, err := chain.Dial(dialCtx,
		os.Getenv("HERBALYZE_CHAIN_RPC_URL"),
		os.Getenv("HERBALYZE_REGISTRY_ADDRESS"),
		os.Getenv("HERBALYZE_ADMIN_PRIVATE_KEY"),
	)
	cancelDial()
	var ledger approval.Ledger
	if err != nil {
		log.Printf("registry unavailable at startup: %v", err)
		ledger = unavailableLedger{err: err}
	} else {
		defer registry.Close()
		ledger = registry
	}

	events := stream.New()
	coordinator := approval.NewCoordinator(accounts, ledger, approval.WithPublisher(events))

	api := httpapi.New(httpapi.Config{
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    version,
		Accounts:   accounts,
		Herbals:    herbals,
		Challenges: wallet.NewChallengeManager(accounts),
		Verifier:   wallet.NewVerifier(accounts),
		Approvals:  coordinator,
		Stream:     events,
	})

	addr := os.Getenv("HERBALYZE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE stream must not be cut off by a write deadline
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting herbalyze-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// unavailableLedger keeps the approval surface failing closed when the
// registry could not be dialed at startup.
type unavailableLedger struct {
	err error
}

func (u unavailableLedger) IsApproved(ctx context.Context, wallet string) (bool, error) {
	return false, u.err
}

func (u unavailableLedger) Approve(ctx context.Context, wallet string) (string, error) {
	return "", u.err
}

func (u unavailableLedger) Revoke(ctx context.Context, wallet string) (string, error) {
	return "", u.err
}
