// Command migrate applies the service schema (accounts, herbal catalogue) and
// the catalogue seed rows against PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"herbalyze.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn           = flag.String("dsn", os.Getenv("HERBALYZE_PG_DSN"), "PostgreSQL DSN (defaults to HERBALYZE_PG_DSN)")
		migrationsDir = flag.String("migrations", "ops/migrations/sql", "schema migration directory")
		seedsDir      = flag.String("seeds", "ops/migrations/seeds", "herbal catalogue seed directory")
	)
	flag.Parse()

	if err := run(*dsn, *migrationsDir, *seedsDir, flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func run(dsn, migrationsDir, seedsDir, command string) error {
	if dsn == "" {
		return errors.New("missing DSN: provide -dsn or set HERBALYZE_PG_DSN")
	}
	if command == "" {
		return errors.New("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrationsDir, seedsDir)

	switch command {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := mgr.Down(ctx); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			return fmt.Errorf("seed catalogue: %w", err)
		}
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
