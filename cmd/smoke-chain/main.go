// Command smoke-chain probes the authorization registry end to end: dial the
// RPC endpoint, read an address's approval flag, and if -write is set, approve
// then revoke a throwaway address and check the flag flips both ways.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"herbalyze.org/internal/chain"
)

func main() {
	log.SetFlags(0)
	write := flag.Bool("write", false, "also exercise approve/revoke (spends gas)")
	flag.Parse()

	rpcURL := os.Getenv("HERBALYZE_CHAIN_RPC_URL")
	contract := os.Getenv("HERBALYZE_REGISTRY_ADDRESS")
	adminKey := os.Getenv("HERBALYZE_ADMIN_PRIVATE_KEY")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	registry, err := chain.Dial(ctx, rpcURL, contract, adminKey)
	cancel()
	if err != nil {
		log.Fatalf("dial registry: %v", err)
	}
	defer registry.Close()

	ctxOp, cancelOp := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelOp()

	admin := registry.AdminAddress().Hex()
	approved, err := registry.IsApproved(ctxOp, admin)
	if err != nil {
		log.Fatalf("isApprovedUser(%s): %v", admin, err)
	}
	fmt.Printf("admin %s approved=%v\n", admin, approved)

	if !*write {
		fmt.Println("registry smoke test passed (read-only)")
		return
	}

	// A fresh random address: approved must start false, flip true, flip back.
	probeKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generate probe key: %v", err)
	}
	probe := crypto.PubkeyToAddress(probeKey.PublicKey).Hex()

	if got, err := registry.IsApproved(ctxOp, probe); err != nil || got {
		log.Fatalf("fresh address %s: approved=%v err=%v", probe, got, err)
	}
	tx, err := registry.Approve(ctxOp, probe)
	if err != nil {
		log.Fatalf("approve %s: %v", probe, err)
	}
	fmt.Printf("approved %s (tx %s)\n", probe, tx)
	if got, err := registry.IsApproved(ctxOp, probe); err != nil || !got {
		log.Fatalf("after approve %s: approved=%v err=%v", probe, got, err)
	}
	tx, err = registry.Revoke(ctxOp, probe)
	if err != nil {
		log.Fatalf("revoke %s: %v", probe, err)
	}
	fmt.Printf("revoked %s (tx %s)\n", probe, tx)
	if got, err := registry.IsApproved(ctxOp, probe); err != nil || got {
		log.Fatalf("after revoke %s: approved=%v err=%v", probe, got, err)
	}

	fmt.Println("registry smoke test passed")
}
