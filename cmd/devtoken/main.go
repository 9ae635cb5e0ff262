// Command devtoken prints a signed bearer token for local testing.
//
//	go run ./cmd/devtoken -sub lic-north -role licensee -tenant tenant-north
//
// The secret comes from JWT_SECRET, same as the server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/warp/incentive-engine/auth"
	"github.com/warp/incentive-engine/compensation"
	"github.com/warp/incentive-engine/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	fs := flag.NewFlagSet("devtoken", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sub := fs.String("sub", "hq-ops", "user id")
	role := fs.String("role", string(compensation.RoleHQ), "hq, licensee or staff")
	tenant := fs.String("tenant", "", "tenant id (licensee only)")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tokens := auth.NewManager(cfg.JWTSecret, *ttl)
	tok, err := tokens.Generate(compensation.Caller{
		ID:       compensation.UserID(*sub),
		Role:     compensation.Role(*role),
		TenantID: compensation.TenantID(*tenant),
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	_, err = fmt.Fprintln(stdout, tok)
	return err
}
