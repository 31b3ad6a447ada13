// Command cuentas-token issues API tokens for local development and
// service accounts. It signs with JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"cuentas/internal/auth"
	"cuentas/internal/cli"
	"cuentas/internal/log"
)

func main() {
	tenant := flag.String("tenant", "", "company id the token is scoped to")
	subject := flag.String("sub", "", "user id")
	role := flag.String("role", string(auth.RoleEditor), "viewer, editor or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))

	r, ok := auth.NormalizeRole(*role)
	if !ok {
		logger.Error("Invalid role", "role", *role)
		os.Exit(2)
	}
	tok, err := auth.IssueToken([]byte(os.Getenv("JWT_SECRET")), *tenant, *subject, r, *ttl)
	if err != nil {
		logger.Error("Failed to issue token", log.FieldError, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
