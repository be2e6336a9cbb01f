// Package main generates GoTrue-style access tokens for exercising the gate
// locally. Tokens are signed with the configured JWT secret.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"profilegate/internal/identity/gotrue"
	"profilegate/internal/identity/models"
)

const (
	devJWTSecret    = "super-secret-jwt-token-with-at-least-32-characters-long"
	defaultTokenTTL = time.Hour
)

type tokenOutput struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at"`
	Cookie    string `json:"cookie"`
}

func main() {
	accessCmd := flag.NewFlagSet("access", flag.ExitOnError)
	userID := accessCmd.String("user-id", "", "User ID (UUID). Generated if empty.")
	email := accessCmd.String("email", "dev@example.com", "Email claim")
	ttl := accessCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live; negative values produce an expired token")
	secret := accessCmd.String("secret", envOr("GOTRUE_JWT_SECRET", devJWTSecret), "HS256 signing secret")
	asJSON := accessCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 || os.Args[1] != "access" {
		printUsage()
		os.Exit(1)
	}
	_ = accessCmd.Parse(os.Args[2:])

	out, err := generate(*userID, *email, *secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	fmt.Println(out.Token)
	fmt.Fprintf(os.Stderr, "\nuser: %s\nexpires: %s\ncurl -b '%s' http://localhost:8080/feed\n",
		out.UserID, out.ExpiresAt, out.Cookie)
}

func generate(userID, email, secret string, ttl time.Duration) (tokenOutput, error) {
	if userID == "" {
		userID = uuid.NewString()
	} else if _, err := uuid.Parse(userID); err != nil {
		return tokenOutput{}, fmt.Errorf("invalid user id: %w", err)
	}

	now := time.Now()
	expires := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, gotrue.AccessTokenClaims{
		Email:     email,
		Role:      "authenticated",
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return tokenOutput{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenOutput{
		Token:     signed,
		UserID:    userID,
		ExpiresAt: expires.UTC().Format(time.RFC3339),
		Cookie:    models.AccessTokenCookie + "=" + signed,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: tokengen access [flags]

Generates an HS256 access token accepted by profilegate's session reader.

Flags:
  -user-id   User ID (UUID). Generated if empty.
  -email     Email claim (default dev@example.com)
  -ttl       Token lifetime, e.g. 15m; -1m yields an expired token
  -secret    Signing secret (default $GOTRUE_JWT_SECRET or the local dev secret)
  -json      Output as JSON`)
}
