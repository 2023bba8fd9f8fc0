// Command providerkey provisions provider credentials into the pool. Secrets
// are encrypted at rest; run once per key, with -slot ordering keys within a
// provider's pool.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"studio/internal/credentials"
	"studio/internal/infra"
)

func main() {
	var (
		keyFlag      string
		providerFlag string
		userFlag     string
		slotFlag     int
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to PROVIDER_API_KEY)")
	flag.StringVar(&providerFlag, "provider", "qwen", "provider to configure (qwen or replicate)")
	flag.StringVar(&userFlag, "user", "", "bind the key to one user instead of the global pool")
	flag.IntVar(&slotFlag, "slot", 0, "slot hint ordering keys within the provider pool")
	flag.Parse()

	_ = godotenv.Load()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	switch provider {
	case "qwen", "replicate":
	default:
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("PROVIDER_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "API key is required via -key or PROVIDER_API_KEY")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	cipherKey, err := hex.DecodeString(strings.TrimSpace(os.Getenv("CREDENTIAL_KEY")))
	if err != nil || len(cipherKey) != 32 {
		fmt.Fprintln(os.Stderr, "CREDENTIAL_KEY must be 32 hex-encoded bytes")
		os.Exit(1)
	}
	cipher, err := credentials.NewCipher(cipherKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid credential key: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", provider).Logger()
	pool := credentials.NewPool(infra.NewSQLRunner(dbpool, logger), cipher)

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()
	if err := pool.Store(ctxExec, uuid.NewString(), strings.TrimSpace(userFlag), provider, slotFlag, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s api key: %v\n", provider, err)
		os.Exit(1)
	}

	fmt.Printf("%s API key stored (slot %d)\n", strings.ToUpper(provider), slotFlag)
}
