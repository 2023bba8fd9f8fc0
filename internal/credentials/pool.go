// Package credentials holds the provider credential pool. Credentials are
// provisioned out-of-band (providerkey CLI) and read-only at request time;
// the pool only selects and decrypts them.
package credentials

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// Credential is a decrypted provider secret assigned to a fan-out slot.
type Credential struct {
	ID         string
	Provider   string
	Secret     string
	UserScoped bool
}

// Pool assigns one credential per parallel slot. The slot→credential mapping
// is deterministic: slots map onto the configured credentials in order and
// wrap around when there are fewer credentials than slots.
type Pool struct {
	sql    infra.SQLExecutor
	cipher *Cipher
}

func NewPool(sql infra.SQLExecutor, cipher *Cipher) *Pool {
	return &Pool{sql: sql, cipher: cipher}
}

// Acquire returns the credential for the given provider and slot index.
// User-scoped credentials take precedence over global ones. It returns
// domain.ErrNoCredential when neither exists.
func (p *Pool) Acquire(ctx context.Context, userID, provider string, slotIndex int) (Credential, error) {
	rows, err := p.sql.Query(ctx, sqlinline.QSelectProviderCredentials, userID, provider)
	if err != nil {
		return Credential{}, fmt.Errorf("credentials: load %s: %w", provider, err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		var owner, sealed string
		if err := rows.Scan(&c.ID, &owner, &c.Provider, &sealed); err != nil {
			return Credential{}, fmt.Errorf("credentials: scan: %w", err)
		}
		c.UserScoped = owner != ""
		c.Secret, err = p.cipher.Decrypt(sealed)
		if err != nil {
			return Credential{}, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return Credential{}, fmt.Errorf("credentials: iterate: %w", err)
	}

	return pick(creds, slotIndex)
}

// Store seals and persists a credential for the provider, global when userID
// is empty. slotHint orders credentials within the provider's pool; storing
// the same (owner, provider, slot) again replaces the secret rather than
// adding a row, so the slot mapping stays stable.
func (p *Pool) Store(ctx context.Context, id, userID, provider string, slotHint int, secret string) error {
	if secret == "" {
		return fmt.Errorf("credentials: secret is required")
	}
	sealed, err := p.cipher.Encrypt(secret)
	if err != nil {
		return err
	}
	if userID == "" {
		_, err = p.sql.Exec(ctx, sqlinline.QUpsertGlobalProviderCredential, id, provider, slotHint, sealed)
	} else {
		_, err = p.sql.Exec(ctx, sqlinline.QUpsertUserProviderCredential, id, userID, provider, slotHint, sealed)
	}
	return err
}

// pick maps a slot index onto the credential list. The query orders
// user-scoped credentials first, so when a user brought their own keys those
// fill the slots before any global key is reused.
func pick(creds []Credential, slotIndex int) (Credential, error) {
	if len(creds) == 0 {
		return Credential{}, domain.ErrNoCredential
	}
	if slotIndex < 0 {
		slotIndex = 0
	}
	return creds[slotIndex%len(creds)], nil
}
