package acme

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/acme"
)

const accountKeyBits = 2048

// accountKeyPath is stable per CA so the same account is reused across
// restarts.
func (c *Client) accountKeyPath() string {
	return filepath.Join(c.storagePath, "accounts", c.caType, "account.key")
}

// loadOrCreateAccountKey returns the per-CA account key, generating and
// persisting a fresh RSA key on first use.
func (c *Client) loadOrCreateAccountKey() (*rsa.PrivateKey, error) {
	path := c.accountKeyPath()

	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, newError(KindAccountError, "account key file is not PEM", nil).
				withDetail("path", path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, newError(KindAccountError, "parse account key", err).withDetail("path", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, newError(KindAccountError, "read account key", err).withDetail("path", path)
	}

	key, err := rsa.GenerateKey(rand.Reader, accountKeyBits)
	if err != nil {
		return nil, newError(KindAccountError, "generate account key", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, newError(KindAccountError, "create account dir", err).withDetail("path", path)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, keyPEM, 0600); err != nil {
		return nil, newError(KindAccountError, "write account key", err).withDetail("path", path)
	}

	c.logger.Info().Str("ca", c.caType).Str("path", path).Msg("generated new ACME account key")
	return key, nil
}

// ensureAccount registers the account with the CA or looks it up by the
// existing key. A rate-limit reply surfaces as an AccountError; it is not
// retried locally.
func (c *Client) ensureAccount(ctx context.Context, client *acme.Client) error {
	acct := &acme.Account{Contact: []string{"mailto:" + c.email}}
	_, err := client.Register(ctx, acct, acme.AcceptTOS)
	if err == nil || errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil
	}

	var ae *acme.Error
	if errors.As(err, &ae) && isRateLimited(ae) {
		return newError(KindAccountError, "CA rate-limited account registration", err).
			withDetail("directory_url", c.directoryURL).
			withDetail("rate_limited", true).
			withSuggestion("wait and retry")
	}
	return newError(KindAccountError, "register ACME account", err).
		withDetail("directory_url", c.directoryURL)
}

func isRateLimited(ae *acme.Error) bool {
	return strings.Contains(ae.ProblemType, "rateLimited") ||
		strings.Contains(strings.ToLower(ae.Detail), "rate limit")
}

func retryAfterSeconds(ae *acme.Error) int {
	if ae.Header == nil {
		return 0
	}
	var secs int
	fmt.Sscanf(ae.Header.Get("Retry-After"), "%d", &secs)
	return secs
}
