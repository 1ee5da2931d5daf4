package acme

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
)

const (
	leafKeyBits = 2048

	defaultPollInterval = 5 * time.Second
	defaultPollDeadline = 300 * time.Second
	acmeHTTPTimeout     = 30 * time.Second
)

// DNSSolver installs and removes DNS-01 TXT records. The registry in
// internal/dnsprovider implements it.
type DNSSolver interface {
	AddACMEChallenge(ctx context.Context, domain, value string) error
	RemoveACMEChallenge(ctx context.Context, domain, value string) error
}

// Client drives the ACME v2 dialogue against one CA endpoint with one
// account key.
type Client struct {
	caType       string
	directoryURL string
	email        string
	storagePath  string
	dns          DNSSolver
	logger       zerolog.Logger

	pollInterval time.Duration
	pollDeadline time.Duration
}

// NewClient creates a client for the given CA. dns may be nil when DNS-01
// is not configured.
func NewClient(caType, email, storagePath string, staging bool, dns DNSSolver, logger zerolog.Logger) (*Client, error) {
	dirURL, err := DirectoryURL(caType, staging)
	if err != nil {
		return nil, newError(KindClientError, "resolve directory URL", err).withDetail("ca", caType)
	}
	return &Client{
		caType:       caType,
		directoryURL: dirURL,
		email:        email,
		storagePath:  storagePath,
		dns:          dns,
		logger:       logger.With().Str("component", "acme").Str("ca", caType).Logger(),
		pollInterval: defaultPollInterval,
		pollDeadline: defaultPollDeadline,
	}, nil
}

// CAType returns the CA this client talks to.
func (c *Client) CAType() string { return c.caType }

func (c *Client) acmeClient(key *rsa.PrivateKey) *acme.Client {
	return &acme.Client{
		Key:          key,
		DirectoryURL: c.directoryURL,
		HTTPClient:   &http.Client{Timeout: acmeHTTPTimeout},
	}
}

// RequestCertificate runs the full issuance flow for the given domains and
// persists the result in the per-domain certificate directory.
func (c *Client) RequestCertificate(ctx context.Context, domains []string, validationMethod string) (*IssuedCertificate, error) {
	if err := ValidateDomains(domains); err != nil {
		return nil, err
	}
	if validationMethod == "dns-01" && c.dns == nil {
		return nil, newError(KindClientError, "dns-01 requested but no DNS provider is configured", nil).
			withSuggestion("configure a DNS provider or use http-01")
	}

	start := time.Now()
	issued, err := c.issue(ctx, domains, validationMethod)
	if err != nil {
		c.logger.Error().Err(err).Str("domain", domains[0]).
			Int64("duration_ms", time.Since(start).Milliseconds()).Msg("issuance failed")
		return nil, err
	}

	if err := c.persist(issued); err != nil {
		return nil, err
	}

	c.logger.Info().Str("domain", domains[0]).Str("serial", issued.Info.SerialNumber).
		Int64("duration_ms", time.Since(start).Milliseconds()).Msg("certificate issued")
	return issued, nil
}

// RenewCertificate reissues a certificate preserving the SAN list. The new
// certificate is persisted only when it extends the previous expiry.
func (c *Client) RenewCertificate(ctx context.Context, prior CertInfo, validationMethod string) (*IssuedCertificate, error) {
	if prior.NotAfter.IsZero() {
		return nil, newError(KindClientError, "certificate has no expiry recorded", nil).
			withSuggestion("reimport the certificate")
	}
	if err := ValidateDomains(prior.Domains); err != nil {
		return nil, err
	}

	issued, err := c.issue(ctx, prior.Domains, validationMethod)
	if err != nil {
		return nil, err
	}
	if !issued.Info.NotAfter.After(prior.NotAfter) {
		return nil, newError(KindOrderFailed, "renewed certificate does not extend expiry", nil).
			withDetail("prior_not_after", prior.NotAfter).
			withDetail("new_not_after", issued.Info.NotAfter)
	}
	if err := c.persist(issued); err != nil {
		return nil, err
	}
	return issued, nil
}

func (c *Client) issue(ctx context.Context, domains []string, validationMethod string) (*IssuedCertificate, error) {
	accountKey, err := c.loadOrCreateAccountKey()
	if err != nil {
		return nil, err
	}
	client := c.acmeClient(accountKey)

	if err := c.ensureAccount(ctx, client); err != nil {
		return nil, err
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, newError(KindClientError, "generate certificate key", err)
	}

	csr, err := buildCSR(domains, leafKey)
	if err != nil {
		return nil, err
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domains...))
	if err != nil {
		return nil, c.wrapCAError("new order", err, domains[0])
	}

	var cleanups []func()
	defer func() {
		for _, fn := range cleanups {
			fn()
		}
	}()

	for _, authzURL := range order.AuthzURLs {
		cleanup, err := c.solveAuthorization(ctx, client, authzURL, validationMethod)
		if cleanup != nil {
			cleanups = append(cleanups, cleanup)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := c.waitOrderReady(ctx, client, order.URI); err != nil {
		return nil, err
	}

	chainDER, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, c.wrapCAError("finalize order", err, domains[0])
	}

	return newIssuedCertificate(chainDER, leafKey, domains)
}

// solveAuthorization installs the matching challenge, accepts it, and polls
// until the authorization is valid. The returned cleanup runs regardless of
// outcome.
func (c *Client) solveAuthorization(ctx context.Context, client *acme.Client, authzURL, validationMethod string) (func(), error) {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return nil, c.wrapCAError("get authorization", err, "")
	}
	domain := authz.Identifier.Value
	if authz.Status == acme.StatusValid {
		return nil, nil
	}

	var challenge *acme.Challenge
	for _, ch := range authz.Challenges {
		if ch.Type == validationMethod {
			challenge = ch
			break
		}
	}
	if challenge == nil {
		return nil, newError(KindChallengeFailed,
			fmt.Sprintf("CA offered no %s challenge for %s", validationMethod, domain), nil).
			withDetail("domain", domain)
	}

	var cleanup func()
	switch validationMethod {
	case "http-01":
		keyAuth, err := client.HTTP01ChallengeResponse(challenge.Token)
		if err != nil {
			return nil, newError(KindClientError, "compute key authorization", err)
		}
		if err := c.writeHTTPChallenge(challenge.Token, keyAuth, domain); err != nil {
			return nil, err
		}
		token := challenge.Token
		cleanup = func() { c.removeHTTPChallenge(token, domain) }

	case "dns-01":
		value, err := client.DNS01ChallengeRecord(challenge.Token)
		if err != nil {
			return nil, newError(KindClientError, "compute DNS-01 record", err)
		}
		base := ChallengeDomain(domain)
		if err := c.dns.AddACMEChallenge(ctx, base, value); err != nil {
			return nil, newError(KindChallengeFailed, "install DNS-01 TXT record", err).
				withDetail("domain", domain).
				withSuggestion("check DNS provider configuration")
		}
		cleanup = func() {
			cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = c.dns.RemoveACMEChallenge(cctx, base, value)
		}

	default:
		return nil, newError(KindClientError, fmt.Sprintf("unsupported validation method %q", validationMethod), nil)
	}

	if _, err := client.Accept(ctx, challenge); err != nil {
		return cleanup, c.wrapCAError("accept challenge", err, domain)
	}

	if err := c.waitAuthorizationValid(ctx, client, authzURL, domain); err != nil {
		return cleanup, err
	}
	return cleanup, nil
}

// waitAuthorizationValid polls the authorization at a fixed interval until
// it is valid or invalid, bounded by the poll deadline.
func (c *Client) waitAuthorizationValid(ctx context.Context, client *acme.Client, authzURL, domain string) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollDeadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return c.wrapCAError("poll authorization", err, domain)
		}
		switch authz.Status {
		case acme.StatusValid:
			return nil
		case acme.StatusInvalid:
			detail := ""
			for _, ch := range authz.Challenges {
				if ch.Error != nil {
					detail = ch.Error.Error()
				}
			}
			return newError(KindChallengeFailed, "authorization failed", nil).
				withDetail("domain", domain).
				withDetail("ca_detail", detail).
				withSuggestion("check that the challenge is reachable from the public internet")
		}

		select {
		case <-ctx.Done():
			return newError(KindTimeout, "authorization did not complete in time", ctx.Err()).
				withDetail("domain", domain).
				withDetail("deadline_seconds", int(c.pollDeadline.Seconds()))
		case <-ticker.C:
		}
	}
}

// waitOrderReady polls the order until it is ready or valid.
func (c *Client) waitOrderReady(ctx context.Context, client *acme.Client, orderURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollDeadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		order, err := client.GetOrder(ctx, orderURL)
		if err != nil {
			return c.wrapCAError("poll order", err, "")
		}
		switch order.Status {
		case acme.StatusReady, acme.StatusValid:
			return nil
		case acme.StatusInvalid:
			return newError(KindOrderFailed, "order entered invalid state", nil).
				withDetail("order_url", orderURL)
		}

		select {
		case <-ctx.Done():
			return newError(KindTimeout, "order did not become ready in time", ctx.Err()).
				withDetail("order_url", orderURL)
		case <-ticker.C:
		}
	}
}

// RevokeCertificate revokes the leaf of the given chain with the account
// key. Reason codes follow RFC 5280 (0..10).
func (c *Client) RevokeCertificate(ctx context.Context, chainPEM string, reasonCode int) error {
	if reasonCode < 0 || reasonCode > 10 {
		return newError(KindClientError, fmt.Sprintf("revocation reason %d out of range [0,10]", reasonCode), nil)
	}
	leafDER, err := leafDERFromChain(chainPEM)
	if err != nil {
		return err
	}

	accountKey, err := c.loadOrCreateAccountKey()
	if err != nil {
		return err
	}
	client := c.acmeClient(accountKey)

	if err := client.RevokeCert(ctx, nil, leafDER, acme.CRLReasonCode(reasonCode)); err != nil {
		return c.wrapCAError("revoke certificate", err, "")
	}
	return nil
}

// buildCSR creates a CSR with CN set to the first domain and a SAN
// extension listing every domain.
func buildCSR(domains []string, key *rsa.PrivateKey) ([]byte, error) {
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}, key)
	if err != nil {
		return nil, newError(KindClientError, "create CSR", err)
	}
	return csr, nil
}

// wrapCAError maps transport and CA failures to the package error taxonomy.
func (c *Client) wrapCAError(op string, err error, domain string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, op+" timed out", err).
			withDetail("domain", domain).
			withDetail("directory_url", c.directoryURL)
	}

	var ae *acme.Error
	if errors.As(err, &ae) {
		if isRateLimited(ae) {
			e := newError(KindRateLimit, op+" rate-limited by CA", err).
				withDetail("directory_url", c.directoryURL).
				withSuggestion("wait and retry, or use a fallback CA")
			if secs := retryAfterSeconds(ae); secs > 0 {
				e = e.withDetail("retry_after_seconds", secs)
			}
			return e
		}
		if ae.StatusCode >= 500 {
			return newError(KindCAUnavailable, op+" failed, CA unavailable", err).
				withDetail("directory_url", c.directoryURL).
				withDetail("status_code", ae.StatusCode)
		}
		return newError(KindOrderFailed, op+" rejected by CA", err).
			withDetail("domain", domain).
			withDetail("directory_url", c.directoryURL).
			withDetail("problem_type", ae.ProblemType)
	}

	return newError(KindNetworkError, op+" failed", err).
		withDetail("domain", domain).
		withDetail("directory_url", c.directoryURL).
		withSuggestion("check network connectivity to the CA")
}
