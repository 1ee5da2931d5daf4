package dnsprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider manages TXT records on one external DNS API.
type Provider interface {
	Name() string
	AddTXT(ctx context.Context, fqdn, value string) error
	DeleteTXT(ctx context.Context, fqdn, value string) error
}

// Registry tries providers in configured order and verifies propagation
// before declaring success. The ACME client only ever talks to the
// registry, never to a concrete provider.
type Registry struct {
	providers []Provider
	verifier  *Verifier
	logger    zerolog.Logger
}

func NewRegistry(providers []Provider, verifier *Verifier, logger zerolog.Logger) *Registry {
	return &Registry{
		providers: providers,
		verifier:  verifier,
		logger:    logger.With().Str("component", "dnsprovider").Logger(),
	}
}

// Providers returns the names of the registered providers in order.
func (r *Registry) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// AddACMEChallenge installs the DNS-01 TXT record at
// _acme-challenge.<domain>, falling back to the next provider when a
// provider fails or the record never propagates.
func (r *Registry) AddACMEChallenge(ctx context.Context, domain, value string) error {
	if len(r.providers) == 0 {
		return fmt.Errorf("no DNS providers configured; add TXT record %q = %q manually", challengeFQDN(domain), value)
	}

	fqdn := challengeFQDN(domain)
	var lastErr error
	for _, p := range r.providers {
		start := time.Now()
		if err := p.AddTXT(ctx, fqdn, value); err != nil {
			r.logger.Warn().Str("provider", p.Name()).Str("domain", domain).Err(err).
				Msg("provider failed to add TXT record, trying next")
			lastErr = err
			continue
		}

		if err := r.verifier.VerifyTXT(ctx, fqdn, value); err != nil {
			r.logger.Warn().Str("provider", p.Name()).Str("domain", domain).Err(err).
				Msg("TXT record did not propagate, trying next provider")
			_ = p.DeleteTXT(ctx, fqdn, value)
			lastErr = err
			continue
		}

		r.logger.Info().Str("provider", p.Name()).Str("domain", domain).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("DNS-01 challenge record installed and verified")
		return nil
	}

	return fmt.Errorf("all DNS providers failed for %s (add TXT %q = %q manually): %w", domain, fqdn, value, lastErr)
}

// RemoveACMEChallenge deletes the challenge record from every provider.
// Best effort and idempotent; always invoked on challenge completion.
func (r *Registry) RemoveACMEChallenge(ctx context.Context, domain, value string) error {
	fqdn := challengeFQDN(domain)
	for _, p := range r.providers {
		if err := p.DeleteTXT(ctx, fqdn, value); err != nil {
			r.logger.Debug().Str("provider", p.Name()).Str("domain", domain).Err(err).
				Msg("cleanup of TXT record failed")
		}
	}
	return nil
}

func challengeFQDN(domain string) string {
	return "_acme-challenge." + strings.TrimPrefix(domain, "*.")
}

// zoneCandidates lists possible registered zones for a name, longest first.
// _acme-challenge.a.example.com yields a.example.com then example.com.
func zoneCandidates(fqdn string) []string {
	labels := strings.Split(strings.TrimSuffix(fqdn, "."), ".")
	var out []string
	for i := 1; i <= len(labels)-2; i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	return out
}

// splitRecord separates the record host from its zone, e.g.
// ("_acme-challenge.www", "example.com").
func splitRecord(fqdn, zone string) string {
	host := strings.TrimSuffix(strings.TrimSuffix(fqdn, zone), ".")
	if host == "" {
		host = "@"
	}
	return host
}
