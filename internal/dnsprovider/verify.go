package dnsprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

const (
	defaultVerifyDeadline = 300 * time.Second
	defaultVerifyInterval = 10 * time.Second
	queryTimeout          = 5 * time.Second
)

// Verifier confirms TXT propagation by querying the configured public
// resolvers directly, bypassing local caches.
type Verifier struct {
	resolvers []string // host:port
	deadline  time.Duration
	interval  time.Duration
	logger    zerolog.Logger
}

func NewVerifier(resolvers []string, logger zerolog.Logger) *Verifier {
	return &Verifier{
		resolvers: resolvers,
		deadline:  defaultVerifyDeadline,
		interval:  defaultVerifyInterval,
		logger:    logger.With().Str("component", "dnsverify").Logger(),
	}
}

// VerifyTXT polls until at least one resolver returns the expected value.
func (v *Verifier) VerifyTXT(ctx context.Context, fqdn, expected string) error {
	ctx, cancel := context.WithTimeout(ctx, v.deadline)
	defer cancel()

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		for _, resolver := range v.resolvers {
			values, err := v.queryTXT(ctx, resolver, fqdn)
			if err != nil {
				v.logger.Debug().Str("resolver", resolver).Str("fqdn", fqdn).Err(err).Msg("TXT query failed")
				continue
			}
			for _, val := range values {
				if val == expected {
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("TXT record %s did not propagate within %s", fqdn, v.deadline)
		case <-ticker.C:
		}
	}
}

func (v *Verifier) queryTXT(ctx context.Context, resolver, fqdn string) ([]string, error) {
	c := &dns.Client{Timeout: queryTimeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	m.RecursionDesired = true

	resp, _, err := c.ExchangeContext(ctx, m, resolver)
	if err != nil {
		return nil, fmt.Errorf("query %s against %s: %w", fqdn, resolver, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("query %s against %s: rcode %s", fqdn, resolver, dns.RcodeToString[resp.Rcode])
	}

	var values []string
	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			for _, s := range txt.Txt {
				values = append(values, s)
			}
		}
	}
	return values, nil
}
