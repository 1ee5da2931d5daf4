package acme

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxDomainsPerOrder bounds the SAN list of a single order.
const MaxDomainsPerOrder = 100

var domainRegexp = regexp.MustCompile(
	`^(\*\.)?([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`)

// ValidateDomains checks a requested domain list before any CA traffic.
// Each entry must be a DNS name of dot-separated labels, at most 253
// characters, with at most one leading wildcard label.
func ValidateDomains(domains []string) error {
	if len(domains) == 0 {
		return newError(KindInvalidDomain, "domain list is empty", nil).
			withSuggestion("provide at least one domain")
	}
	if len(domains) > MaxDomainsPerOrder {
		return newError(KindInvalidDomain,
			fmt.Sprintf("domain list has %d entries, maximum is %d", len(domains), MaxDomainsPerOrder), nil).
			withDetail("count", len(domains)).
			withSuggestion("split the request into multiple certificates")
	}
	for _, d := range domains {
		if err := validateDomain(d); err != nil {
			return err
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if len(domain) > 253 {
		return newError(KindInvalidDomain, "domain exceeds 253 characters", nil).
			withDetail("domain", domain)
	}
	if strings.Count(domain, "*") > 1 || (strings.Contains(domain, "*") && !strings.HasPrefix(domain, "*.")) {
		return newError(KindInvalidDomain, "wildcard is only allowed as the leading label", nil).
			withDetail("domain", domain)
	}
	if !domainRegexp.MatchString(domain) {
		return newError(KindInvalidDomain, "malformed domain name", nil).
			withDetail("domain", domain).
			withSuggestion("check DNS name syntax")
	}
	return nil
}

// IsWildcard reports whether the domain has a leading wildcard label.
func IsWildcard(domain string) bool {
	return strings.HasPrefix(domain, "*.")
}

// ChallengeDomain strips a leading wildcard label; challenges are placed on
// the base name.
func ChallengeDomain(domain string) string {
	return strings.TrimPrefix(domain, "*.")
}
