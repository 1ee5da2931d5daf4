package probe

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/edvin/certfleet/internal/model"
)

// DNSResult is the details document of a dns observation.
type DNSResult struct {
	Status         string   `json:"status"` // resolved or failed
	Resolver       string   `json:"resolver,omitempty"`
	A              []string `json:"a,omitempty"`
	AAAA           []string `json:"aaaa,omitempty"`
	CNAME          string   `json:"cname,omitempty"`
	ResponseTimeMS int64    `json:"response_time_ms"`
	Error          string   `json:"error,omitempty"`
}

// ProbeDNS resolves A, AAAA and CNAME records for the domain, trying
// resolvers in sequence and recording the first that answers. The probe is
// resolved iff any record type yielded results.
func (p *Prober) ProbeDNS(ctx context.Context, domain string) DNSResult {
	start := time.Now()
	result := DNSResult{Status: "failed"}

	for _, resolver := range p.resolvers {
		a := p.queryRecords(ctx, resolver, domain, dns.TypeA)
		aaaa := p.queryRecords(ctx, resolver, domain, dns.TypeAAAA)
		cname := p.queryRecords(ctx, resolver, domain, dns.TypeCNAME)

		if len(a) > 0 || len(aaaa) > 0 || len(cname) > 0 {
			result.Status = "resolved"
			result.Resolver = resolver
			result.A = a
			result.AAAA = aaaa
			if len(cname) > 0 {
				result.CNAME = cname[0]
			}
			break
		}
	}

	result.ResponseTimeMS = time.Since(start).Milliseconds()
	if result.Status == "failed" {
		result.Error = "no A, AAAA or CNAME records found"
	}
	return result
}

func (p *Prober) queryRecords(ctx context.Context, resolver, domain string, qtype uint16) []string {
	c := &dns.Client{Timeout: p.dnsTimeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	resp, _, err := c.ExchangeContext(ctx, m, resolver)
	if err != nil || resp.Rcode != dns.RcodeSuccess {
		return nil
	}

	var out []string
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				out = append(out, rr.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				out = append(out, rr.AAAA.String())
			}
		case *dns.CNAME:
			if qtype == dns.TypeCNAME {
				out = append(out, rr.Target)
			}
		}
	}
	return out
}

// Observation converts the result to an observation row.
func (r DNSResult) Observation(certID *string) model.ProbeObservation {
	status := model.ObservationOK
	if r.Status != "resolved" {
		status = model.ObservationFailed
	}
	return observation(certID, model.CheckTypeDNS, status, r.ResponseTimeMS, r, r.Error)
}
