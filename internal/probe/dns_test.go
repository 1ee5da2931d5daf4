package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certfleet/internal/model"
)

// testResolver runs a local DNS server answering A queries for
// probe-test.example.com.
func testResolver(t *testing.T) string {
	t.Helper()

	mux := dns.NewServeMux()
	mux.HandleFunc("probe-test.example.com.", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if req.Question[0].Qtype == dns.TypeA {
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{
					Name: req.Question[0].Name, Rrtype: dns.TypeA,
					Class: dns.ClassINET, Ttl: 60,
				},
				A: net.ParseIP("192.0.2.10"),
			})
		}
		_ = w.WriteMsg(resp)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(resp)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestProbeDNS_Resolved(t *testing.T) {
	resolver := testResolver(t)
	p := New([]string{resolver}, zerolog.Nop())
	p.dnsTimeout = 2 * time.Second

	result := p.ProbeDNS(context.Background(), "probe-test.example.com")
	require.Equal(t, "resolved", result.Status)
	assert.Equal(t, resolver, result.Resolver)
	assert.Contains(t, result.A, "192.0.2.10")

	obs := result.Observation(nil)
	assert.Equal(t, model.CheckTypeDNS, obs.CheckType)
	assert.Equal(t, model.ObservationOK, obs.Status)
}

func TestProbeDNS_NXDomain(t *testing.T) {
	resolver := testResolver(t)
	p := New([]string{resolver}, zerolog.Nop())
	p.dnsTimeout = 2 * time.Second

	result := p.ProbeDNS(context.Background(), "missing.invalid")
	assert.Equal(t, "failed", result.Status)
	assert.NotEmpty(t, result.Error)

	obs := result.Observation(nil)
	assert.Equal(t, model.ObservationFailed, obs.Status)
	require.NotNil(t, obs.ErrorMessage)
}

// The first answering resolver wins; a dead resolver ahead of a live one
// must not fail the probe.
func TestProbeDNS_ResolverFallback(t *testing.T) {
	live := testResolver(t)
	p := New([]string{"127.0.0.1:1", live}, zerolog.Nop())
	p.dnsTimeout = 500 * time.Millisecond

	result := p.ProbeDNS(context.Background(), "probe-test.example.com")
	require.Equal(t, "resolved", result.Status)
	assert.Equal(t, live, result.Resolver)
}
