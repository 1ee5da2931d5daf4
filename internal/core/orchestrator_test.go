package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certfleet/internal/acme"
	"github.com/edvin/certfleet/internal/model"
)

func testOrchestrator(st *fakeStore, issuers map[string]*fakeIssuer, fallback []string) *Orchestrator {
	engine, _ := testEngine(st)
	o := NewOrchestrator(st, staticIssuers(issuers), fallback, 30, engine, zerolog.Nop())
	o.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func seedUser(st *fakeStore, id string, admin bool) {
	st.users[id] = &model.User{ID: id, Email: id + "@example.com", IsAdmin: admin}
}

func seedCert(st *fakeStore, id, domain, owner string, notAfter time.Time) *model.Certificate {
	na := notAfter
	c := &model.Certificate{
		ID:                id,
		Domains:           []string{domain},
		Type:              model.CertTypeSingle,
		CAType:            model.CALetsEncrypt,
		ValidationMethod:  model.ValidationHTTP01,
		Status:            model.CertStatusValid,
		NotAfter:          &na,
		OwnerUserID:       owner,
		AutoRenew:         true,
		RenewalDaysBefore: 30,
		RenewalStatus:     model.RenewalStatusIdle,
	}
	st.certs[id] = c
	return c
}

func TestRequestCertificate_Validation(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	o := testOrchestrator(st, nil, nil)

	cases := map[string]CertificateRequest{
		"empty domains": {CAType: model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01},
		"unknown CA": {Domains: []string{"example.com"},
			CAType: "sectigo", ValidationMethod: model.ValidationHTTP01},
		"bad validation method": {Domains: []string{"example.com"},
			CAType: model.CALetsEncrypt, ValidationMethod: "tls-alpn-01"},
		"malformed domain": {Domains: []string{"not a domain"},
			CAType: model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01},
	}
	for name, req := range cases {
		_, err := o.RequestCertificate(context.Background(), "user-1", req)
		assert.ErrorIs(t, err, ErrInvalid, name)
	}
}

func TestRequestCertificate_DomainListBounds(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	mk := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("host%d.example.com", i)
		}
		return out
	}
	notAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt, issued: issuedCert(mk(100), notAfter)},
	}
	o := testOrchestrator(st, issuers, nil)

	_, err := o.RequestCertificate(context.Background(), "user-1", CertificateRequest{
		Domains: mk(100), CAType: model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	assert.NoError(t, err)

	_, err = o.RequestCertificate(context.Background(), "user-2", CertificateRequest{
		Domains: mk(101), CAType: model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

// The configured default renewal window lands on new certificates.
func TestRequestCertificate_ConfiguredRenewalWindow(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	notAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt, issued: issuedCert([]string{"example.com"}, notAfter)},
	}
	engine, _ := testEngine(st)
	o := NewOrchestrator(st, staticIssuers(issuers), nil, 15, engine, zerolog.Nop())

	cert, err := o.RequestCertificate(context.Background(), "user-1", CertificateRequest{
		Domains: []string{"example.com"},
		CAType:  model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, cert.RenewalDaysBefore)

	// Out-of-range configuration falls back to 30 days.
	o = NewOrchestrator(st, staticIssuers(issuers), nil, 0, engine, zerolog.Nop())
	assert.Equal(t, 30, o.renewalDaysBefore)
}

func TestRequestCertificate_UnknownUser(t *testing.T) {
	st := newFakeStore()
	o := testOrchestrator(st, nil, nil)

	_, err := o.RequestCertificate(context.Background(), "ghost", CertificateRequest{
		Domains: []string{"example.com"}, CAType: model.CALetsEncrypt,
		ValidationMethod: model.ValidationHTTP01,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestCertificate_ForeignServerForbidden(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	st.servers["srv-1"] = &model.Server{ID: "srv-1", Name: "web-1", OwnerUserID: "user-2"}
	o := testOrchestrator(st, nil, nil)

	_, err := o.RequestCertificate(context.Background(), "user-1", CertificateRequest{
		Domains: []string{"example.com"}, ServerID: "srv-1",
		CAType: model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequestCertificate_AdminMayUseAnyServer(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "admin", true)
	st.servers["srv-1"] = &model.Server{ID: "srv-1", Name: "web-1", OwnerUserID: "user-2"}
	notAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt, issued: issuedCert([]string{"example.com"}, notAfter)},
	}
	o := testOrchestrator(st, issuers, nil)

	cert, err := o.RequestCertificate(context.Background(), "admin", CertificateRequest{
		Domains: []string{"example.com"}, ServerID: "srv-1",
		CAType: model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01, AutoRenew: true,
	})
	require.NoError(t, err)
	require.NotNil(t, cert.ServerID)
	assert.Equal(t, "srv-1", *cert.ServerID)
	assert.Equal(t, model.CertStatusValid, cert.Status)
	assert.Equal(t, notAfter, *cert.NotAfter)
}

func TestRequestCertificate_DuplicateDomainRejected(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	seedCert(st, "cert-1", "example.com", "user-1", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	o := testOrchestrator(st, nil, nil)

	_, err := o.RequestCertificate(context.Background(), "user-1", CertificateRequest{
		Domains: []string{"example.com"},
		CAType:  model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRequestCertificate_FallbackOnRateLimit(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	notAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			err: &acme.Error{Kind: acme.KindRateLimit, Message: "too many certificates"}},
		model.CAZeroSSL: {caType: model.CAZeroSSL, issued: issuedCert([]string{"example.com"}, notAfter)},
	}
	o := testOrchestrator(st, issuers, []string{model.CAZeroSSL})

	cert, err := o.RequestCertificate(context.Background(), "user-1", CertificateRequest{
		Domains: []string{"example.com"},
		CAType:  model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CAZeroSSL, cert.CAType, "the issuing CA is recorded")
	assert.Equal(t, 1, issuers[model.CALetsEncrypt].calls)
	assert.Equal(t, 1, issuers[model.CAZeroSSL].calls)
}

// A challenge failure is not retryable; the fallback CA must not be tried.
func TestRequestCertificate_NoFallbackOnChallengeFailure(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			err: &acme.Error{Kind: acme.KindChallengeFailed, Message: "http-01 failed"}},
		model.CAZeroSSL: {caType: model.CAZeroSSL},
	}
	o := testOrchestrator(st, issuers, []string{model.CAZeroSSL})

	_, err := o.RequestCertificate(context.Background(), "user-1", CertificateRequest{
		Domains: []string{"example.com"},
		CAType:  model.CALetsEncrypt, ValidationMethod: model.ValidationHTTP01,
	})
	require.Error(t, err)
	assert.True(t, acme.IsKind(err, acme.KindChallengeFailed))
	assert.Equal(t, 0, issuers[model.CAZeroSSL].calls)
}

func TestRenewCertificate_OutsideWindowNoop(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	// 60 days out with a 30 day window: nothing to do.
	seedCert(st, "cert-1", "example.com", "user-1", time.Date(2026, 4, 30, 12, 0, 0, 0, time.UTC))
	issuers := map[string]*fakeIssuer{model.CALetsEncrypt: {caType: model.CALetsEncrypt}}
	o := testOrchestrator(st, issuers, nil)

	res, err := o.RenewCertificate(context.Background(), "cert-1", "user-1")
	require.NoError(t, err)
	assert.False(t, res.Renewed)
	assert.Equal(t, 0, issuers[model.CALetsEncrypt].calls)
}

// One second inside the window the renewal must run.
func TestRenewCertificate_WindowBoundary(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	outside := seedCert(st, "cert-out", "outside.example.com", "user-1",
		now.Add(30*24*time.Hour+time.Second))
	inside := seedCert(st, "cert-in", "inside.example.com", "user-1",
		now.Add(30*24*time.Hour-time.Second))

	newNotAfter := now.Add(90 * 24 * time.Hour)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			issued: issuedCert([]string{"inside.example.com"}, newNotAfter)},
	}
	o := testOrchestrator(st, issuers, nil)
	o.now = func() time.Time { return now }

	res, err := o.RenewCertificate(context.Background(), outside.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, res.Renewed)

	res, err = o.RenewCertificate(context.Background(), inside.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, res.Renewed)
	assert.Equal(t, newNotAfter, *res.Certificate.NotAfter)

	stored, _ := st.GetCertificate(context.Background(), inside.ID)
	assert.Equal(t, model.RenewalStatusCompleted, stored.RenewalStatus)
	require.NotNil(t, stored.LastRenewalAttempt)
}

func TestRenewCertificate_InProgressConflict(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	cert := seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	cert.RenewalStatus = model.RenewalStatusInProgress
	o := testOrchestrator(st, map[string]*fakeIssuer{model.CALetsEncrypt: {}}, nil)

	_, err := o.RenewCertificate(context.Background(), "cert-1", "user-1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRenewCertificate_FailureEmitsAlert(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertRenewalFailed,
		Severity:             model.SeverityHigh,
		Enabled:              true,
		NotificationTemplate: "renewal of {{.Domain}} failed",
		CooldownMinutes:      60,
	}}
	seedUser(st, "user-1", false)
	seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			err: &acme.Error{Kind: acme.KindOrderFailed, Message: "order invalid"}},
	}
	o := testOrchestrator(st, issuers, nil)

	_, err := o.RenewCertificate(context.Background(), "cert-1", "user-1")
	require.Error(t, err)

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusFailed, stored.RenewalStatus)
	assert.NotNil(t, st.activeAlert(model.AlertKey{
		CertificateID: "cert-1", AlertType: model.AlertRenewalFailed,
	}))
}

func TestRenewCertificate_MissingExpiryInvalid(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	cert := seedCert(st, "cert-1", "example.com", "user-1", time.Now())
	cert.NotAfter = nil
	o := testOrchestrator(st, nil, nil)

	_, err := o.RenewCertificate(context.Background(), "cert-1", "user-1")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRevokeCertificate_AlreadyRevoked(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	cert := seedCert(st, "cert-1", "example.com", "user-1", time.Now())
	cert.Status = model.CertStatusRevoked
	o := testOrchestrator(st, nil, nil)

	err := o.RevokeCertificate(context.Background(), "cert-1", "user-1", 0)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRevokeCertificate_OK(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	seedCert(st, "cert-1", "example.com", "user-1", time.Now())
	issuers := map[string]*fakeIssuer{model.CALetsEncrypt: {caType: model.CALetsEncrypt}}
	o := testOrchestrator(st, issuers, nil)

	require.NoError(t, o.RevokeCertificate(context.Background(), "cert-1", "user-1", 4))
	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.CertStatusRevoked, stored.Status)
	assert.Equal(t, 1, issuers[model.CALetsEncrypt].calls)
}

func TestRenewCertificate_OwnershipEnforced(t *testing.T) {
	st := newFakeStore()
	seedUser(st, "user-1", false)
	seedUser(st, "intruder", false)
	seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	o := testOrchestrator(st, nil, nil)

	_, err := o.RenewCertificate(context.Background(), "cert-1", "intruder")
	assert.ErrorIs(t, err, ErrForbidden)
}
