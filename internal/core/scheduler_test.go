package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certfleet/internal/acme"
	"github.com/edvin/certfleet/internal/model"
)

// fakeDeployer records deploy calls.
type fakeDeployer struct {
	err   error
	calls int
}

func (f *fakeDeployer) Deploy(_ context.Context, cert *model.Certificate, server *model.Server) (*model.Deployment, error) {
	f.calls++
	status := model.DeploymentSuccess
	var msg *string
	if f.err != nil {
		status = model.DeploymentFailed
		m := f.err.Error()
		msg = &m
	}
	return &model.Deployment{
		ID:            model.NewID(),
		CertificateID: cert.ID,
		ServerID:      &server.ID,
		DeployType:    server.DeployType,
		Status:        status,
		ErrorMessage:  msg,
		CreatedAt:     time.Now(),
	}, f.err
}

func testScheduler(st *fakeStore, issuers map[string]*fakeIssuer, deployer Deployer) *RenewalScheduler {
	engine, _ := testEngine(st)
	o := NewOrchestrator(st, staticIssuers(issuers), nil, 30, engine, zerolog.Nop())
	s := NewRenewalScheduler(st, o, deployer, engine, zerolog.Nop())
	s.retryBase = time.Millisecond
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }
	s.now = func() time.Time { return now }
	return s
}

func TestSweep_RenewsDueCertificate(t *testing.T) {
	st := newFakeStore()
	seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	newNotAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			issued: issuedCert([]string{"example.com"}, newNotAfter)},
	}
	s := testScheduler(st, issuers, nil)

	s.Sweep(context.Background())

	stored, err := st.GetCertificate(context.Background(), "cert-1")
	require.NoError(t, err)
	assert.Equal(t, model.RenewalStatusCompleted, stored.RenewalStatus)
	assert.Equal(t, newNotAfter, *stored.NotAfter)
	require.NotNil(t, stored.LastRenewalAttempt)
}

func TestSweep_SkipsInProgress(t *testing.T) {
	st := newFakeStore()
	cert := seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	cert.RenewalStatus = model.RenewalStatusInProgress
	issuers := map[string]*fakeIssuer{model.CALetsEncrypt: {caType: model.CALetsEncrypt}}
	s := testScheduler(st, issuers, nil)

	s.Sweep(context.Background())
	assert.Equal(t, 0, issuers[model.CALetsEncrypt].calls)

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusInProgress, stored.RenewalStatus)
}

// A failed prior attempt does not fence off the next sweep.
func TestSweep_ReclaimsFailedStatus(t *testing.T) {
	st := newFakeStore()
	cert := seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	cert.RenewalStatus = model.RenewalStatusFailed
	newNotAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			issued: issuedCert([]string{"example.com"}, newNotAfter)},
	}
	s := testScheduler(st, issuers, nil)

	s.Sweep(context.Background())

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusCompleted, stored.RenewalStatus)
}

func TestSweep_DeploysToBoundServer(t *testing.T) {
	st := newFakeStore()
	st.servers["srv-1"] = &model.Server{
		ID: "srv-1", Name: "web-1", OwnerUserID: "user-1",
		DeployType: model.DeployTypeNginx, DeployTarget: "/etc/nginx/ssl",
	}
	cert := seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	serverID := "srv-1"
	cert.ServerID = &serverID

	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			issued: issuedCert([]string{"example.com"}, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))},
	}
	deployer := &fakeDeployer{}
	s := testScheduler(st, issuers, deployer)

	s.Sweep(context.Background())

	assert.Equal(t, 1, deployer.calls)
	require.Len(t, st.deployments, 1)
	assert.Equal(t, model.DeploymentSuccess, st.deployments[0].Status)
}

// Deployment failure leaves the renewal completed and raises an alert.
func TestSweep_DeploymentFailureKeepsRenewal(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertDeploymentFailed,
		Severity:             model.SeverityHigh,
		Enabled:              true,
		NotificationTemplate: "deploy of {{.Domain}} to {{.ServerName}} failed",
		CooldownMinutes:      60,
	}}
	st.servers["srv-1"] = &model.Server{
		ID: "srv-1", Name: "web-1", OwnerUserID: "user-1", DeployType: model.DeployTypeNginx,
	}
	cert := seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	serverID := "srv-1"
	cert.ServerID = &serverID

	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			issued: issuedCert([]string{"example.com"}, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))},
	}
	deployer := &fakeDeployer{err: assert.AnError}
	s := testScheduler(st, issuers, deployer)

	s.Sweep(context.Background())

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusCompleted, stored.RenewalStatus)
	require.Len(t, st.deployments, 1)
	assert.Equal(t, model.DeploymentFailed, st.deployments[0].Status)
	assert.NotNil(t, st.activeAlert(model.AlertKey{
		CertificateID: "cert-1", AlertType: model.AlertDeploymentFailed, Qualifier: "srv-1",
	}))
}

// A flaky CA connection is retried with backoff before giving up.
func TestSweep_RetriesTransientNetworkFailure(t *testing.T) {
	st := newFakeStore()
	seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	newNotAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			issued:   issuedCert([]string{"example.com"}, newNotAfter),
			err:      &acme.Error{Kind: acme.KindNetworkError, Message: "connection reset"},
			errCount: 2},
	}
	s := testScheduler(st, issuers, nil)

	s.Sweep(context.Background())

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusCompleted, stored.RenewalStatus)
	assert.Equal(t, newNotAfter, *stored.NotAfter)
	assert.Equal(t, 3, issuers[model.CALetsEncrypt].calls)
}

// Three network failures in a row exhaust the retry budget.
func TestSweep_TransientFailureBudgetExhausted(t *testing.T) {
	st := newFakeStore()
	seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			err: &acme.Error{Kind: acme.KindTimeout, Message: "directory fetch timed out"}},
	}
	s := testScheduler(st, issuers, nil)

	s.Sweep(context.Background())

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusFailed, stored.RenewalStatus)
	assert.Equal(t, 3, issuers[model.CALetsEncrypt].calls)
}

func TestSweep_FailureRecordsStatusAndAlert(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertRenewalFailed,
		Severity:             model.SeverityHigh,
		Enabled:              true,
		NotificationTemplate: "renewal of {{.Domain}} failed: {{.Error}}",
		CooldownMinutes:      60,
	}}
	seedCert(st, "cert-1", "example.com", "user-1",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	issuers := map[string]*fakeIssuer{
		model.CALetsEncrypt: {caType: model.CALetsEncrypt,
			err: &acme.Error{Kind: acme.KindChallengeFailed, Message: "http-01 failed"}},
	}
	s := testScheduler(st, issuers, nil)

	s.Sweep(context.Background())

	stored, _ := st.GetCertificate(context.Background(), "cert-1")
	assert.Equal(t, model.RenewalStatusFailed, stored.RenewalStatus)
	require.NotNil(t, stored.LastRenewalAttempt)
	assert.NotNil(t, st.activeAlert(model.AlertKey{
		CertificateID: "cert-1", AlertType: model.AlertRenewalFailed,
	}))
	// Non-retryable failures burn exactly one attempt.
	assert.Equal(t, 1, issuers[model.CALetsEncrypt].calls)
}
