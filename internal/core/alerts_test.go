package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certfleet/internal/model"
)

func testEngine(st *fakeStore, notifiers ...Notifier) (*AlertEngine, *time.Time) {
	engine := NewAlertEngine(st, notifiers, time.Hour, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	return engine, &now
}

func TestEmit_CreatesAndNotifies(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertRenewalFailed,
		Severity:             model.SeverityHigh,
		Enabled:              true,
		NotificationTemplate: "Renewal of {{.Domain}} failed: {{.Error}}",
		CooldownMinutes:      60,
	}}
	n := &fakeNotifier{name: "log"}
	engine, _ := testEngine(st, n)

	key := model.AlertKey{CertificateID: "cert-1", AlertType: model.AlertRenewalFailed}
	err := engine.Emit(context.Background(), Candidate{
		Key:   key,
		Title: "Renewal failed",
		Data:  map[string]string{"Domain": "example.com", "Error": "rate limited"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, n.count())
	assert.Equal(t, "Renewal of example.com failed: rate limited", n.last())

	alert := st.activeAlert(key)
	require.NotNil(t, alert)
	assert.Equal(t, model.SeverityHigh, alert.Severity)
	require.NotNil(t, alert.LastNotifiedAt)
}

func TestEmit_CooldownSuppressesRepeat(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertDNSFailure,
		Severity:             model.SeverityHigh,
		Enabled:              true,
		NotificationTemplate: "DNS for {{.Domain}} is failing",
		CooldownMinutes:      60,
	}}
	n := &fakeNotifier{name: "log"}
	engine, now := testEngine(st, n)

	key := model.AlertKey{CertificateID: "cert-1", AlertType: model.AlertDNSFailure}
	candidate := Candidate{Key: key, Title: "DNS failing", Data: map[string]string{"Domain": "example.com"}}

	require.NoError(t, engine.Emit(context.Background(), candidate))
	require.NoError(t, engine.Emit(context.Background(), candidate))
	assert.Equal(t, 1, n.count(), "second emit inside the cooldown must not notify")

	// last_seen still advances while suppressed.
	*now = now.Add(30 * time.Minute)
	require.NoError(t, engine.Emit(context.Background(), candidate))
	assert.Equal(t, 1, n.count())
	alert := st.activeAlert(key)
	require.NotNil(t, alert)
	assert.Equal(t, *now, alert.LastSeen)

	// Past the cooldown the same active alert notifies again.
	*now = now.Add(31 * time.Minute)
	require.NoError(t, engine.Emit(context.Background(), candidate))
	assert.Equal(t, 2, n.count())
}

func TestEmit_DisabledRuleDrops(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType: model.AlertSlowResponse,
		Enabled:   false,
	}}
	n := &fakeNotifier{name: "log"}
	engine, _ := testEngine(st, n)

	key := model.AlertKey{CertificateID: "cert-1", AlertType: model.AlertSlowResponse}
	require.NoError(t, engine.Emit(context.Background(), Candidate{Key: key, Title: "slow"}))
	assert.Equal(t, 0, n.count())
	assert.Nil(t, st.activeAlert(key))
}

func TestEmit_ProviderRouting(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:             model.AlertCertExpired,
		Severity:              model.SeverityCritical,
		Enabled:               true,
		NotificationProviders: []string{"email"},
		NotificationTemplate:  "{{.Domain}} expired",
		CooldownMinutes:       60,
	}}
	email := &fakeNotifier{name: "email"}
	webhook := &fakeNotifier{name: "webhook"}
	engine, _ := testEngine(st, email, webhook)

	err := engine.Emit(context.Background(), Candidate{
		Key:   model.AlertKey{CertificateID: "cert-1", AlertType: model.AlertCertExpired},
		Title: "expired",
		Data:  map[string]string{"Domain": "example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, email.count())
	assert.Equal(t, 0, webhook.count(), "unlisted providers must be skipped")
}

// Placeholders with no value in the data set must render empty, not error.
func TestRender_UnknownPlaceholderEmpty(t *testing.T) {
	engine, _ := testEngine(newFakeStore())
	out := engine.render(model.AlertRule{
		AlertType:            model.AlertCertExpiring7d,
		NotificationTemplate: "Cert for {{.Domain}} expires{{.Missing}} soon",
	}, Candidate{Data: map[string]string{"Domain": "example.com"}})
	assert.Equal(t, "Cert for example.com expires soon", out)
}

func TestEmit_NoTemplateSkipsDelivery(t *testing.T) {
	st := newFakeStore()
	n := &fakeNotifier{name: "log"}
	engine, _ := testEngine(st, n)

	key := model.AlertKey{AlertType: model.AlertServerOffline, Qualifier: "srv-1"}
	require.NoError(t, engine.Emit(context.Background(), Candidate{Key: key, Title: "offline"}))

	assert.Equal(t, 0, n.count())
	assert.NotNil(t, st.activeAlert(key), "alert row is still recorded")
}

func TestResolve(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertDomainUnreachable,
		Enabled:              true,
		NotificationTemplate: "{{.Domain}} down",
		CooldownMinutes:      60,
	}}
	engine, _ := testEngine(st, &fakeNotifier{name: "log"})

	key := model.AlertKey{CertificateID: "cert-1", AlertType: model.AlertDomainUnreachable}
	require.NoError(t, engine.Emit(context.Background(), Candidate{Key: key, Title: "down"}))
	require.NotNil(t, st.activeAlert(key))

	require.NoError(t, engine.Resolve(context.Background(), key))
	assert.Nil(t, st.activeAlert(key))

	// Resolving again is a no-op.
	require.NoError(t, engine.Resolve(context.Background(), key))
}

// Distinct qualifiers are distinct dedup slots.
func TestEmit_QualifierSeparatesKeys(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.AlertRule{{
		AlertType:            model.AlertOutdatedTLS,
		Enabled:              true,
		NotificationTemplate: "old TLS on port {{.Port}}",
		CooldownMinutes:      60,
	}}
	n := &fakeNotifier{name: "log"}
	engine, _ := testEngine(st, n)

	for _, port := range []string{"443", "8443"} {
		err := engine.Emit(context.Background(), Candidate{
			Key:   model.AlertKey{CertificateID: "cert-1", AlertType: model.AlertOutdatedTLS, Qualifier: port},
			Title: "outdated tls",
			Data:  map[string]string{"Port": port},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, n.count())
}
