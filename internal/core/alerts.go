package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/metrics"
	"github.com/edvin/certfleet/internal/model"
)

// Notifier delivers a rendered alert message to one channel (email,
// webhook, chat). Implementations are registered by name.
type Notifier interface {
	Name() string
	Send(ctx context.Context, severity, title, message string) error
}

// Candidate is a potential alert produced by the monitor, scheduler or
// heartbeat sweeper. The engine decides whether it becomes a notification.
type Candidate struct {
	Key   model.AlertKey
	Title string
	// Data feeds the notification template. Unknown placeholders render
	// empty.
	Data map[string]string
}

// AlertEngine turns candidates into deduplicated, cooldown-bounded,
// routed notifications.
type AlertEngine struct {
	store     Store
	notifiers []Notifier
	logger    zerolog.Logger

	// Default cooldown when a rule does not set one.
	defaultCooldown time.Duration

	mu          sync.RWMutex
	rules       map[string]model.AlertRule
	rulesLoaded time.Time
	rulesTTL    time.Duration

	now func() time.Time
}

func NewAlertEngine(store Store, notifiers []Notifier, defaultCooldown time.Duration, logger zerolog.Logger) *AlertEngine {
	return &AlertEngine{
		store:           store,
		notifiers:       notifiers,
		logger:          logger.With().Str("component", "alert-engine").Logger(),
		defaultCooldown: defaultCooldown,
		rules:           map[string]model.AlertRule{},
		rulesTTL:        5 * time.Minute,
		now:             time.Now,
	}
}

// rule returns the configured rule for an alert type, refreshing the cache
// when stale. An unknown type gets a synthetic enabled rule with defaults.
func (e *AlertEngine) rule(ctx context.Context, alertType string) model.AlertRule {
	e.mu.RLock()
	fresh := e.now().Sub(e.rulesLoaded) < e.rulesTTL
	r, ok := e.rules[alertType]
	e.mu.RUnlock()
	if fresh && ok {
		return r
	}

	if !fresh {
		if rules, err := e.store.ListAlertRules(ctx); err != nil {
			e.logger.Error().Err(err).Msg("failed to load alert rules")
		} else {
			e.mu.Lock()
			e.rules = make(map[string]model.AlertRule, len(rules))
			for _, rule := range rules {
				e.rules[rule.AlertType] = rule
			}
			e.rulesLoaded = e.now()
			r, ok = e.rules[alertType]
			e.mu.Unlock()
			if ok {
				return r
			}
		}
	}
	if ok {
		return r
	}
	return model.AlertRule{
		AlertType:       alertType,
		Severity:        model.SeverityMedium,
		Enabled:         true,
		CooldownMinutes: int(e.defaultCooldown / time.Minute),
	}
}

// Emit runs the dedup and cooldown checks for a candidate and notifies
// when they pass. Dropping a candidate is not an error.
func (e *AlertEngine) Emit(ctx context.Context, c Candidate) error {
	rule := e.rule(ctx, c.Key.AlertType)
	if !rule.Enabled {
		return nil
	}

	now := e.now()
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = e.defaultCooldown
	}

	existing, err := e.store.GetActiveAlert(ctx, c.Key)
	if err != nil && !isStoreNotFound(err) {
		return err
	}

	if existing != nil {
		if existing.LastNotifiedAt != nil && now.Sub(*existing.LastNotifiedAt) < cooldown {
			return e.store.TouchAlert(ctx, existing.ID, now, false)
		}
		if err := e.store.TouchAlert(ctx, existing.ID, now, true); err != nil {
			return err
		}
		e.notify(ctx, rule, c)
		return nil
	}

	contextJSON, _ := json.Marshal(c.Data)
	certID := (*string)(nil)
	if c.Key.CertificateID != "" {
		id := c.Key.CertificateID
		certID = &id
	}
	alert := &model.Alert{
		ID:             model.NewID(),
		CertificateID:  certID,
		Type:           c.Key.AlertType,
		Qualifier:      c.Key.Qualifier,
		Severity:       rule.Severity,
		Status:         model.AlertStatusActive,
		Title:          c.Title,
		Description:    e.render(rule, c),
		Context:        contextJSON,
		FirstSeen:      now,
		LastSeen:       now,
		LastNotifiedAt: &now,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return err
	}
	metrics.AlertsEmitted.WithLabelValues(c.Key.AlertType).Inc()
	e.notify(ctx, rule, c)
	return nil
}

// Resolve closes the active alert for a key once the condition clears.
func (e *AlertEngine) Resolve(ctx context.Context, key model.AlertKey) error {
	return e.store.ResolveAlert(ctx, key, e.now())
}

func (e *AlertEngine) notify(ctx context.Context, rule model.AlertRule, c Candidate) {
	message := e.render(rule, c)
	if message == "" {
		e.logger.Warn().
			Str("alert_type", c.Key.AlertType).
			Msg("no notification template configured, skipping delivery")
		return
	}

	wanted := map[string]bool{}
	for _, p := range rule.NotificationProviders {
		wanted[p] = true
	}

	for _, n := range e.notifiers {
		if len(wanted) > 0 && !wanted[n.Name()] {
			continue
		}
		if err := n.Send(ctx, rule.Severity, c.Title, message); err != nil {
			e.logger.Error().Err(err).
				Str("notifier", n.Name()).
				Str("alert_type", c.Key.AlertType).
				Msg("notification delivery failed")
		}
	}
}

// render executes the rule template over the candidate data. Unknown
// placeholders come out empty; a broken template falls back to the title.
func (e *AlertEngine) render(rule model.AlertRule, c Candidate) string {
	text := rule.NotificationTemplate
	if text == "" {
		return ""
	}

	tmpl, err := template.New(rule.AlertType).Option("missingkey=zero").Parse(text)
	if err != nil {
		e.logger.Warn().Err(err).Str("alert_type", rule.AlertType).Msg("bad notification template")
		return c.Title
	}
	data := c.Data
	if data == nil {
		data = map[string]string{}
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		e.logger.Warn().Err(err).Str("alert_type", rule.AlertType).Msg("template render failed")
		return c.Title
	}
	return out.String()
}
