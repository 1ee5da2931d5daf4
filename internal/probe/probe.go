package probe

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/model"
)

const (
	defaultDNSTimeout  = 5 * time.Second
	defaultTCPTimeout  = 5 * time.Second
	defaultHTTPTimeout = 10 * time.Second
)

// Prober runs stateless network probes. It never writes anything; the
// monitor owns persistence of observations.
type Prober struct {
	resolvers   []string
	dnsTimeout  time.Duration
	tcpTimeout  time.Duration
	httpTimeout time.Duration
	// transport overrides the default HTTP transport in tests.
	transport http.RoundTripper
	logger    zerolog.Logger
}

func New(resolvers []string, logger zerolog.Logger) *Prober {
	return &Prober{
		resolvers:   resolvers,
		dnsTimeout:  defaultDNSTimeout,
		tcpTimeout:  defaultTCPTimeout,
		httpTimeout: defaultHTTPTimeout,
		logger:      logger.With().Str("component", "probe").Logger(),
	}
}

// observation packs a typed probe result into the append-only observation
// row. details holds the full result document.
func observation(certID *string, checkType, status string, elapsedMS int64, result any, errMsg string) model.ProbeObservation {
	details, _ := json.Marshal(result)
	obs := model.ProbeObservation{
		ID:             model.NewID(),
		CertificateID:  certID,
		CheckType:      checkType,
		Status:         status,
		ResponseTimeMS: elapsedMS,
		Details:        details,
		ObservedAt:     time.Now(),
	}
	if errMsg != "" {
		obs.ErrorMessage = &errMsg
	}
	return obs
}
