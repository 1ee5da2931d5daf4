package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certfleet/internal/model"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func cannedResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     http.Header{},
	}
}

func TestProbeReachability_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	p := New(nil, zerolog.Nop())
	result := p.ProbeReachability(context.Background(), host, nil)
	require.Equal(t, "ok", result.Status)
	assert.Equal(t, http.StatusOK, result.HTTPStatusCode)
	assert.Equal(t, "http", result.HTTPScheme)

	obs := result.Observation(nil)
	assert.Equal(t, model.CheckTypeReachability, obs.CheckType)
	assert.Equal(t, model.ObservationOK, obs.Status)
}

// An HTTPS error status must not mask a healthy plain-HTTP answer.
func TestProbeReachability_HTTPSFailureFallsThroughToHTTP(t *testing.T) {
	p := New(nil, zerolog.Nop())
	p.transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Scheme == "https" {
			return cannedResponse(http.StatusInternalServerError), nil
		}
		return cannedResponse(http.StatusOK), nil
	})

	result := p.ProbeReachability(context.Background(), "example.com", nil)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, http.StatusOK, result.HTTPStatusCode)
	assert.Equal(t, "http", result.HTTPScheme)
}

func TestProbeReachability_AllSchemesErrorStatus(t *testing.T) {
	p := New(nil, zerolog.Nop())
	p.transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return cannedResponse(http.StatusServiceUnavailable), nil
	})

	result := p.ProbeReachability(context.Background(), "example.com", nil)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, http.StatusServiceUnavailable, result.HTTPStatusCode)
	assert.Contains(t, result.Error, "503")
}

func TestProbeReachability_PortChecks(t *testing.T) {
	p := New(nil, zerolog.Nop())
	p.transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return cannedResponse(http.StatusOK), nil
	})

	result := p.ProbeReachability(context.Background(), "127.0.0.1", []int{1})

	require.Len(t, result.Ports, 1)
	assert.Equal(t, 1, result.Ports[0].Port)
	assert.False(t, result.Ports[0].Open, "nothing listens on the reserved port")
}

func TestProbeReachability_NoListener(t *testing.T) {
	p := New(nil, zerolog.Nop())
	result := p.ProbeReachability(context.Background(), "127.0.0.1:1", nil)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "no HTTP response", result.Error)

	obs := result.Observation(nil)
	assert.Equal(t, model.ObservationFailed, obs.Status)
}
