package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

// PortCheck is the outcome of a single TCP connect.
type PortCheck struct {
	Port      int   `json:"port"`
	Open      bool  `json:"open"`
	ConnectMS int64 `json:"connect_ms"`
}

// ReachabilityResult is the details document of a reachability observation.
type ReachabilityResult struct {
	Status         string      `json:"status"`
	HTTPStatusCode int         `json:"http_status_code,omitempty"`
	HTTPScheme     string      `json:"http_scheme,omitempty"`
	Ports          []PortCheck `json:"ports,omitempty"`
	ResponseTimeMS int64       `json:"response_time_ms"`
	Error          string      `json:"error,omitempty"`
}

// ProbeReachability issues a GET against the site root without following
// redirects, then TCP-connects to each configured port. The probe is ok
// iff some HTTP status below 400 was observed.
func (p *Prober) ProbeReachability(ctx context.Context, domain string, ports []int) ReachabilityResult {
	start := time.Now()
	result := ReachabilityResult{Status: "failed"}

	client := &http.Client{
		Timeout:   p.httpTimeout,
		Transport: p.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// An error status on one scheme does not condemn the site; the other
	// scheme may still answer below 400.
	for _, scheme := range []string{"https", "http"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+domain+"/", nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		result.HTTPStatusCode = resp.StatusCode
		result.HTTPScheme = scheme
		if resp.StatusCode < 400 {
			result.Status = "ok"
			break
		}
	}

	for _, port := range ports {
		check := PortCheck{Port: port}
		connStart := time.Now()
		conn, err := (&net.Dialer{Timeout: p.tcpTimeout}).DialContext(ctx, "tcp",
			net.JoinHostPort(domain, fmt.Sprintf("%d", port)))
		check.ConnectMS = time.Since(connStart).Milliseconds()
		if err == nil {
			check.Open = true
			conn.Close()
		}
		result.Ports = append(result.Ports, check)
	}

	result.ResponseTimeMS = time.Since(start).Milliseconds()
	if result.Status != "ok" {
		if result.HTTPStatusCode > 0 {
			result.Error = fmt.Sprintf("HTTP status %d", result.HTTPStatusCode)
		} else {
			result.Error = "no HTTP response"
		}
	}
	return result
}

// Observation converts the result to an observation row.
func (r ReachabilityResult) Observation(certID *string) model.ProbeObservation {
	status := model.ObservationOK
	if r.Status != "ok" {
		status = model.ObservationFailed
	}
	return observation(certID, model.CheckTypeReachability, status, r.ResponseTimeMS, r, r.Error)
}
