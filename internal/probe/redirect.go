package probe

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

// HTTPRedirectResult is the details document of an http_redirect
// observation.
type HTTPRedirectResult struct {
	Status          string `json:"status"`
	HTTPStatusCode  int    `json:"http_status_code,omitempty"`
	RedirectEnabled bool   `json:"redirect_enabled"`
	RedirectType    string `json:"redirect_type,omitempty"` // permanent or temporary
	Location        string `json:"location,omitempty"`
	HSTS            bool   `json:"hsts"`
	HSTSMaxAge      int    `json:"hsts_max_age,omitempty"`
	ResponseTimeMS  int64  `json:"response_time_ms"`
	Error           string `json:"error,omitempty"`
}

// ProbeHTTPRedirect requests http://domain/ without following redirects
// and reports whether plain HTTP is upgraded to HTTPS.
func (p *Prober) ProbeHTTPRedirect(ctx context.Context, domain string) HTTPRedirectResult {
	start := time.Now()
	result := HTTPRedirectResult{Status: "failed"}

	client := &http.Client{
		Timeout: p.httpTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain+"/", nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = err.Error()
		result.ResponseTimeMS = time.Since(start).Milliseconds()
		return result
	}
	defer resp.Body.Close()

	result.ResponseTimeMS = time.Since(start).Milliseconds()
	result.Status = "ok"
	classifyRedirect(&result, resp.StatusCode, resp.Header.Get("Location"))
	parseHSTS(&result, resp.Header.Get("Strict-Transport-Security"))
	return result
}

func classifyRedirect(result *HTTPRedirectResult, statusCode int, location string) {
	result.HTTPStatusCode = statusCode
	result.Location = location

	switch statusCode {
	case http.StatusMovedPermanently, http.StatusPermanentRedirect:
		result.RedirectType = "permanent"
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		result.RedirectType = "temporary"
	default:
		return
	}
	result.RedirectEnabled = strings.HasPrefix(location, "https://")
	if !result.RedirectEnabled {
		result.RedirectType = ""
	}
}

func parseHSTS(result *HTTPRedirectResult, header string) {
	if header == "" {
		return
	}
	result.HSTS = true
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if age, err := strconv.Atoi(strings.Trim(v, `"`)); err == nil {
				result.HSTSMaxAge = age
			}
		}
	}
}

// Observation converts the result to an observation row.
func (r HTTPRedirectResult) Observation(certID *string) model.ProbeObservation {
	status := model.ObservationOK
	if r.Status != "ok" {
		status = model.ObservationFailed
	}
	return observation(certID, model.CheckTypeHTTPRedirect, status, r.ResponseTimeMS, r, r.Error)
}
