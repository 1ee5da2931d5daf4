package dnsprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const dnspodEndpoint = "https://dnsapi.cn"

// DNSPodProvider manages TXT records through the DNSPod form-encoded API.
type DNSPodProvider struct {
	loginToken string // "id,token"
	client     *http.Client
}

func NewDNSPodProvider(loginToken string) *DNSPodProvider {
	return &DNSPodProvider{
		loginToken: loginToken,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *DNSPodProvider) Name() string { return "dnspod" }

type dnspodStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *DNSPodProvider) AddTXT(ctx context.Context, fqdn, value string) error {
	zone, sub, err := p.resolveZone(ctx, fqdn)
	if err != nil {
		return err
	}

	var resp struct {
		Status dnspodStatus `json:"status"`
	}
	err = p.call(ctx, "/Record.Create", url.Values{
		"domain":      {zone},
		"sub_domain":  {sub},
		"record_type": {"TXT"},
		"record_line": {"默认"},
		"value":       {value},
		"ttl":         {"600"},
	}, &resp)
	if err != nil {
		return fmt.Errorf("dnspod add TXT %s: %w", fqdn, err)
	}
	if resp.Status.Code != "1" {
		return fmt.Errorf("dnspod add TXT %s: %s %s", fqdn, resp.Status.Code, resp.Status.Message)
	}
	return nil
}

func (p *DNSPodProvider) DeleteTXT(ctx context.Context, fqdn, value string) error {
	zone, sub, err := p.resolveZone(ctx, fqdn)
	if err != nil {
		return err
	}

	var list struct {
		Status  dnspodStatus `json:"status"`
		Records []struct {
			ID    string `json:"id"`
			Value string `json:"value"`
		} `json:"records"`
	}
	err = p.call(ctx, "/Record.List", url.Values{
		"domain":      {zone},
		"sub_domain":  {sub},
		"record_type": {"TXT"},
	}, &list)
	if err != nil {
		return fmt.Errorf("dnspod list TXT %s: %w", fqdn, err)
	}
	if list.Status.Code != "1" {
		// Code 10 means no records; nothing to delete.
		if list.Status.Code == "10" {
			return nil
		}
		return fmt.Errorf("dnspod list TXT %s: %s %s", fqdn, list.Status.Code, list.Status.Message)
	}

	for _, rec := range list.Records {
		if rec.Value != value {
			continue
		}
		var resp struct {
			Status dnspodStatus `json:"status"`
		}
		err = p.call(ctx, "/Record.Remove", url.Values{
			"domain":    {zone},
			"record_id": {rec.ID},
		}, &resp)
		if err != nil {
			return fmt.Errorf("dnspod remove record %s: %w", rec.ID, err)
		}
	}
	return nil
}

func (p *DNSPodProvider) resolveZone(ctx context.Context, fqdn string) (zone, sub string, err error) {
	var lastErr error
	for _, candidate := range zoneCandidates(fqdn) {
		var resp struct {
			Status dnspodStatus `json:"status"`
		}
		if err := p.call(ctx, "/Domain.Info", url.Values{"domain": {candidate}}, &resp); err != nil {
			lastErr = err
			continue
		}
		if resp.Status.Code != "1" {
			lastErr = fmt.Errorf("dnspod: %s %s", resp.Status.Code, resp.Status.Message)
			continue
		}
		return candidate, splitRecord(fqdn, candidate), nil
	}
	return "", "", fmt.Errorf("no dnspod zone found for %s: %w", fqdn, lastErr)
}

func (p *DNSPodProvider) call(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("login_token", p.loginToken)
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dnspodEndpoint+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dnspod API status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
