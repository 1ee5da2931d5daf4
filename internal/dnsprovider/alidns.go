package dnsprovider

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const alidnsEndpoint = "https://alidns.aliyuncs.com/"

// AliDNSProvider manages TXT records through the Alibaba Cloud DNS RPC API
// (HMAC-SHA1 signed requests).
type AliDNSProvider struct {
	accessKey string
	secretKey string
	client    *http.Client
}

func NewAliDNSProvider(accessKey, secretKey string) *AliDNSProvider {
	return &AliDNSProvider{
		accessKey: accessKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *AliDNSProvider) Name() string { return "alidns" }

func (p *AliDNSProvider) AddTXT(ctx context.Context, fqdn, value string) error {
	zone, rr, err := p.resolveZone(ctx, fqdn)
	if err != nil {
		return err
	}

	var resp struct {
		RecordID string `json:"RecordId"`
	}
	err = p.call(ctx, map[string]string{
		"Action":     "AddDomainRecord",
		"DomainName": zone,
		"RR":         rr,
		"Type":       "TXT",
		"Value":      value,
		"TTL":        "600",
	}, &resp)
	if err != nil {
		return fmt.Errorf("alidns add TXT %s: %w", fqdn, err)
	}
	return nil
}

func (p *AliDNSProvider) DeleteTXT(ctx context.Context, fqdn, value string) error {
	zone, rr, err := p.resolveZone(ctx, fqdn)
	if err != nil {
		return err
	}

	var list struct {
		DomainRecords struct {
			Record []struct {
				RecordID string `json:"RecordId"`
				Value    string `json:"Value"`
			} `json:"Record"`
		} `json:"DomainRecords"`
	}
	err = p.call(ctx, map[string]string{
		"Action":     "DescribeDomainRecords",
		"DomainName": zone,
		"RRKeyWord":  rr,
		"Type":       "TXT",
	}, &list)
	if err != nil {
		return fmt.Errorf("alidns list TXT %s: %w", fqdn, err)
	}

	for _, rec := range list.DomainRecords.Record {
		if rec.Value != value {
			continue
		}
		err = p.call(ctx, map[string]string{
			"Action":   "DeleteDomainRecord",
			"RecordId": rec.RecordID,
		}, &struct{}{})
		if err != nil {
			return fmt.Errorf("alidns delete record %s: %w", rec.RecordID, err)
		}
	}
	return nil
}

// resolveZone finds the registered zone for fqdn by asking the API about
// each candidate suffix, longest first.
func (p *AliDNSProvider) resolveZone(ctx context.Context, fqdn string) (zone, rr string, err error) {
	var lastErr error
	for _, candidate := range zoneCandidates(fqdn) {
		var resp struct {
			DomainName string `json:"DomainName"`
		}
		if err := p.call(ctx, map[string]string{
			"Action":     "DescribeDomainInfo",
			"DomainName": candidate,
		}, &resp); err != nil {
			lastErr = err
			continue
		}
		return candidate, splitRecord(fqdn, candidate), nil
	}
	return "", "", fmt.Errorf("no alidns zone found for %s: %w", fqdn, lastErr)
}

func (p *AliDNSProvider) call(ctx context.Context, params map[string]string, out any) error {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("Format", "JSON")
	q.Set("Version", "2015-01-09")
	q.Set("AccessKeyId", p.accessKey)
	q.Set("SignatureMethod", "HMAC-SHA1")
	q.Set("SignatureVersion", "1.0")
	q.Set("SignatureNonce", nonce())
	q.Set("Timestamp", time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("Signature", p.sign(q))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, alidnsEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
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
		var apiErr struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return fmt.Errorf("alidns API status %d: %s %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}
	return json.Unmarshal(body, out)
}

// sign computes the RPC-style HMAC-SHA1 request signature.
func (p *AliDNSProvider) sign(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var canonical strings.Builder
	for i, k := range keys {
		if i > 0 {
			canonical.WriteByte('&')
		}
		canonical.WriteString(rpcEscape(k))
		canonical.WriteByte('=')
		canonical.WriteString(rpcEscape(q.Get(k)))
	}

	stringToSign := "GET&" + rpcEscape("/") + "&" + rpcEscape(canonical.String())
	mac := hmac.New(sha1.New, []byte(p.secretKey+"&"))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func rpcEscape(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	e = strings.ReplaceAll(e, "*", "%2A")
	e = strings.ReplaceAll(e, "%7E", "~")
	return e
}

func nonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}
