package dnsprovider

import (
	"context"
	"fmt"

	"github.com/cloudflare/cloudflare-go"
)

// CloudflareProvider manages TXT records through the Cloudflare API.
type CloudflareProvider struct {
	api *cloudflare.API
}

func NewCloudflareProvider(apiToken string) (*CloudflareProvider, error) {
	api, err := cloudflare.NewWithAPIToken(apiToken)
	if err != nil {
		return nil, fmt.Errorf("create cloudflare client: %w", err)
	}
	return &CloudflareProvider{api: api}, nil
}

func (p *CloudflareProvider) Name() string { return "cloudflare" }

func (p *CloudflareProvider) zoneID(fqdn string) (string, error) {
	var lastErr error
	for _, zone := range zoneCandidates(fqdn) {
		id, err := p.api.ZoneIDByName(zone)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("no cloudflare zone found for %s: %w", fqdn, lastErr)
}

func (p *CloudflareProvider) AddTXT(ctx context.Context, fqdn, value string) error {
	zoneID, err := p.zoneID(fqdn)
	if err != nil {
		return err
	}

	_, err = p.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.CreateDNSRecordParams{
		Type:    "TXT",
		Name:    fqdn,
		Content: value,
		TTL:     120,
	})
	if err != nil {
		return fmt.Errorf("create TXT record %s: %w", fqdn, err)
	}
	return nil
}

func (p *CloudflareProvider) DeleteTXT(ctx context.Context, fqdn, value string) error {
	zoneID, err := p.zoneID(fqdn)
	if err != nil {
		return err
	}

	records, _, err := p.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{
		Type: "TXT",
		Name: fqdn,
	})
	if err != nil {
		return fmt.Errorf("list TXT records for %s: %w", fqdn, err)
	}

	for _, rec := range records {
		if rec.Content != value {
			continue
		}
		if err := p.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), rec.ID); err != nil {
			return fmt.Errorf("delete TXT record %s: %w", rec.ID, err)
		}
	}
	return nil
}
