package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL    string
	MigrationsDir  string
	HTTPListenAddr string
	LogLevel       string
	ServiceName    string

	// Certificate material and ACME account keys live under StoragePath.
	StoragePath string

	ACMEEmail string
	Staging   bool

	CheckIntervalSeconds int
	MaxConcurrentChecks  int
	RenewalDaysBefore    int

	// Ordered recursive resolvers used for probes and DNS-01 propagation
	// verification, host:port.
	DNSResolvers []string

	AlertCooldownMinutes int

	// FallbackCAs is tried in order when the primary CA rate-limits or is
	// unavailable during renewal.
	FallbackCAs []string

	// DNS provider credentials. A provider with no credentials is not
	// registered.
	CloudflareAPIToken string
	AliDNSAccessKey    string
	AliDNSSecretKey    string
	DNSPodToken        string
	DNSProviderOrder   []string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrationsDir:  getEnv("MIGRATIONS_DIR", "internal/store/migrations"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ServiceName:    getEnv("SERVICE_NAME", "certfleet"),

		StoragePath: getEnv("STORAGE_PATH", "/var/lib/certfleet"),

		ACMEEmail: getEnv("ACME_EMAIL", ""),
		Staging:   getEnvBool("ACME_STAGING", false),

		CheckIntervalSeconds: getEnvInt("CHECK_INTERVAL_SECONDS", 60),
		MaxConcurrentChecks:  getEnvInt("MAX_CONCURRENT_CHECKS", 5),
		RenewalDaysBefore:    getEnvInt("RENEWAL_DAYS_BEFORE", 30),

		DNSResolvers: getEnvList("DNS_RESOLVERS", []string{
			"8.8.8.8:53", "1.1.1.1:53", "9.9.9.9:53", "208.67.222.222:53",
		}),

		AlertCooldownMinutes: getEnvInt("ALERT_COOLDOWN_MINUTES", 60),

		FallbackCAs: getEnvList("FALLBACK_CAS", nil),

		CloudflareAPIToken: getEnv("CLOUDFLARE_API_TOKEN", ""),
		AliDNSAccessKey:    getEnv("ALIDNS_ACCESS_KEY", ""),
		AliDNSSecretKey:    getEnv("ALIDNS_SECRET_KEY", ""),
		DNSPodToken:        getEnv("DNSPOD_TOKEN", ""),
		DNSProviderOrder:   getEnvList("DNS_PROVIDER_ORDER", []string{"cloudflare", "alidns", "dnspod"}),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ACMEEmail == "" {
		return fmt.Errorf("ACME_EMAIL is required")
	}
	if c.CheckIntervalSeconds < 30 || c.CheckIntervalSeconds > 3600 {
		return fmt.Errorf("CHECK_INTERVAL_SECONDS must be in [30, 3600], got %d", c.CheckIntervalSeconds)
	}
	if c.MaxConcurrentChecks < 1 || c.MaxConcurrentChecks > 20 {
		return fmt.Errorf("MAX_CONCURRENT_CHECKS must be in [1, 20], got %d", c.MaxConcurrentChecks)
	}
	if c.RenewalDaysBefore < 1 || c.RenewalDaysBefore > 89 {
		return fmt.Errorf("RENEWAL_DAYS_BEFORE must be in [1, 89], got %d", c.RenewalDaysBefore)
	}
	if len(c.DNSResolvers) == 0 {
		return fmt.Errorf("DNS_RESOLVERS must list at least one resolver")
	}
	if c.AlertCooldownMinutes < 0 {
		return fmt.Errorf("ALERT_COOLDOWN_MINUTES must not be negative")
	}
	return nil
}

// CheckInterval returns the monitor scan period as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
