package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/acme"
	"github.com/edvin/certfleet/internal/config"
	"github.com/edvin/certfleet/internal/core"
	"github.com/edvin/certfleet/internal/deployer"
	"github.com/edvin/certfleet/internal/dnsprovider"
	"github.com/edvin/certfleet/internal/logging"
	"github.com/edvin/certfleet/internal/metrics"
	"github.com/edvin/certfleet/internal/probe"
	"github.com/edvin/certfleet/internal/store"
)

func main() {
	migrateFlag := flag.Bool("migrate", true, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", cfg.MigrationsDir).Msg("running database migrations")
		if err := store.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPool(pool)

	st := store.New(pool)

	registry := buildDNSRegistry(cfg, logger)
	prober := probe.New(cfg.DNSResolvers, logger)

	c := core.New(cfg, st, issuerFactory(cfg, registry, logger), prober,
		deployer.New(logger), []core.Notifier{core.NewLogNotifier(logger)}, logger)

	go c.Monitor.RunLoop(ctx)
	go c.Scheduler.RunLoop(ctx)
	go c.Heartbeats.RunLoop(ctx)
	go c.Tasks.RunLoop(ctx)

	ops := metrics.NewServer(logger, pool, st, c.Heartbeats, cfg.StoragePath)
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      ops,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting operational HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// buildDNSRegistry registers every provider whose credentials are present,
// in the configured order.
func buildDNSRegistry(cfg *config.Config, logger zerolog.Logger) *dnsprovider.Registry {
	var providers []dnsprovider.Provider
	for _, name := range cfg.DNSProviderOrder {
		switch name {
		case "cloudflare":
			if cfg.CloudflareAPIToken == "" {
				continue
			}
			p, err := dnsprovider.NewCloudflareProvider(cfg.CloudflareAPIToken)
			if err != nil {
				logger.Warn().Err(err).Msg("cloudflare provider not registered")
				continue
			}
			providers = append(providers, p)
		case "alidns":
			if cfg.AliDNSAccessKey != "" && cfg.AliDNSSecretKey != "" {
				providers = append(providers, dnsprovider.NewAliDNSProvider(cfg.AliDNSAccessKey, cfg.AliDNSSecretKey))
			}
		case "dnspod":
			if cfg.DNSPodToken != "" {
				providers = append(providers, dnsprovider.NewDNSPodProvider(cfg.DNSPodToken))
			}
		default:
			logger.Warn().Str("provider", name).Msg("unknown DNS provider in DNS_PROVIDER_ORDER")
		}
	}

	verifier := dnsprovider.NewVerifier(cfg.DNSResolvers, logger)
	return dnsprovider.NewRegistry(providers, verifier, logger)
}

// issuerFactory builds ACME clients lazily and caches them per CA, so the
// account registration handshake runs at most once per CA.
func issuerFactory(cfg *config.Config, registry *dnsprovider.Registry, logger zerolog.Logger) core.IssuerFactory {
	var mu sync.Mutex
	clients := map[string]*acme.Client{}

	return func(caType string) (core.Issuer, error) {
		mu.Lock()
		defer mu.Unlock()

		if c, ok := clients[caType]; ok {
			return c, nil
		}
		c, err := acme.NewClient(caType, cfg.ACMEEmail, cfg.StoragePath, cfg.Staging, registry, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s client: %w", caType, err)
		}
		clients[caType] = c
		return c, nil
	}
}
