package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/argus/internal/adapter/http"
	cfnats "github.com/Strob0t/argus/internal/adapter/nats"
	"github.com/Strob0t/argus/internal/adapter/natskv"
	cfotel "github.com/Strob0t/argus/internal/adapter/otel"
	"github.com/Strob0t/argus/internal/adapter/ristretto"
	"github.com/Strob0t/argus/internal/adapter/tiered"
	"github.com/Strob0t/argus/internal/adapter/ws"
	"github.com/Strob0t/argus/internal/config"
	"github.com/Strob0t/argus/internal/domain/consensus"
	"github.com/Strob0t/argus/internal/logger"
	"github.com/Strob0t/argus/internal/middleware"
	"github.com/Strob0t/argus/internal/port/cache"
	"github.com/Strob0t/argus/internal/port/eventsink"
	"github.com/Strob0t/argus/internal/port/provider"
	"github.com/Strob0t/argus/internal/secrets"
	"github.com/Strob0t/argus/internal/service"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agents", len(cfg.Agents),
		"providers", len(cfg.Providers),
		"cache_backend", cfg.Cache.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTel, err := cfotel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Secrets ---
	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.ProviderKeys...))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	go reloadOnHUP(ctx, vault)

	// --- NATS ---
	var bus *cfnats.Bus
	if cfg.NATS.URL != "" {
		bus, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.EventsSubject)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bus.Close() }()
	}

	// --- Response cache ---
	var respCache *service.ResponseCache
	if cfg.Cache.Enabled {
		backend, closeBackend, err := cacheBackend(ctx, cfg, bus)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer closeBackend()
		respCache = service.NewResponseCache(service.ResponseCacheConfig{
			TTL:          cfg.Cache.TTL,
			MaxEntries:   cfg.Cache.MaxEntries,
			HalfLife:     cfg.Cache.HalfLife,
			MinRelevance: cfg.Cache.MinRelevance,
			Backend:      backend,
		})
	}

	// --- Gateway ---
	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return err
	}
	gateway, err := service.NewGateway(service.GatewayOptions{
		Providers: providers,
		Limits:    cfg.Providers,
		Agents:    cfg.Agents,
		Breaker:   cfg.Breaker,
		Retry:     cfg.Retry,
		Cache:     respCache,
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	gateway.SetMetrics(metrics)

	// --- Events ---
	hub := ws.NewHub(originHosts(cfg.Server.CORSOrigin)...)
	defer hub.Close()
	sinks := []eventsink.Sink{service.LogSink(), hub}
	if bus != nil {
		sinks = append(sinks, bus)
	}
	events := service.NewEventEmitter(cfg.Orchestrator.EventBuffer, sinks...)
	events.SetMetrics(metrics)
	defer events.Close()

	// --- Orchestrator ---
	orch := service.NewOrchestrator(service.OrchestratorOptions{
		Gateway:    gateway,
		Gates:      service.NewQualityGateEngine(cfg.QualityGates, vault),
		Aggregator: consensus.NewAggregator(cfg.Consensus.DisagreementMargin),
		Hooks:      service.NewHooks(),
		Events:     events,
		Config:     cfg.Orchestrator,
	})
	orch.SetMetrics(metrics)

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Orchestrations: orch,
		Gateway:        gateway,
		Version:        version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	if cfg.Server.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst).Handler)
	}
	cfhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildProviders creates one client per configured provider through the
// adapter registry.
func buildProviders(cfgs map[string]config.Provider) (map[string]provider.Provider, error) {
	out := make(map[string]provider.Provider, len(cfgs))
	for name, pc := range cfgs {
		p, err := provider.New(pc.Kind, provider.Options{Name: name, BaseURL: pc.BaseURL, APIKey: pc.APIKey})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		out[name] = p
	}
	slog.Info("providers ready", "count", len(out), "kinds", provider.Available())
	return out, nil
}

// cacheBackend builds the shared store selected by cache.backend. The
// returned func releases it.
func cacheBackend(ctx context.Context, cfg *config.Config, bus *cfnats.Bus) (cache.Cache, func(), error) {
	nop := func() {}
	switch cfg.Cache.Backend {
	case "":
		return nil, nop, nil
	case "ristretto":
		l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
		if err != nil {
			return nil, nop, err
		}
		return l1, l1.Close, nil
	}

	l2, err := natskv.Open(ctx, bus.JetStream(), cfg.NATS.CacheBucket, cfg.Cache.TTL)
	if err != nil {
		return nil, nop, err
	}
	if cfg.Cache.Backend == "natskv" {
		return l2, nop, nil
	}
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, nop, err
	}
	return tiered.New(l1, l2, cfg.Cache.TTL), l1.Close, nil
}

// originHosts turns the dashboard origin URL into the host pattern the
// websocket handshake checks.
func originHosts(origin string) []string {
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		slog.Warn("ignoring unparsable cors origin for websocket", "origin", origin)
		return nil
	}
	return []string{u.Host}
}

// reloadOnHUP re-reads provider secrets whenever the process gets SIGHUP.
func reloadOnHUP(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", vault.Keys())
		}
	}
}
