// Package app wires the adapters to the use cases and runs the controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	httpadmin "caravel/internal/adapters/in/http/admin"
	"caravel/internal/adapters/out/acme"
	"caravel/internal/adapters/out/deploystore"
	"caravel/internal/adapters/out/descriptorsource"
	"caravel/internal/adapters/out/docker"
	"caravel/internal/adapters/out/eventbus"
	"caravel/internal/adapters/out/httpprober"
	"caravel/internal/adapters/out/registryclient"
	"caravel/internal/adapters/out/secretstore"
	"caravel/internal/adapters/out/targetresolver"
	"caravel/internal/adapters/out/telemetry"
	"caravel/internal/domain"
	"caravel/internal/usecase/orchestrator"
	"caravel/internal/usecase/rollout"
	"caravel/internal/usecase/router"
	"caravel/internal/usecase/secrets"
)

const shutdownTimeout = 10 * time.Second

// Run starts the controller and blocks until SIGINT/SIGTERM.
func Run(ctx context.Context, configPath string) error {
	v, err := InitViper(configPath)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(v)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log)
	ctx = log.WithContext(ctx)

	log.Info().
		Str("http_addr", cfg.Server.HTTPAddr).
		Str("https_addr", cfg.Server.HTTPSAddr).
		Str("admin_addr", cfg.Server.AdminAddr).
		Str("data_dir", cfg.Server.DataDir).
		Msg("starting caravel")

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	bus := eventbus.NewInMemory(100, log)
	bus.SetMetrics(metrics)
	if err := bus.Start(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer func() {
		if err := bus.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop event bus")
		}
	}()

	runtime, err := docker.NewRuntime()
	if err != nil {
		return fmt.Errorf("failed to connect to container runtime: %w", err)
	}
	if err := runtime.Ping(ctx); err != nil {
		return fmt.Errorf("container runtime unreachable: %w", err)
	}

	descriptors, err := descriptorsource.NewSource(v)
	if err != nil {
		return err
	}
	store, err := deploystore.NewFileStore(cfg.DeploymentsPath())
	if err != nil {
		return err
	}
	secretFiles, err := secretstore.NewFileStore(cfg.SecretsDir())
	if err != nil {
		return err
	}
	secretSvc := secrets.NewService(secretFiles)

	registry := registryclient.New(registryclient.Config{
		Username: cfg.Registry.Username,
		Password: cfg.Registry.Password,
	})

	orchSvc := orchestrator.NewService(runtime, secretSvc, bus, orchestrator.Config{
		ReadyWindow:      cfg.Rollout.ReadyWindow,
		PullMaxAttempts:  cfg.Rollout.PullMaxAttempts,
		RegistryUsername: cfg.Registry.Username,
		RegistryPassword: cfg.Registry.Password,
	})

	// The certificate host policy delegates to the router, which is built
	// right after; the closure resolves the cycle.
	var routerSvc *router.Service
	certs, err := acme.NewResolver(acme.Config{
		CacheDir: cfg.CertCacheDir(),
		Email:    cfg.ACME.Email,
		Staging:  cfg.ACME.Staging,
	}, func(ctx context.Context, host string) error {
		return routerSvc.AllowHost(ctx, host)
	})
	if err != nil {
		return err
	}

	targets := targetresolver.NewResolver(store, runtime)
	routerSvc = router.NewService(certs, targets, bus, metrics)

	prober := httpprober.New(httpprober.WithTimeout(cfg.Rollout.ProbeTimeout))
	rolloutSvc := rollout.NewController(descriptors, orchSvc, routerSvc, registry, store, prober, bus, metrics, rollout.Config{
		ProbePath:        cfg.Rollout.ProbePath,
		ProbeTimeout:     cfg.Rollout.ProbeTimeout,
		ProbeMaxAttempts: cfg.Rollout.ProbeMaxAttempts,
		ProbeBackoffBase: cfg.Rollout.ProbeBackoffBase,
	})

	// Routes for services that were healthy before the restart come back
	// without a redeploy.
	if err := routerSvc.Sync(ctx, healthyRules(store)); err != nil {
		log.Warn().Err(err).Msg("failed to restore routes from deployment state")
	}

	descriptors.Watch(ctx, nil)

	adminMux := http.NewServeMux()
	httpadmin.NewHandler(rolloutSvc, routerSvc, secretSvc).RegisterRoutes(adminMux)
	adminServer := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           httpadmin.AuthMiddleware(cfg.Server.AdminToken, log)(adminMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpsServer := &http.Server{
		Addr:              cfg.Server.HTTPSAddr,
		Handler:           routerSvc,
		TLSConfig:         certs.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Plain HTTP serves ACME HTTP-01 challenges and web-entrypoint routes.
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           certs.HTTPHandler(routerSvc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("server", name).Msg("server error")
				stop()
			}
		}()
	}
	serve("admin", adminServer.ListenAndServe)
	serve("https", func() error { return httpsServer.ListenAndServeTLS("", "") })
	serve("http", httpServer.ListenAndServe)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{adminServer, httpsServer, httpServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown error")
		}
	}
	wg.Wait()

	log.Info().Msg("stopped")
	return nil
}

// healthyRules derives the routing table from the recorded healthy
// deployments. Services without a healthy deployment contribute nothing.
func healthyRules(store *deploystore.FileStore) []domain.RoutingRule {
	var rules []domain.RoutingRule
	for _, service := range store.Services() {
		dep, ok := store.LastHealthy(service)
		if !ok {
			continue
		}
		if dep.Descriptor.Route != (domain.RoutingRule{}) {
			rules = append(rules, dep.Descriptor.Route)
		}
	}
	return rules
}

// InitViper reads the config file, either from an explicit path or from
// the standard search locations.
func InitViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("caravel")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(userConfigDir + "/caravel")
		}
		v.AddConfigPath("/etc/caravel")
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

// newLogger builds the root logger from config.
func newLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log.Level(level).With().Timestamp().Logger()
}
