// Command sherpa-dns watches Docker containers and materializes DNS
// records from container labels into a DNS provider's zone.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/sherpa-dns/sherpa-dns/pkg/config"
	"github.com/sherpa-dns/sherpa-dns/pkg/controller"
	"github.com/sherpa-dns/sherpa-dns/pkg/health"
	"github.com/sherpa-dns/sherpa-dns/pkg/provider"
	"github.com/sherpa-dns/sherpa-dns/pkg/provider/cloudflare"
	"github.com/sherpa-dns/sherpa-dns/pkg/provider/rfc2136"
	"github.com/sherpa-dns/sherpa-dns/pkg/registry"
	"github.com/sherpa-dns/sherpa-dns/pkg/source"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config",
		envOr("SHERPA_DNS_CONFIG", "/etc/sherpa-dns/config.yaml"),
		"Path to the YAML configuration file")
	once := flag.Bool("once",
		envOrBool("SHERPA_DNS_ONCE", false),
		"Run exactly one reconciliation cycle and exit (overrides controller.once)")
	dryRun := flag.Bool("dry-run",
		envOrBool("SHERPA_DNS_DRY_RUN", false),
		"Log planned changes without applying them (overrides controller.dry_run)")
	healthAddr := flag.String("health-addr",
		envOr("SHERPA_DNS_HEALTH_ADDR", "0.0.0.0:8080"),
		"Address for the health/metrics HTTP server (empty to disable)")
	dockerHost := flag.String("docker-host",
		envOr("DOCKER_HOST", ""),
		"Docker daemon address (e.g. unix:///var/run/docker.sock, tcp://host:2376)")
	dockerTLSCA := flag.String("docker-tls-ca",
		envOr("SHERPA_DNS_DOCKER_TLS_CA", ""),
		"Path to Docker CA certificate for TLS connections")
	dockerTLSCert := flag.String("docker-tls-cert",
		envOr("SHERPA_DNS_DOCKER_TLS_CERT", ""),
		"Path to Docker client TLS certificate")
	dockerTLSKey := flag.String("docker-tls-key",
		envOr("SHERPA_DNS_DOCKER_TLS_KEY", ""),
		"Path to Docker client TLS key")
	shutdownTimeout := flag.Duration("shutdown-timeout",
		envOrDuration("SHERPA_DNS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Maximum time to wait for graceful shutdown after SIGTERM")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging.Level)
	log.Info("starting sherpa-dns", "version", version, "config", *configPath)

	// ---- Docker source ----
	var dockerOpts []dockerclient.Opt
	if *dockerHost != "" {
		dockerOpts = append(dockerOpts, dockerclient.WithHost(*dockerHost))
	}
	if *dockerTLSCert != "" || *dockerTLSKey != "" || *dockerTLSCA != "" {
		dockerOpts = append(dockerOpts,
			dockerclient.WithTLSClientConfig(*dockerTLSCA, *dockerTLSCert, *dockerTLSKey))
	}

	var srcOpts []source.Option
	if cfg.Source.LabelPrefix != "" {
		srcOpts = append(srcOpts, source.WithLabelPrefix(cfg.Source.LabelPrefix))
	}
	if cfg.Source.LabelFilter != "" {
		srcOpts = append(srcOpts, source.WithLabelFilter(source.ParseLabelFilter(cfg.Source.LabelFilter)))
	}

	src, err := source.NewDockerSource(log, srcOpts, dockerOpts...)
	if err != nil {
		log.Error("failed to create Docker source", "err", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("error closing Docker client", "err", cerr)
		}
	}()

	// ---- Provider ----
	domainFilter := provider.DomainFilter{Include: cfg.Domains.Include, Exclude: cfg.Domains.Exclude}
	var prov provider.Provider
	switch strings.ToLower(cfg.Provider.Name) {
	case "cloudflare":
		if cfg.Provider.Cloudflare.APIToken == "" {
			log.Error("provider.cloudflare.api_token is required when provider.name is cloudflare")
			os.Exit(1)
		}
		cfProv, cerr := cloudflare.New(cfg.Provider.Cloudflare.APIToken, domainFilter,
			cfg.Provider.Cloudflare.ProxiedByDefault, log)
		if cerr != nil {
			log.Error("failed to create Cloudflare provider", "err", cerr)
			os.Exit(1)
		}
		prov = cfProv

	case "rfc2136":
		prov = rfc2136.New(rfc2136.Config{
			Host:          cfg.Provider.RFC2136.Host,
			Port:          cfg.Provider.RFC2136.Port,
			Zone:          cfg.Provider.RFC2136.Zone,
			TSIGKeyName:   cfg.Provider.RFC2136.TSIGKeyName,
			TSIGSecret:    cfg.Provider.RFC2136.TSIGSecret,
			TSIGSecretAlg: cfg.Provider.RFC2136.TSIGSecretAlg,
			MinTTL:        cfg.Provider.RFC2136.MinTTL,
			Timeout:       cfg.RFC2136Timeout(),
		}, log)

	default:
		log.Error("unknown provider.name", "name", cfg.Provider.Name)
		os.Exit(1)
	}

	if pf, ok := prov.(interface{ Preflight(context.Context) error }); ok {
		if err := pf.Preflight(context.Background()); err != nil {
			log.Error("provider preflight check failed", "err", err)
			os.Exit(1)
		}
	}

	// ---- Registry ----
	reg := registry.NewTXT(prov, registry.Config{
		TXTPrefix:              cfg.Registry.TXTPrefix,
		TXTOwnerID:             cfg.Registry.TXTOwnerID,
		TXTWildcardReplacement: cfg.Registry.TXTWildcardReplacement,
		EncryptTXT:             cfg.Registry.Encrypt,
		EncryptionKey:          cfg.Registry.EncryptionKey,
		Logger:                 log,
	})

	// ---- Controller ----
	ctrl := controller.New(src, reg, log, controller.Config{
		Interval:      cfg.IntervalDuration(),
		DryRun:        cfg.Controller.DryRun || *dryRun,
		Once:          cfg.Controller.Once || *once,
		CleanupOnStop: cfg.Controller.CleanupOnStopOrDefault(),
		CleanupDelay:  cfg.CleanupDelayDuration(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if *healthAddr != "" {
		health.New(*healthAddr, src, log).Start(ctx)
	}

	log.Info("sherpa-dns ready",
		"provider", cfg.Provider.Name,
		"registry", cfg.Registry.Type,
		"interval", cfg.Controller.Interval,
		"once", cfg.Controller.Once || *once,
		"dry-run", cfg.Controller.DryRun || *dryRun,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	select {
	case err := <-runErr:
		finish(log, err)
	case <-ctx.Done():
		select {
		case err := <-runErr:
			finish(log, err)
		case <-time.After(*shutdownTimeout):
			log.Warn("shutdown timeout exceeded, forcing exit", "timeout", shutdownTimeout.String())
		}
	}
}

func finish(log *slog.Logger, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("controller exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// newLogger returns a JSON logger writing to stderr at the given level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// envOr returns the value of the environment variable named key, or fallback
// if the variable is unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrBool returns the environment variable named key parsed as bool, or fallback.
func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envOrDuration returns the environment variable named key parsed as
// time.Duration, or fallback.
func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
