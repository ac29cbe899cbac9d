package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Agenta-AI/agenta-sub004/internal/auth"
	"github.com/Agenta-AI/agenta-sub004/internal/config"
	"github.com/Agenta-AI/agenta-sub004/internal/ratelimit"
	"github.com/Agenta-AI/agenta-sub004/internal/server"
	"github.com/Agenta-AI/agenta-sub004/internal/service/tracing"
	"github.com/Agenta-AI/agenta-sub004/internal/storage"
	"github.com/Agenta-AI/agenta-sub004/internal/storage/sqlite"
	"github.com/Agenta-AI/agenta-sub004/internal/telemetry"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/pipeline"
	"github.com/Agenta-AI/agenta-sub004/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "token":
			err = issueToken(cfg, logger, os.Args[2:], os.Stdout)
		case "keygen":
			err = keygen(os.Args[2:], os.Stdout)
		default:
			err = fmt.Errorf("unknown command %q (want token or keygen)", os.Args[1])
		}
		if err != nil {
			logger.Error(os.Args[1], "error", err)
			return 1
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("tracing starting", "version", version, "port", cfg.Port)

	tel, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Prometheus:  cfg.PrometheusEnabled,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = mem.Close() }()
		limiter = mem
	}

	var opts []pipeline.Option
	if cfg.RunFlatBuilder {
		opts = append(opts, pipeline.WithFlatBuilder())
	}
	svc := tracing.New(store, pipeline.New(nil, logger, opts...), logger)

	srv := server.New(server.ServerConfig{
		Service:             svc,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             limiter,
		MetricsHandler:      tel.MetricsHandler(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("tracing shutting down")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("tracing stopped")
	return nil
}

// openStore connects the backend DATABASE_URL names and applies its
// migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (tracing.Store, func(), error) {
	backend, dsn, err := cfg.Storage()
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case config.BackendPostgres:
		db, err := storage.New(ctx, dsn, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close(ctx)
			return nil, nil, fmt.Errorf("storage: migrate: %w", err)
		}
		return db, func() { db.Close(context.Background()) }, nil

	default:
		store, err := sqlite.Open(ctx, dsn, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := store.RunMigrations(ctx, migrations.SQLite); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("storage: migrate: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
}

// issueToken prints a signed token for local development:
//
//	tracing token -project <uuid> [-user <uuid>]
func issueToken(cfg config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	projectFlag := fs.String("project", "", "project id the token is scoped to")
	userFlag := fs.String("user", "", "acting user id (random when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	project, err := uuid.Parse(*projectFlag)
	if err != nil {
		return fmt.Errorf("-project: %w", err)
	}
	user := uuid.New()
	if *userFlag != "" {
		if user, err = uuid.Parse(*userFlag); err != nil {
			return fmt.Errorf("-user: %w", err)
		}
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("TRACING_JWT_PRIVATE_KEY and TRACING_JWT_PUBLIC_KEY must be set; an ephemeral key would not verify on the server")
	}

	mgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger)
	if err != nil {
		return err
	}
	token, exp, err := mgr.IssueToken(project, user)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n# expires %s\n", token, exp.Format("2006-01-02T15:04:05Z07:00"))
	return err
}

// keygen writes a persistent Ed25519 key pair. Without one the server signs
// with an ephemeral key and every token dies on restart.
//
//	tracing keygen [-dir data]
func keygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	dir := fs.String("dir", "data", "directory the PEM files are written to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	privPath := filepath.Join(*dir, "jwt_private.pem")
	pubPath := filepath.Join(*dir, "jwt_public.pem")
	if err := auth.WriteKeyPair(privPath, pubPath); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "TRACING_JWT_PRIVATE_KEY=%s\nTRACING_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
	return err
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
