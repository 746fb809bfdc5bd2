package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/authgate/internal/api"
	"github.com/jmerrifield20/authgate/internal/config"
	"github.com/jmerrifield20/authgate/internal/database"
	"github.com/jmerrifield20/authgate/internal/health"
	"github.com/jmerrifield20/authgate/internal/identity"
	"github.com/jmerrifield20/authgate/internal/server"
	"github.com/jmerrifield20/authgate/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending Postgres migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.ConfigFile == "" {
		logger.Warn("no config file found, using defaults and env vars")
	}

	var verifierOpts []identity.VerifierOption
	if cfg.Auth.Issuer != "" {
		verifierOpts = append(verifierOpts, identity.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Leeway > 0 {
		verifierOpts = append(verifierOpts, identity.WithLeeway(cfg.Auth.Leeway))
	}
	if cfg.Auth.RequireExpiry {
		verifierOpts = append(verifierOpts, identity.WithExpirationRequired())
	}
	verifier, err := identity.NewVerifier([]byte(cfg.Auth.JWTSecret), verifierOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	if serveMigrate && cfg.Database.Driver == config.DriverPostgres {
		if err := database.RunMigrations(cfg.Database.URL, logger); err != nil {
			return err
		}
	}
	store, err := database.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// ── Services ─────────────────────────────────────────────────────────────
	userSvc := users.NewService(store.Users, logger)

	checker := health.New(store.Users, health.Config{}, logger)
	checker.SetMetricsRecord(api.RecordStoreProbe)
	go checker.Start(ctx)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Options{
		Users:       userSvc,
		Verifier:    verifier,
		Health:      checker,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	logger.Info("starting authgate",
		zap.String("version", version),
		zap.String("driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port),
	)
	return server.Run(ctx, fmt.Sprintf(":%d", cfg.Server.Port), router, logger)
}
