package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pottech/document-creation/internal/config"
	"github.com/pottech/document-creation/internal/domain/apiclient"
	"github.com/pottech/document-creation/internal/domain/auditlog"
	"github.com/pottech/document-creation/internal/domain/careplan"
	"github.com/pottech/document-creation/internal/domain/hospital"
	"github.com/pottech/document-creation/internal/domain/patient"
	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/db"
	"github.com/pottech/document-creation/internal/platform/idp"
	"github.com/pottech/document-creation/internal/platform/middleware"
	"github.com/pottech/document-creation/internal/platform/telemetry"
	"github.com/pottech/document-creation/internal/platform/validation"
)

const (
	version   = "0.1.0"
	apiPrefix = "/api/"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docserver",
		Short: "Clinical document server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the document server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// resolveEndpoints reads the realm's discovery document and falls back to
// the standard Keycloak layout when it cannot be fetched.
func resolveEndpoints(ctx context.Context, hc *http.Client, realmURL string, logger zerolog.Logger) idp.Endpoints {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ep, err := idp.Discover(ctx, hc, realmURL)
	if err != nil {
		logger.Warn().Err(err).Str("realm", realmURL).Msg("OIDC discovery failed, using default Keycloak endpoints")
		return idp.KeycloakEndpoints(realmURL)
	}
	return ep
}

// apiClientKey buckets machine requests by client so one integration cannot
// starve the others. Unauthenticated requests fall back to the client IP.
func apiClientKey(c echo.Context) string {
	if cl := auth.IdentityFrom(c).APIClient; cl != nil {
		return "client:" + cl.Client.KeycloakClientID
	}
	return ""
}

// requestSubject names the caller in the request log.
func requestSubject(c echo.Context) string {
	id := auth.IdentityFrom(c)
	switch {
	case id.APIClient != nil:
		return "client:" + id.APIClient.Client.KeycloakClientID
	case id.User != nil:
		return "user:" + id.User.ID.String()
	}
	return ""
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	metricsProvider := telemetry.NewProvider(telemetry.Config{ServiceVersion: version, Environment: cfg.Env})
	metricsProvider.RegisterPoolStats(func() *db.PoolStats { return db.GetPoolStats(pool) })
	authMetrics := auth.NewMetrics(metricsProvider.Registerer())

	// Identity provider
	httpClient := &http.Client{Timeout: 10 * time.Second}
	oidc := idp.NewClient(idp.Config{
		Endpoints:    resolveEndpoints(ctx, httpClient, cfg.RealmURL(), logger),
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
		RedirectURL:  cfg.Origin + "/auth/callback",
		HTTPClient:   httpClient,
	})
	kcAdmin := idp.NewAdminClient(idp.AdminConfig{
		BaseURL:    cfg.KeycloakURL,
		Realm:      cfg.KeycloakRealm,
		Username:   cfg.KeycloakAdmin,
		Password:   cfg.KeycloakAdminPassword,
		HTTPClient: httpClient,
	})

	// Authentication core
	store := auth.NewPGStore(pool)
	auditLog := audit.NewLogger(audit.NewPGStore(pool), logger)
	sessions := auth.NewSessionManager(store, oidc, logger, authMetrics)
	gateway := auth.NewGateway(oidc, store, logger)
	provisioner := auth.NewProvisioner(store, store, logger, authMetrics)
	invitations := auth.NewInvitationManager(store)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	e.HTTPErrorHandler = auth.HTTPErrorHandler(apiPrefix, e.DefaultHTTPErrorHandler)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger, requestSubject))
	e.Use(middleware.SecurityHeaders(apiPrefix, cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(metricsProvider.MetricsMiddleware())
	e.Use(auth.Authenticate(auth.AuthenticateConfig{
		Sessions:      sessions,
		Gateway:       gateway,
		APIPrefix:     apiPrefix,
		SecureCookies: cfg.SecureCookies(),
		Logger:        logger,
		Metrics:       authMetrics,
		Skipper:       auth.SkipPublicPaths,
	}))

	// Operations
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.GET("/metrics", metricsProvider.Handler())

	// Browser login, invitations and logout
	auth.NewOAuthHandler(oidc, sessions, provisioner, invitations, store, auditLog,
		auth.OAuthConfig{Origin: cfg.Origin, SecureCookies: cfg.SecureCookies()}, logger, authMetrics).RegisterRoutes(e)

	// Domain services
	hospitalSvc := hospital.NewService(hospital.NewRepoPG(pool), invitations, auditLog, cfg.Origin)
	apiClientSvc := apiclient.NewService(apiclient.NewRepoPG(pool), kcAdmin, store, auditLog, logger)
	patientSvc := patient.NewService(patient.NewRepoPG(pool), auditLog)
	carePlanSvc := careplan.NewService(careplan.NewRepoPG(pool), patientSvc, store, auditLog)

	hospitalHandler := hospital.NewHandler(hospitalSvc)
	apiClientHandler := apiclient.NewHandler(apiClientSvc)
	auditLogHandler := auditlog.NewHandler(auditLog)

	// Service administration
	admin := e.Group("/admin", auth.RequireServiceAdmin())
	hospitalHandler.RegisterAdminRoutes(admin)
	apiClientHandler.RegisterAdminRoutes(admin)
	auditLogHandler.RegisterAdminRoutes(admin)

	// Machine API
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	rateLimitCfg.KeyFunc = apiClientKey
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	hospital.NewAPIHandler(hospitalSvc).RegisterRoutes(apiV1)

	// Hospital workspace; registered last so static prefixes win
	tenant := e.Group("/:hospitalSlug", auth.RequireUser(), auth.RequireHospital(store, sessions, logger))
	hospitalHandler.RegisterHospitalRoutes(tenant)
	apiClientHandler.RegisterHospitalRoutes(tenant)
	auditLogHandler.RegisterHospitalRoutes(tenant)
	patient.NewHandler(patientSvc).RegisterRoutes(tenant)
	careplan.NewHandler(carePlanSvc).RegisterRoutes(tenant)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
