package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
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

	"github.com/telecare/intake/internal/config"
	"github.com/telecare/intake/internal/domain/intake"
	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/auth"
	"github.com/telecare/intake/internal/platform/backend"
	"github.com/telecare/intake/internal/platform/db"
	"github.com/telecare/intake/internal/platform/hipaa"
	"github.com/telecare/intake/internal/platform/middleware"
	"github.com/telecare/intake/internal/platform/payment"
	"github.com/telecare/intake/internal/platform/websocket"
	"github.com/telecare/intake/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-server",
		Short: "Telehealth intake and checkout server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(draftsCmd())
	rootCmd.AddCommand(layoutCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations, or dir when one is given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.Files
	}
	return os.DirFS(dir)
}

// connect loads the config and opens a pool. Maintenance commands always
// need Postgres, whatever DRAFT_STORE says.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Directory of *.sql migrations (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Directory of *.sql migrations (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrationSource(dir)); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "", "Directory of *.sql migrations (defaults to the embedded set)")

	cmd.AddCommand(createCmd)
	return cmd
}

func draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Maintain cached intake drafts",
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete drafts older than DRAFT_TTL for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx, release, err := db.AcquireTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()

			ctx, tx, err := db.WithTx(ctx)
			if err != nil {
				return err
			}
			cache := intake.NewDraftCache(intake.NewDraftStorePG(pool), intake.WithDraftTTL(cfg.DraftTTL))
			n, err := cache.Purge(ctx)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit purge: %w", err)
			}

			fmt.Printf("Purged %d expired draft(s) from tenant %s.\n", n, tenant)
			return nil
		},
	}
	purgeCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")

	cmd.AddCommand(purgeCmd)
	return cmd
}

func layoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Inspect questionnaire sequencing",
	}

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Sequence a questionnaire fixture and print the timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			asJSON, _ := cmd.Flags().GetBool("json")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			l, err := previewLayout(data)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(l)
			}
			printLayout(cmd.OutOrStdout(), l)
			return nil
		},
	}
	previewCmd.Flags().String("file", "", "Questionnaire fixture (JSON or YAML)")
	previewCmd.Flags().Bool("json", false, "Print the sequenced layout as JSON")

	cmd.AddCommand(previewCmd)
	return cmd
}

func previewLayout(data []byte) (questionnaire.Layout, error) {
	f, err := questionnaire.DecodeFixture(data)
	if err != nil {
		return questionnaire.Layout{}, err
	}
	return questionnaire.Substitute(questionnaire.Sequence(f.Input()), f.Variables), nil
}

func printLayout(w io.Writer, l questionnaire.Layout) {
	fmt.Fprintf(w, "%-5s %-18s %-14s %s\n", "INDEX", "KIND", "CATEGORY", "TITLE")
	for t := 0; t < l.Len(); t++ {
		slot, ok := l.Slot(t)
		if !ok {
			continue
		}
		if slot.Kind != questionnaire.SlotStep {
			fmt.Fprintf(w, "%-5d %-18s\n", t, slot.Kind)
			continue
		}
		st := l.Steps[slot.Step]
		category := string(st.Category)
		if category == "" {
			category = string(questionnaire.CategoryNormal)
		}
		fmt.Fprintf(w, "%-5d %-18s %-14s %s\n", t, slot.Kind, category, st.Title)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	var store intake.DraftStore
	if cfg.DraftStore == config.DraftStorePostgres {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		store = intake.NewDraftStorePG(pool)
	} else {
		logger.Warn().Msg("using in-memory draft store, drafts are lost on restart")
		store = intake.NewMemoryDraftStore()
	}

	sealer, err := hipaa.NewDraftSealer(cfg.DraftEncryptionKey, cfg.DraftPreviousKeys, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure draft encryption")
	}
	draftOpts := []intake.DraftCacheOption{
		intake.WithDraftTTL(cfg.DraftTTL),
		intake.WithDraftLogger(logger),
	}
	if sealer != nil {
		draftOpts = append(draftOpts, intake.WithSealer(sealer))
	}
	drafts := intake.NewDraftCache(store, draftOpts...)

	client := backend.New(cfg.BackendAPIURL,
		backend.WithAPIKey(cfg.BackendAPIKey),
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(logger),
	)

	var confirmer intake.PaymentConfirmer = payment.Simulated{}
	if cfg.StripeSecretKey != "" {
		confirmer = payment.NewStripeConfirmer(cfg.StripeSecretKey, logger)
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY is not set, payments are simulated")
	}

	hub := websocket.NewHub(logger)
	svc := intake.NewService(client, drafts, intake.NewOrchestrator(client, confirmer, logger),
		intake.WithPublisher(hub),
		intake.WithContactDebounce(cfg.ContactTrackingDebounce),
		intake.WithLogger(logger),
	)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if cfg.SessionIdleTimeout > 0 {
		go svc.RunSweeper(sweepCtx, time.Minute, cfg.SessionIdleTimeout)
	}

	e := newServer(cfg, logger, pool, svc, hub)

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
	stopSweeper()
	hub.BroadcastAll(websocket.Event{Type: "server_shutdown", Timestamp: time.Now()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance. pool is nil with the in-memory draft
// store.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, svc *intake.Service, hub *websocket.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimitCfg.Skipper = func(c echo.Context) bool {
		return auth.IsPublicPath(c.Path()) || c.Path() == "/ws"
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	patientAuth, adminAuth := authMiddleware(cfg)
	tenant := db.TenantMiddleware(pool, cfg.DefaultTenant)
	apiV1 := e.Group("/api/v1", patientAuth, tenant)
	admin := e.Group("/api/v1/admin", adminAuth, tenant)
	intake.NewHandler(svc).RegisterRoutes(apiV1, admin)

	websocket.NewHandler(hub, cfg.CORSOrigins, "intake-session/").RegisterRoutes(e.Group(""))

	return e
}

// authMiddleware returns the middleware for the patient routes, where a
// token is optional, and for the admin routes, where one is required. In
// development without any key source, patients are anonymous and admin
// requests get the development identity.
func authMiddleware(cfg *config.Config) (patient, admin echo.MiddlewareFunc) {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}

	noKeys := len(jwtCfg.SigningKey) == 0 && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == ""
	if cfg.ResolvedAuthMode() == "development" && noKeys {
		anonymous := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		return anonymous, auth.DevAuthMiddleware()
	}

	optional := jwtCfg
	optional.Optional = true
	return auth.JWTMiddleware(optional), auth.JWTMiddleware(jwtCfg)
}
