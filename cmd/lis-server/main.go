package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/patholab/lis/internal/config"
	"github.com/patholab/lis/internal/domain/account"
	"github.com/patholab/lis/internal/domain/approval"
	"github.com/patholab/lis/internal/domain/cases"
	"github.com/patholab/lis/internal/domain/counter"
	"github.com/patholab/lis/internal/domain/statistics"
	"github.com/patholab/lis/internal/domain/ticket"
	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
	"github.com/patholab/lis/internal/platform/cache"
	"github.com/patholab/lis/internal/platform/calendar"
	"github.com/patholab/lis/internal/platform/db"
	"github.com/patholab/lis/internal/platform/events"
	"github.com/patholab/lis/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lis-server",
		Short:        "Pathology LIS case lifecycle API server",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(counterCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "lis").Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withPool loads configuration, opens the pool and runs fn. Used by the
// one-shot maintenance commands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LIS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)
				count, err := db.NewMigrator(pool).Up(ctx, cfg.DBSchema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool).Status(ctx, cfg.DBSchema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var in account.CreateUserInput
	var role string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (bootstraps the first administrator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Role = auth.Role(role)
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL())
				svc := account.NewService(account.NewUserRepoPG(pool), issuer, account.WithStoreTimeout(cfg.StoreTimeout()))
				u, err := svc.CreateUser(ctx, in)
				if err != nil {
					return err
				}
				fmt.Printf("Created %s user %s (%s)\n", u.Role, u.Email, u.ID)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&in.Email, "email", "", "Login email")
	createCmd.Flags().StringVar(&in.Name, "name", "", "Display name")
	createCmd.Flags().StringVar(&role, "role", string(auth.RoleAdministrator), "Role")
	createCmd.Flags().StringVar(&in.Password, "password", "", "Initial password")
	createCmd.Flags().StringVar(&in.PathologistCode, "pathologist-code", "", "Pathologist code (pathologists only)")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")

	cmd.AddCommand(createCmd)
	return cmd
}

func counterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect consecutive counters",
	}
	var key string
	var year int
	peekCmd := &cobra.Command{
		Use:   "peek",
		Short: "Show the next number a counter would issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svc := counter.NewService(counter.NewCounterRepoPG(pool), cfg.StoreTimeout())
				n, err := svc.Peek(ctx, key, year)
				if err != nil {
					return err
				}
				fmt.Printf("%s %d next: %d\n", key, year, n)
				return nil
			})
		},
	}
	peekCmd.Flags().StringVar(&key, "key", counter.KeyCase, "Counter key (case, approval or ticket)")
	peekCmd.Flags().IntVar(&year, "year", time.Now().Year(), "Counter year")
	cmd.AddCommand(peekCmd)
	return cmd
}

// deps are the process-wide collaborators shared by every handler.
type deps struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	cal    *calendar.Calendar
	cache  cache.Cache
	events events.Publisher
}

func newCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	holidays, err := cfg.HolidayDates()
	if err != nil {
		return nil, err
	}
	return calendar.New(loc, holidays...), nil
}

// newServer builds the echo instance with middleware and every route.
func newServer(d deps) *echo.Echo {
	cfg, logger := d.cfg, d.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	policy := auth.NewPolicy(cfg.ResidentCanSign)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL())
	tx := db.NewTransactor(d.pool)
	timeout := cfg.StoreTimeout()

	counterSvc := counter.NewService(counter.NewCounterRepoPG(d.pool), timeout)
	caseRepo := cases.NewCaseRepoPG(d.pool)
	caseSvc := cases.NewService(caseRepo, counterSvc, tx, cases.NewMachine(d.cal),
		cases.WithEvents(d.events),
		cases.WithLogger(logger.With().Str("component", "cases").Logger()),
		cases.WithStoreTimeout(timeout),
	)
	approvalSvc := approval.NewService(approval.NewApprovalRepoPG(d.pool), caseRepo, counterSvc, tx,
		approval.WithEvents(d.events),
		approval.WithLogger(logger.With().Str("component", "approval").Logger()),
		approval.WithStoreTimeout(timeout),
	)
	statsSvc := statistics.NewService(statistics.NewStatsRepoPG(d.pool), d.cal,
		statistics.WithCache(d.cache, cfg.AnalyticsCacheTTL()),
		statistics.WithLogger(logger.With().Str("component", "statistics").Logger()),
		statistics.WithStoreTimeout(timeout),
	)
	ticketSvc := ticket.NewService(ticket.NewTicketRepoPG(d.pool), counterSvc, tx,
		ticket.WithLogger(logger.With().Str("component", "ticket").Logger()),
		ticket.WithStoreTimeout(timeout),
	)
	accountSvc := account.NewService(account.NewUserRepoPG(d.pool), issuer,
		account.WithLogger(logger.With().Str("component", "account").Logger()),
		account.WithStoreTimeout(timeout),
	)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(auth.BearerMiddleware(issuer, accountSvc, auth.AuthSkipper))
	e.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(d.pool, cfg.DBSchema))

	api := e.Group("", db.ConnMiddleware(d.pool), middleware.Audit(logger))
	account.NewHandler(accountSvc, policy).RegisterRoutes(api)
	counter.NewHandler(counterSvc, policy).RegisterRoutes(api)
	statistics.NewHandler(statsSvc, policy).RegisterRoutes(api)
	cases.NewHandler(caseSvc, policy).RegisterRoutes(api)
	approval.NewHandler(approvalSvc, policy).RegisterRoutes(api)
	ticket.NewHandler(ticketSvc, policy).RegisterRoutes(api)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.Env)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	if cfg.CreateIndexesOnStartup {
		n, err := db.NewMigrator(pool).Up(ctx, cfg.DBSchema)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Int("applied", n).Msg("schema and indexes ensured")
	}

	cal, err := newCalendar(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid calendar settings")
	}

	var analytics cache.Cache = cache.Noop{}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "lis:")
		if err != nil {
			// the cache is advisory; run without it
			logger.Warn().Err(err).Msg("redis unavailable, analytics cache disabled")
		} else {
			analytics = rc
			logger.Info().Msg("analytics cache enabled")
		}
	}
	defer analytics.Close()

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("event publishing enabled")
	}
	defer publisher.Close()

	e := newServer(deps{cfg: cfg, logger: logger, pool: pool, cal: cal, cache: analytics, events: publisher})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
