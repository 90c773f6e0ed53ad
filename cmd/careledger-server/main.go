package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careledger/careledger/internal/config"
	"github.com/careledger/careledger/internal/domain/access"
	"github.com/careledger/careledger/internal/domain/audit"
	"github.com/careledger/careledger/internal/domain/breakglass"
	"github.com/careledger/careledger/internal/domain/consent"
	"github.com/careledger/careledger/internal/domain/sensitivity"
	"github.com/careledger/careledger/internal/platform/auth"
	"github.com/careledger/careledger/internal/platform/crypto"
	"github.com/careledger/careledger/internal/platform/db"
	"github.com/careledger/careledger/internal/platform/metrics"
	"github.com/careledger/careledger/internal/platform/middleware"
	"github.com/careledger/careledger/internal/platform/redis"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careledger-server",
		Short: "Clinical records compliance API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(verifyLedgerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func verifyLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-ledger",
		Short: "Walk the audit chain and verify every hash link",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetInt64("from")
			to, _ := cmd.Flags().GetInt64("to")
			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			ledger := audit.NewLedger(audit.NewPGRepo(pool), nil, logger)
			report, err := ledger.VerifyRange(ctx, from, to)
			if err != nil {
				return fmt.Errorf("verify chain: %w", err)
			}

			fmt.Printf("Checked %d event(s) in range [%d, %d].\n", report.Checked, report.FromSeq, report.ToSeq)
			if !report.Valid {
				if report.FirstDivergence != nil {
					fmt.Printf("INTEGRITY VIOLATION: chain diverges at seq %d.\n", *report.FirstDivergence)
				}
				return fmt.Errorf("ledger integrity check failed")
			}
			fmt.Println("Ledger integrity verified.")
			return nil
		},
	}
	cmd.Flags().Int64("from", 1, "First sequence number to verify")
	cmd.Flags().Int64("to", 0, "Last sequence number to verify (0 = chain end)")
	return cmd
}

// resolveEncryptionCipher builds the audit value cipher from a hex-encoded
// key. An empty key yields an ephemeral random key, which keeps development
// setups working but makes envelopes unreadable after a restart.
func resolveEncryptionCipher(hexKey string) (*crypto.Cipher, bool, error) {
	if hexKey == "" {
		key, err := crypto.RandomKey()
		if err != nil {
			return nil, false, fmt.Errorf("generate encryption key: %w", err)
		}
		cipher, err := crypto.NewCipher(key)
		if err != nil {
			return nil, false, err
		}
		return cipher, true, nil
	}

	if _, err := hex.DecodeString(hexKey); err != nil {
		return nil, false, fmt.Errorf("AUDIT_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	cipher, err := crypto.NewCipherFromHex(hexKey)
	if err != nil {
		return nil, false, err
	}
	return cipher, false, nil
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	cipher, generated, err := resolveEncryptionCipher(cfg.AuditEncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize field encryption")
	}
	if generated {
		logger.Warn().Msg("AUDIT_ENCRYPTION_KEY not set; using an ephemeral key, encrypted values will not survive a restart")
	}

	m := metrics.New(nil)

	ledger := audit.NewLedger(audit.NewPGRepo(pool), cipher, logger)
	ledger.SetMetrics(m)

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	var limiter breakglass.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()
		limiter = breakglass.NewRedisLimiter(redisClient, cfg.BreakGlassMaxPerHour, time.Hour)
		logger.Info().Msg("connected to redis")
	} else {
		ml := breakglass.NewMemoryLimiter(cfg.BreakGlassMaxPerHour, time.Hour)
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for now := range ticker.C {
				ml.Cleanup(now)
			}
		}()
		limiter = ml
	}

	bgSvc := breakglass.NewService(breakglass.NewPGRepo(pool), ledger, limiter, cfg.BreakGlassTTL, logger)
	bgSvc.SetMetrics(m)

	tagSvc := sensitivity.NewService(sensitivity.NewPGRepo(pool))
	consentSvc := consent.NewService(consent.NewPGRepo(pool), ledger, logger)

	engine := access.NewEngine(tagSvc, consentSvc, bgSvc, ledger, logger)
	engine.SetMetrics(m)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(m.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		logger.Warn().Msg("development mode: requests are authenticated as dev-user")
		e.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.JWTSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.JWTSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	api.Use(middleware.RequestAudit(ledger, logger))

	audit.NewHandler(ledger).RegisterRoutes(api)
	breakglass.NewHandler(bgSvc).RegisterRoutes(api)
	consent.NewHandler(consentSvc).RegisterRoutes(api)
	sensitivity.NewHandler(tagSvc).RegisterRoutes(api)
	access.NewHandler(engine).RegisterRoutes(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	go func() {
		addr := ":" + cfg.Port
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Bool("tls", cfg.TLSEnabled).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
