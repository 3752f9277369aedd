package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/riteshkumar/merchant-credit/internal/config"
	"github.com/riteshkumar/merchant-credit/internal/handler"
	"github.com/riteshkumar/merchant-credit/internal/ledger"
	"github.com/riteshkumar/merchant-credit/internal/notify"
	"github.com/riteshkumar/merchant-credit/internal/repository"
	"github.com/riteshkumar/merchant-credit/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	// Initialise logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Open the account store
	accountRepo, auditRepo, closer, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err.Error())
		os.Exit(1)
	}
	defer closer.Close()

	logger.Info("store ready", "driver", cfg.StoreDriver)

	ledgerClient := ledger.NewHTTPClient(ledger.Config{
		BaseURL:     cfg.LedgerURL,
		APIKey:      cfg.LedgerAPIKey,
		ExplorerURL: cfg.ExplorerURL,
		Timeout:     cfg.LedgerTimeout,
	}, logger)

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.SMTPHost != "" {
		notifiers = append(notifiers, notify.NewEmailNotifier(notify.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			SenderEmail: cfg.SenderEmail,
		}, logger))
	}

	creditService := service.NewCreditService(accountRepo, auditRepo, ledgerClient, notifiers,
		service.Treasury{
			Wallet: cfg.TreasuryWallet,
			Chain:  cfg.LedgerChain,
			Token:  cfg.LedgerToken,
		},
		cfg.MaxConflictRetries,
		logger,
	)

	// Setup routers. Owner-facing routes and internal hooks listen on
	// separate ports.
	router := handler.NewPublicRouter(creditService, logger)

	// Add health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	internalRouter := handler.NewInternalRouter(creditService, cfg.InternalAPIKey, logger)
	internalRouter.Use(loggingMiddleware(logger))

	// The write timeout leaves room for a slow ledger transfer
	servers := []*http.Server{
		newServer(cfg.ServerPort, router, cfg.LedgerTimeout),
		newServer(cfg.InternalPort, internalRouter, cfg.LedgerTimeout),
	}

	// Start servers in go routines
	for _, server := range servers {
		go func(server *http.Server) {
			logger.Info("starting server on " + server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("failed to start server", "addr", server.Addr, "error", err.Error())
				os.Exit(1)
			}
		}(server)
	}

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", "addr", server.Addr, "error", err.Error())
		}
	}

	logger.Info("server exited gracefully")
}

func newServer(port string, h http.Handler, ledgerTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: ledgerTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// openStore builds the account and audit repositories for the configured
// driver. The returned closer releases the underlying connection.
func openStore(cfg *config.Config, logger *slog.Logger) (repository.CreditAccountRepository, repository.AuditRepository, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverBolt:
		store, err := repository.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		store := repository.NewRedisStore(client)
		return store, store, client, nil

	default:
		db, err := connectDB(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("connected to database successfully")
		return repository.NewCreditAccountRepository(db), repository.NewAuditRepository(db), db, nil
	}
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Confirm connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// loggingMiddleware logs incoming HTTP requests
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
