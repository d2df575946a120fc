package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rpattn/replay/internal/api"
	"github.com/rpattn/replay/internal/app"
	"github.com/rpattn/replay/internal/config"
	"github.com/rpattn/replay/internal/db"
	"github.com/rpattn/replay/internal/logging"
	"github.com/rpattn/replay/internal/middleware"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		logging.New("info", "text").WithError(err).Fatal("Failed to load env files")
	}
	cfg, err := config.Load(os.Getenv("REPLAY_CONFIG_PATH"))
	if err != nil {
		logging.New("info", "text").WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()
	opts := app.Options{Redis: redisClient}

	stores := app.PostgresStores(conn)
	services, err := app.New(ctx, cfg, stores, opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to assemble services")
	}
	defer services.Close()

	runner := services.Runner(cfg, opts, logger)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(corsHandler.Handler)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.ActorMiddleware(stores.Actors))
		api.NewHandler(runner, services.WorkItems, services.Registry).Routes(r)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("Starting import server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Wait for a running import to finish.
	runner.Wait()
	logger.Info("Server exited")
}
