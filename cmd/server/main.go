// SHSH Chat - presence-aware encrypted messaging relay
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/shsh-chat/internal/api"
	"github.com/ashureev/shsh-chat/internal/chat"
	"github.com/ashureev/shsh-chat/internal/codec"
	"github.com/ashureev/shsh-chat/internal/config"
	"github.com/ashureev/shsh-chat/internal/delivery"
	"github.com/ashureev/shsh-chat/internal/gateway"
	"github.com/ashureev/shsh-chat/internal/health"
	"github.com/ashureev/shsh-chat/internal/identity"
	"github.com/ashureev/shsh-chat/internal/middleware"
	"github.com/ashureev/shsh-chat/internal/presence"
	"github.com/ashureev/shsh-chat/internal/registry"
	"github.com/ashureev/shsh-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	healthChecks := map[string]health.Pinger{"database": repo}
	httpChecks := map[string]api.Pinger{"database": repo}

	var presenceDir store.UserDirectory = repo
	if cfg.RedisURL != "" {
		mirror, err := store.NewRedisPresence(ctx, cfg.RedisURL, repo)
		if err != nil {
			slog.Warn("Redis unavailable, presence mirror disabled", "error", err)
		} else {
			defer func() {
				if closeErr := mirror.Close(); closeErr != nil {
					slog.Error("Failed to close redis", "error", closeErr)
				}
			}()
			presenceDir = mirror
			healthChecks["redis"] = mirror
			httpChecks["redis"] = mirror
			slog.Info("Redis presence mirror enabled")
		}
	}

	cipher, err := codec.New(cfg.Key)
	if err != nil {
		slog.Error("Failed to initialize message codec", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	reg := registry.New(cfg.PushTimeout, logger)
	tracker := presence.NewTracker(reg, presenceDir, logger)
	router := chat.NewRouter(repo, cipher, delivery.NewMachine(repo, logger), reg, logger)
	typing := chat.NewTypingRelay(reg)

	// Initialize handlers.
	apiHandler := api.NewHandler(router, repo)
	healthHandler := api.NewHealthHandler(httpChecks)
	wsHandler := gateway.NewWebSocketHandler(router, typing, tracker, reg, gateway.Options{
		AllowedOrigin:   cfg.FrontendURL,
		IsDev:           cfg.IsDevelopment(),
		QueueSize:       cfg.SendQueueSize,
		EventsPerSecond: cfg.EventsPerSecond,
		EventBurst:      cfg.EventBurst,
	})
	auth := identity.Middleware(identity.NewJWTVerifier(cfg.JWTSecret), repo, tracker)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		healthHandler.RegisterHealth(r)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			apiHandler.RegisterRoutes(r)
		})
	})

	// WebSocket endpoint.
	r.With(auth).Get("/ws", wsHandler.ServeHTTP)

	// Create server.
	// Websocket sessions are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start presence sweeper.
	tracker.StartSweeper(ctx, cfg.PresenceSweepInterval)

	// Start gRPC health service.
	healthSrv := health.NewServer(healthChecks, 0, logger)
	healthSrv.Start(ctx)
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := healthSrv.Serve(grpcLis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthSrv.Stop()
	for _, conn := range reg.Snapshot() {
		_ = conn.Close("server shutting down")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
