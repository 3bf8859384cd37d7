package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mocko-designs/gateway/internal/config"
	"github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/middleware"
	"github.com/mocko-designs/gateway/internal/server"
	"github.com/mocko-designs/gateway/internal/services/oidc"
	"github.com/mocko-designs/gateway/internal/supervisor"
	"github.com/mocko-designs/gateway/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const jwksRefreshInterval = 30 * time.Minute

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, zapLogger)
	stop()

	if err != nil {
		zapLogger.Error("gateway_exited_with_error", zap.Error(err))
		_ = logger.Sync(zapLogger)
		os.Exit(1)
	}
	zapLogger.Info("server_exited")
	_ = logger.Sync(zapLogger)
}

// run serves until ctx is cancelled, the listener fails, or a supervised
// background task gives up
func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	zapLogger.Info("starting_server",
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("design", upstreamOrUnset(cfg.DesignURL)),
		zap.String("upload", upstreamOrUnset(cfg.UploadURL)),
		zap.String("subscription", upstreamOrUnset(cfg.SubscriptionURL)),
		zap.String("rate_limit", cfg.RateLimit),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	if cfg.OTELEnabled {
		tp, err := telemetry.InitTracer(ctx, telemetry.ServiceName, cfg.OTELEndpoint)
		if err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := middleware.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		zapLogger.Info("connected_to_redis")
	}
	store, err := middleware.NewRateLimitStore(redisClient)
	if err != nil {
		return err
	}

	jwksManager := oidc.NewJWKSManager()
	if _, err := jwksManager.GetJWKS(ctx, cfg.JWKSURL); err != nil {
		// Verification retries the fetch per request
		zapLogger.Warn("initial_jwks_fetch_failed", zap.String("jwks_url", cfg.JWKSURL), zap.Error(err))
	}
	verifier := oidc.NewVerifier(jwksManager, cfg.JWKSURL, cfg.GoogleClientID, cfg.TokenIssuers)

	handler, router, err := server.New(server.Deps{
		Config:         cfg,
		Logger:         zapLogger,
		Verifier:       verifier,
		RateLimitStore: store,
		Redis:          redisClient,
	})
	if err != nil {
		return err
	}
	for _, route := range router.Routes() {
		zapLogger.Info("route_registered",
			zap.String("prefix", route.Prefix),
			zap.String("service", route.ServiceName),
			zap.Bool("configured", route.Configured()),
			zap.String("body_mode", route.BodyMode.String()),
		)
	}

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	jwksFailed := supervisor.Go(bgCtx, zapLogger, "jwks_refresh", func(ctx context.Context) error {
		return jwksManager.Run(ctx, cfg.JWKSURL, jwksRefreshInterval, func(err error) {
			zapLogger.Warn("jwks_refresh_failed", zap.String("jwks_url", cfg.JWKSURL), zap.Error(err))
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          zap.NewStdLog(zapLogger),
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		zapLogger.Info("server_shutting_down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	case err, ok := <-jwksFailed:
		if ok {
			runErr = err
		}
	}

	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	return runErr
}

func upstreamOrUnset(baseURL string) string {
	if baseURL == "" {
		return "NOT CONFIGURED"
	}
	return baseURL
}
