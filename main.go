package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-im/messenger/internal/api"
	"github.com/nexus-im/messenger/internal/auth"
	"github.com/nexus-im/messenger/internal/config"
	"github.com/nexus-im/messenger/internal/database"
	"github.com/nexus-im/messenger/internal/observability"
	"github.com/nexus-im/messenger/internal/ratelimit"
	"github.com/nexus-im/messenger/store/chat"
	"github.com/nexus-im/messenger/store/conversation"
	"github.com/nexus-im/messenger/store/membership"
	"github.com/nexus-im/messenger/store/message"
	"github.com/nexus-im/messenger/store/user"
)

var addr = flag.String("addr", "", "http service address (overrides ADDR)")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	log := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	db, err := database.Open(ctx, database.Options{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("closing db", "error", err)
		}
	}()
	log.Info("connected to database")

	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("schema up to date")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, sends are not throttled until it answers", "addr", cfg.RedisAddr, "error", err)
		}
		limiter = ratelimit.New(rdb, log, cfg.SendRateLimit, cfg.SendRateWindow)
	}

	metrics := observability.NewMetrics(db.DB)
	dispatcher := api.NewDispatcher(log, api.Stores{
		Chats:         chat.NewSQLStore(db),
		Members:       membership.NewSQLStore(db),
		Messages:      message.NewSQLStore(db, cfg.MaxContentLength),
		Conversations: conversation.NewSQLStore(db),
	}, limiter, metrics)

	server := api.NewServer(api.ServerOptions{
		Dispatcher:  dispatcher,
		Users:       user.NewSQLStore(db),
		Tokens:      auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL),
		DB:          db,
		Metrics:     metrics.Handler(),
		AllowOrigin: cfg.CORSAllowedOrigin,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("listen and serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	server.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
