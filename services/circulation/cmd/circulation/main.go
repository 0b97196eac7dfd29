package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"libraryhub/internal/ratelimit"
	"libraryhub/internal/servicetoken"
	"libraryhub/internal/usertoken"
	"libraryhub/internal/util"
	"libraryhub/pkg/circulation"
	"libraryhub/pkg/events"
	"libraryhub/pkg/storage"
	"libraryhub/pkg/store"
	"libraryhub/services/circulation/internal/app"
	"libraryhub/services/circulation/internal/config"
	"libraryhub/services/circulation/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger("circulation", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("circulation exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	policyCfg, err := cfg.PolicyConfig()
	if err != nil {
		return err
	}
	policy, err := circulation.NewPolicy(policyCfg)
	if err != nil {
		return err
	}

	dataStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := dataStore.(io.Closer); ok {
		defer c.Close()
	}

	publisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var objects storage.ObjectStore
	if cfg.ReportsEnabled() {
		objects, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("init report storage: %w", err)
		}
	}

	appCore, err := app.New(app.Config{
		Store:           dataStore,
		Policy:          policy,
		Publisher:       publisher,
		Objects:         objects,
		ReportURLExpiry: cfg.ReportURLExpiry,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     cfg.JWTLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("init jwks verifier: %w", err)
	}

	var internalVerifier server.ServiceVerifier
	if cfg.InternalAuthEnabled() {
		keyPaths, err := servicetoken.ParseVerifyPublicKeys(cfg.InternalJWTVerifyPublicKeys)
		if err != nil {
			return fmt.Errorf("parse internal jwt verify public keys: %w", err)
		}
		v, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.InternalJWTPublicKeyPath,
			PublicKeyPaths: keyPaths,
			DefaultKeyID:   cfg.InternalJWTKeyID,
			Audience:       servicetoken.CirculationAudience,
			AllowedIssuers: cfg.CatalogIssuers,
		})
		if err != nil {
			return fmt.Errorf("init internal verifier: %w", err)
		}
		internalVerifier = v
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var limiter ratelimit.Limiter
	switch {
	case cfg.RateLimitPerMinute == 0:
	case cfg.RedisAddr != "":
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "libraryhub:circulation:ratelimit", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		defer l.Close()
		limiter = l
	default:
		l, err := ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute)
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		g.Go(func() error { return l.Run(gctx) })
		limiter = l
	}

	httpServer, err := server.New(server.Config{
		App:                appCore,
		TokenVerifier:      tokenVerifier,
		InternalVerifier:   internalVerifier,
		Limiter:            limiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("circulation server listening", "addr", addr, "events", cfg.EventsBackend, "reports", cfg.ReportsEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("circulation server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg config.FileConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("databaseURL not set, loans are kept in memory only")
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	return s, nil
}

func openPublisher(cfg config.FileConfig) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsRedis:
		p, err := events.NewRedisStreamPublisher(events.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventsStream,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis event publisher: %w", err)
		}
		return p, nil
	case config.EventsAMQP:
		p, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
		if err != nil {
			return nil, fmt.Errorf("init amqp event publisher: %w", err)
		}
		return p, nil
	default:
		return events.NopPublisher{}, nil
	}
}
