package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatcore/internal/config"
	"chatcore/internal/domain"
	"chatcore/internal/httpserver"
	"chatcore/internal/queue"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/store/postgres"
	"chatcore/internal/store/sqlite"
	"chatcore/internal/token"
	"chatcore/internal/ws"
)

type repos struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	participants  domain.ParticipantRepository
}

func openStore(cfg *config.Config) (*sql.DB, repos, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DBDSN)
		if err != nil {
			return nil, repos{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			return nil, repos{}, err
		}
		return db, repos{
			users:         postgres.NewUserRepo(db),
			conversations: postgres.NewConversationRepo(db),
			messages:      postgres.NewMessageRepo(db),
			participants:  postgres.NewParticipantRepo(db),
		}, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.DBDSN)
		if err != nil {
			return nil, repos{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			return nil, repos{}, err
		}
		return db, repos{
			users:         sqlite.NewUserRepo(db),
			conversations: sqlite.NewConversationRepo(db),
			messages:      sqlite.NewMessageRepo(db),
			participants:  sqlite.NewParticipantRepo(db),
		}, nil
	default:
		return nil, repos{}, fmt.Errorf("unsupported DB driver %q", cfg.DBDriver)
	}
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, rp, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open store")
	}
	defer db.Close()

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("init encryptor")
	}

	// Probe Redis once at startup; a failed probe degrades to the
	// in-memory queue for the life of the process.
	var redisOpts *redis.Options
	if cfg.RedisAddr != "" {
		redisOpts = &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
	}
	q := queue.Select(context.Background(), redisOpts, cfg.QueueProbeTimeout, logger)

	hub := ws.NewHub()

	chatSvc := service.NewChatService(rp.conversations, rp.participants, rp.messages, rp.users, q, hub, encryptor, logger)
	authSvc := service.NewAuthService(rp.users, tokenSvc, passwordHasher)
	linkSvc := service.NewSecureLinkService(token.NewCodec(cfg.ChatSecretKey), chatSvc, cfg.BaseURL, cfg.ChatURLExpiration(), logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := queue.NewWorker(q, chatSvc, cfg.DrainBatchSize, cfg.DrainInterval, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	router := httpserver.NewRouter(httpserver.Deps{
		Cfg:    cfg,
		Users:  rp.users,
		Auth:   authSvc,
		Chat:   chatSvc,
		Links:  linkSvc,
		Tokens: tokenSvc,
		Hub:    hub,
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr()).Str("driver", cfg.DBDriver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// Stop the worker after the HTTP surface is closed; Run performs a
	// final drain before returning.
	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("worker did not finish final drain in time")
	}
}
