package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/zhouzirui/agent-relay/internal/agent"
	"github.com/zhouzirui/agent-relay/internal/agent/ark"
	"github.com/zhouzirui/agent-relay/internal/agent/engine"
	"github.com/zhouzirui/agent-relay/internal/config"
	"github.com/zhouzirui/agent-relay/internal/service/relay"
	"github.com/zhouzirui/agent-relay/internal/service/session"
)

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	relay   *relay.Service
	closers []func() error
}

func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown cleanup failed")
		}
	}
}

// bootstrap loads configuration and assembles the relay service.
func bootstrap(ctx context.Context, envFile string) (*app, error) {
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	zlog.Logger = logger
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn().Err(envErr).Str("file", envFile).Msg("failed to load env file, continuing with system environment only")
	}

	a := &app{cfg: cfg, logger: logger}

	remote, err := newAgent(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, closeRegistry, err := newRegistry(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRegistry)

	a.relay = relay.NewService(remote, registry, relay.Options{
		DefaultUserID:  cfg.Agent.DefaultUserID,
		Validation:     relay.ValidationPolicy(cfg.Session.Validation),
		SessionTimeout: cfg.Agent.SessionTimeout,
		QueryTimeout:   cfg.Agent.QueryTimeout,
	}, logger.With().Str("component", "relay").Logger())

	logger.Info().
		Str("backend", cfg.Agent.Backend).
		Str("session_store", cfg.Session.Store).
		Str("session_validation", cfg.Session.Validation).
		Msg("relay service initialized")
	return a, nil
}

func newAgent(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (agent.Agent, error) {
	switch cfg.Agent.Backend {
	case config.BackendArk:
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		local, err := ark.New(ctx, chatModel, ark.Config{
			Instruction:  cfg.AI.Instruction,
			HistoryLimit: cfg.AI.HistoryLimit,
			ModelName:    cfg.AI.Model,
		}, logger.With().Str("component", "ark").Logger())
		if err != nil {
			return nil, err
		}
		logger.Info().Str("model", cfg.AI.Model).Msg("ark agent ready")
		return local, nil
	default:
		client, err := engine.New(ctx, cfg.Agent, engine.WithLogger(logger.With().Str("component", "agent-engine").Logger()))
		if err != nil {
			return nil, fmt.Errorf("failed to create agent engine client: %w", err)
		}
		logger.Info().Str("resource", cfg.Agent.ResourceName()).Msg("agent engine client ready")
		return client, nil
	}
}

func newRegistry(ctx context.Context, cfg config.SessionConfig) (session.Registry, func() error, error) {
	if cfg.Store != config.StoreRedis {
		return session.NewMemoryRegistry(cfg.Capacity), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	return session.NewRedisRegistry(client, cfg.TTL), client.Close, nil
}
