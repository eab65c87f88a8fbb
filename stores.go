package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/anatolio-deb/joinbot/internal/config"
	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/request"
	"github.com/anatolio-deb/joinbot/internal/store/memory"
	"github.com/anatolio-deb/joinbot/internal/store/postgres"
	"github.com/anatolio-deb/joinbot/internal/store/redisstore"
)

type stores struct {
	ledger   ledger.Store
	requests request.Store
	health   func(ctx context.Context) error
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using the in-memory store, subscriptions are lost on restart")
		return &stores{
			ledger:   memory.NewLedgerStore(),
			requests: memory.NewRequestStore(),
			close:    func() {},
		}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return &stores{
			ledger:   redisstore.NewLedgerStore(client, cfg.RedisPrefix),
			requests: redisstore.NewRequestStore(client, cfg.RedisPrefix),
			health: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			close: func() {
				if err := client.Close(); err != nil {
					log.WithError(err).Warn("close redis")
				}
			},
		}, nil

	default:
		db, err := postgres.Open(cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database handle: %w", err)
		}
		return &stores{
			ledger:   postgres.NewLedgerStore(db),
			requests: postgres.NewRequestStore(db),
			health:   sqlDB.PingContext,
			close: func() {
				if err := sqlDB.Close(); err != nil {
					log.WithError(err).Warn("close database")
				}
			},
		}, nil
	}
}
