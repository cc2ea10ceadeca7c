package container

import (
	"context"
	"errors"
	"fmt"

	"fipe/lookup/internal/client"
	"fipe/lookup/internal/config"
	"fipe/lookup/internal/proxy"
	"fipe/lookup/internal/queue"
	"fipe/lookup/internal/repository"
	"fipe/lookup/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var ErrNoDatabase = errors.New("database is disabled, proposals cannot be refreshed")

// Container holds all initialized components
type Container struct {
	Config     *config.Config
	Client     client.FipeClient
	Repository repository.ProposalRepository
	Queue      queue.Queue

	Service *service.Service

	db *pgxpool.Pool
}

// New creates a new container with all dependencies initialized
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	// Initialize ProxySupplier
	probeURL, probeHeaders := client.ProbeRequest(cfg.Fipe)
	proxySupplier, err := proxy.NewProxySupplier(ctx, cfg.Fipe.Proxies, probeURL, probeHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize proxy supplier: %w", err)
	}
	if len(cfg.Fipe.Proxies) > 0 && proxySupplier.Len() == 0 {
		log.Warnf("⚠️ None of the %d configured proxies reach the catalog, going direct", len(cfg.Fipe.Proxies))
	}

	fipeClient := client.NewFipeClient(cfg.Fipe, proxySupplier)
	container.Client = fipeClient

	// Initialize repository
	if cfg.Database.Enabled {
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			fipeClient.Close()
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			fipeClient.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("✅ Connected to PostgreSQL successfully")

		container.db = db
		container.Repository = repository.NewProposalRepository(db)
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})

		// Test connection
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			rdb.Close()
			container.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("✅ Connected to Redis successfully")

		redisQueue, err := queue.NewRedisQueue(ctx, rdb, cfg.Redis)
		if err != nil {
			rdb.Close()
			container.Close()
			return nil, err
		}
		container.Queue = redisQueue
	}

	container.Service = service.NewService(
		container.Repository,
		fipeClient,
		container.Queue,
		cfg.Refresh.MaxWorkers,
		cfg.Refresh.MaxRetries,
		cfg.Redis.MinIdleTime,
	)

	log.Infof("✅ FIPE client ready (api %s, %s)", cfg.Fipe.APIVersion, cfg.Fipe.ActiveBaseURL())

	return container, nil
}

// Run probes the catalog, then refreshes the configured proposals. With Redis
// enabled the proposals are enqueued and workers consume the refresh streams
// until ctx is cancelled.
func (c *Container) Run(ctx context.Context) error {
	if err := c.Service.Probe(ctx); err != nil {
		return fmt.Errorf("catalog probe failed: %w", err)
	}

	ids := c.Config.Refresh.ProposalIDs
	if c.Queue == nil && len(ids) == 0 {
		log.Info("No proposals configured for refresh")
		return nil
	}
	if c.Repository == nil {
		return ErrNoDatabase
	}

	if c.Queue == nil {
		return c.Service.RefreshAll(ctx, ids)
	}

	if len(ids) > 0 {
		if err := c.Service.Enqueue(ctx, ids...); err != nil {
			return err
		}
	}
	return c.Service.RunWorkers(ctx, c.Config.Refresh.MaxWorkers)
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	if c.db != nil {
		c.db.Close()
	}
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			log.Warnf("⚠️ Failed to close Redis: %v", err)
		}
	}
	if err := c.Client.Close(); err != nil {
		return err
	}

	log.Info("Container shut down successfully")
	return nil
}
