package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyforge/backend/ai"
	"storyforge/backend/internal/prompt"
	"storyforge/backend/internal/repository"
	"storyforge/backend/internal/service"
	"storyforge/backend/pkg/cache"
	"storyforge/backend/pkg/config"
	"storyforge/backend/pkg/health"
	"storyforge/backend/pkg/logger"
	"storyforge/backend/pkg/secrets"
	sharedredis "storyforge/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config

	Cache   cache.Store
	Redis   *sharedredis.RedisClient
	Secrets *secrets.VaultManager
	Gateway *ai.Gateway
	Health  *health.Checker

	Entities      repository.EntityRepository
	Templates     repository.TemplateRepository
	Conversations repository.ConversationRepository
	Catalog       repository.AIRepository

	Resolver       *prompt.Resolver
	ChatService    *service.ChatService
	CatalogService *service.CatalogService

	closers []func() error
}

// New creates a new dependency injection container
func New(db *gorm.DB, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}

	c := &Container{
		DB:     db,
		Logger: log,
		Config: cfg,
	}

	if cfg.Redis.Enabled {
		c.Redis = sharedredis.NewRedisClient(sharedredis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: "storyforge:",
		})
		c.Cache = c.Redis
		c.closers = append(c.closers, c.Redis.Close)
	} else {
		mem := cache.NewCache(cache.Options{
			DefaultExpiration: cfg.Cache.TTL,
			CleanupInterval:   cfg.Cache.PurgeWindow,
			MaxItems:          cfg.Cache.MaxSize,
		})
		c.Cache = mem
		c.closers = append(c.closers, func() error { mem.Close(); return nil })
	}

	vm, err := secrets.NewVaultManager(secrets.VaultConfig{
		Address:     cfg.Vault.Addr,
		Token:       cfg.Vault.Token,
		SecretsPath: cfg.Vault.Path,
		Enabled:     cfg.Vault.Enabled,
		MaxRetries:  2,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	c.Secrets = vm

	c.Gateway = ai.NewGateway(ai.Config{
		RequestTimeout:   cfg.Gateway.RequestTimeout,
		ConnectTimeout:   cfg.Gateway.ConnectTimeout,
		IdleTimeout:      cfg.Gateway.IdleTimeout,
		Retries:          cfg.Gateway.Retries,
		RetryDelay:       cfg.Gateway.RetryDelay,
		BreakerThreshold: uint(max(cfg.Gateway.BreakerThreshold, 1)),
		BreakerTimeout:   cfg.Gateway.BreakerTimeout,
	}, nil, log)

	c.Entities = repository.NewGormEntityRepository(db)
	c.Templates = repository.NewGormTemplateRepository(db)
	c.Conversations = repository.NewGormConversationRepository(db)
	c.Catalog = repository.NewGormAIRepository(db)

	c.Resolver = prompt.NewResolver(c.Entities)
	c.ChatService = service.NewChatService(
		c.Conversations,
		c.Catalog,
		prompt.NewAssembler(c.Templates, c.Resolver),
		c.Gateway,
		c.Secrets,
	)
	c.CatalogService = service.NewCatalogService(c.Catalog, c.Gateway, c.Secrets, c.Cache, cfg.Cache.TTL)

	c.Health = c.newHealthChecker()
	return c, nil
}

func (c *Container) newHealthChecker() *health.Checker {
	checker := health.NewChecker(c.Logger, 30*time.Second)

	checker.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.Redis != nil {
		checker.RegisterPingCheck("redis", c.Redis.Ping)
	}
	if c.Config.Vault.Enabled {
		checker.RegisterPingCheck("vault", c.Secrets.Ping)
	}
	checker.RegisterCheck("ai_gateway", false, func(context.Context) (health.Status, string, error) {
		if open := c.Gateway.OpenCircuits(); len(open) > 0 {
			return health.StatusDegraded, "circuit open for " + strings.Join(open, ", "), nil
		}
		return health.StatusUp, "all provider circuits closed", nil
	})
	return checker
}

// Close releases connections held by the container. The database is owned by the caller.
func (c *Container) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
