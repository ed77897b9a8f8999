// Package app holds the long-lived services shared by every feed session and
// builds sessions from them.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/cache"
	"github.com/JakeFAU/tagfeed/internal/config"
	"github.com/JakeFAU/tagfeed/internal/content"
	"github.com/JakeFAU/tagfeed/internal/extract"
	"github.com/JakeFAU/tagfeed/internal/feed"
	collyfetcher "github.com/JakeFAU/tagfeed/internal/fetcher/colly"
	"github.com/JakeFAU/tagfeed/internal/index"
	"github.com/JakeFAU/tagfeed/internal/metrics"
	"github.com/JakeFAU/tagfeed/internal/policy/ratelimit"
	"github.com/JakeFAU/tagfeed/internal/session"
)

// App is the dependency container for the tagfeed commands.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	index   *index.Loader
	content *content.Loader
	redis   *redis.Client
}

// New wires the fetcher, extractor and loaders described by cfg.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	var fetcher feed.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	if cfg.HTTP.RateLimitRPS > 0 {
		fetcher = ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
			RPS:   cfg.HTTP.RateLimitRPS,
			Burst: cfg.HTTP.RateLimitBurst,
		}))
	}
	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		var err error
		redisClient, fetcher, err = withPageCache(cfg.Cache, fetcher, logger)
		if err != nil {
			return nil, err
		}
	}
	extractor := extract.New(cfg.ExtractorConfig())

	idx, err := index.New(cfg.IndexConfig(), fetcher, extractor, logger)
	if err != nil {
		closeRedis(redisClient)
		return nil, fmt.Errorf("init index loader: %w", err)
	}
	cnt, err := content.New(fetcher, extractor, logger)
	if err != nil {
		closeRedis(redisClient)
		return nil, fmt.Errorf("init content loader: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("base_url", cfg.Feed.BaseURL),
		zap.Float64("rate_limit_rps", cfg.HTTP.RateLimitRPS),
		zap.Bool("respect_robots", cfg.HTTP.RespectRobots),
		zap.Bool("page_cache", cfg.Cache.Enabled),
	)
	return &App{cfg: cfg, logger: logger, index: idx, content: cnt, redis: redisClient}, nil
}

// withPageCache connects to Redis and puts the page cache in front of next,
// so cache hits skip the rate limiter.
func withPageCache(cfg config.CacheConfig, next feed.Fetcher, logger *zap.Logger) (*redis.Client, feed.Fetcher, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeRedis(client)
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	store, err := cache.NewStore(client, cfg.Prefix)
	if err != nil {
		closeRedis(client)
		return nil, nil, fmt.Errorf("init page cache: %w", err)
	}
	return client, cache.Wrap(next, store, cfg.TTL, logger), nil
}

func closeRedis(client *redis.Client) {
	if client != nil {
		_ = client.Close()
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// NewSession builds an unstarted session for mount using the shared loaders.
func (a *App) NewSession(mount session.Mount) (*session.Session, error) {
	s, err := session.New(a.cfg.SessionConfig(mount), session.Dependencies{
		Index:   a.index,
		Content: a.content,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return s, nil
}

// Close releases the Redis client and flushes the logger.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	// Sync fails on terminals with ENOTTY/EINVAL; nothing useful to do with it.
	_ = a.logger.Sync()
}
