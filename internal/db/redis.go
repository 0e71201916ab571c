package db

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"keyvex/internal/logging"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisConfig describes the Redis deployment behind the TCC mirror.
// A single address is a standalone server, several addresses a cluster, and
// a MasterName turns the addresses into sentinels.
type RedisConfig struct {
	URL        string // redis:// or rediss://, wins over Addrs
	Addrs      []string
	MasterName string
	Password   string
	DB         int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PingInterval is how often the background watcher pings. Zero disables it.
	PingInterval time.Duration
}

// RedisConfigFromEnv reads REDIS_URL, REDIS_ADDRS (comma separated),
// REDIS_SENTINEL_MASTER, REDIS_PASSWORD, REDIS_DB and REDIS_POOL_SIZE.
func RedisConfigFromEnv() *RedisConfig {
	cfg := &RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		MasterName:   os.Getenv("REDIS_SENTINEL_MASTER"),
		Password:     os.Getenv("REDIS_PASSWORD"),
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PingInterval: 30 * time.Second,
	}
	for _, addr := range strings.Split(os.Getenv("REDIS_ADDRS"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			cfg.Addrs = append(cfg.Addrs, addr)
		}
	}
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.DB = n
	}
	if n, err := strconv.Atoi(os.Getenv("REDIS_POOL_SIZE")); err == nil && n > 0 {
		cfg.PoolSize = n
	}
	return cfg
}

// universalOptions folds the URL form into go-redis' universal options.
func (c *RedisConfig) universalOptions() (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Addrs:        c.Addrs,
		MasterName:   c.MasterName,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts.Addrs = []string{parsed.Addr}
		opts.MasterName = ""
		opts.Username = parsed.Username
		opts.Password = parsed.Password
		opts.DB = parsed.DB
		opts.TLSConfig = parsed.TLSConfig
	}
	if len(opts.Addrs) == 0 {
		opts.Addrs = []string{"localhost:6379"}
	}
	return opts, nil
}

func redisMode(opts *redis.UniversalOptions) string {
	switch {
	case opts.MasterName != "":
		return "sentinel"
	case len(opts.Addrs) > 1:
		return "cluster"
	default:
		return "standalone"
	}
}

// RedisClient owns a go-redis client and an optional ping watcher.
type RedisClient struct {
	client redis.UniversalClient
	mode   string

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisClient connects and pings once. A nil config reads the environment.
func NewRedisClient(cfg *RedisConfig) (*RedisClient, error) {
	if cfg == nil {
		cfg = RedisConfigFromEnv()
	}
	opts, err := cfg.universalOptions()
	if err != nil {
		return nil, err
	}

	rc := &RedisClient{
		client: redis.NewUniversalClient(opts),
		mode:   redisMode(opts),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.client.Ping(ctx).Err(); err != nil {
		_ = rc.client.Close()
		return nil, fmt.Errorf("failed to connect to redis (%s): %w", rc.mode, err)
	}

	if cfg.PingInterval > 0 {
		go rc.watch(cfg.PingInterval)
	} else {
		close(rc.done)
	}

	logging.L().Info("redis connected", zap.String("mode", rc.mode), zap.Strings("addrs", opts.Addrs))
	return rc, nil
}

// watch logs when the server stops answering and again when it recovers.
func (rc *RedisClient) watch(every time.Duration) {
	defer close(rc.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-rc.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := rc.client.Ping(ctx).Err()
			cancel()
			switch {
			case err != nil && healthy:
				logging.L().Warn("redis ping failed, tcc mirror degraded", zap.Error(err))
				healthy = false
			case err == nil && !healthy:
				logging.L().Info("redis reachable again")
				healthy = true
			}
		}
	}
}

// Client returns the underlying client for the TCC mirror.
func (rc *RedisClient) Client() redis.UniversalClient { return rc.client }

// Mode is standalone, cluster or sentinel.
func (rc *RedisClient) Mode() string { return rc.mode }

func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close stops the watcher and closes the connection pool.
func (rc *RedisClient) Close() error {
	var err error
	rc.closeOnce.Do(func() {
		close(rc.stop)
		<-rc.done
		err = rc.client.Close()
	})
	return err
}
