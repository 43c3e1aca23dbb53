package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// LinkCache remembers the links scraped from a search page for a short time,
// so a preview followed by an upload for the same search scrapes once.
type LinkCache interface {
	Get(ctx context.Context, pageURL string) ([]string, bool, error)
	Set(ctx context.Context, pageURL string, links []string) error
	Close() error
}

type linkCache struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewLinkCache(log *logger.Logger, addr string, ttl time.Duration) (LinkCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &linkCache{
		log:    log.With("service", "RedisLinkCache"),
		rdb:    rdb,
		prefix: "mangalytics:links:",
		ttl:    ttl,
	}, nil
}

func (c *linkCache) key(pageURL string) string {
	return c.prefix + Key(pageURL)
}

// Key hashes a page URL into a fixed-length cache key.
func Key(pageURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(pageURL)))
	return hex.EncodeToString(sum[:16])
}

func (c *linkCache) Get(ctx context.Context, pageURL string) ([]string, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(pageURL)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var links []string
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, false, err
	}
	return links, true, nil
}

func (c *linkCache) Set(ctx context.Context, pageURL string, links []string) error {
	raw, err := json.Marshal(links)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(pageURL), raw, c.ttl).Err()
}

func (c *linkCache) Close() error {
	return c.rdb.Close()
}
