package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	currencyVersionKey = "treasury:currency:version"
	currencyLoadLimit  = 5 * time.Second
)

// CurrencySource loads currency master rows on a cache miss. It must not be
// bound to a request transaction: loads run on their own goroutine and are
// shared by every caller waiting on the same key.
type CurrencySource interface {
	GetCurrencyByID(ctx context.Context, id int64) (Currency, error)
	FindCurrency(ctx context.Context, codeOrName string) (Currency, error)
}

// CurrencyCache keeps currency master rows in Redis. It is long lived and
// shared across requests; per-request stores are wrapped with Wrap.
type CurrencyCache struct {
	client *redis.Client
	source CurrencySource
	ttl    time.Duration
	group  singleflight.Group
}

// NewCurrencyCache instantiates the cache over a pool backed source. A nil
// client or source disables caching.
func NewCurrencyCache(client *redis.Client, source CurrencySource, ttl time.Duration) *CurrencyCache {
	return &CurrencyCache{client: client, source: source, ttl: ttl}
}

// Wrap returns a Store that serves currency lookups through the cache and
// delegates everything else to store.
func (c *CurrencyCache) Wrap(store Store) Store {
	if c == nil || c.client == nil || c.source == nil {
		return store
	}
	return &CachedCurrencyStore{Store: store, cache: c}
}

// Bump invalidates every cached currency row.
func (c *CurrencyCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, currencyVersionKey).Err()
}

func (c *CurrencyCache) key(ctx context.Context, parts ...string) (string, error) {
	ver, err := c.client.Get(ctx, currencyVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 1
		if err := c.client.SetNX(ctx, currencyVersionKey, ver, 0).Err(); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("treasury:currency:%s:%d", strings.Join(parts, ":"), ver), nil
}

func (c *CurrencyCache) fetch(ctx context.Context, key string, loader func(context.Context) (Currency, error)) (Currency, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cur Currency
		if err := json.Unmarshal(payload, &cur); err == nil {
			return cur, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), currencyLoadLimit)
		defer cancel()
		cur, err := loader(loadCtx)
		if err != nil {
			return Currency{}, err
		}
		if raw, err := json.Marshal(cur); err == nil {
			_ = c.client.Set(loadCtx, key, raw, c.ttl).Err()
		}
		return cur, nil
	})
	select {
	case <-ctx.Done():
		return Currency{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Currency{}, res.Err
		}
		return res.Val.(Currency), nil
	}
}

// CachedCurrencyStore is a Store whose currency reads go through Redis. Misses
// load from the cache's source, never from the wrapped store.
type CachedCurrencyStore struct {
	Store
	cache *CurrencyCache
}

// GetCurrencyByID serves the lookup from the cache when possible.
func (s *CachedCurrencyStore) GetCurrencyByID(ctx context.Context, id int64) (Currency, error) {
	key, err := s.cache.key(ctx, "id", strconv.FormatInt(id, 10))
	if err != nil {
		return s.Store.GetCurrencyByID(ctx, id)
	}
	return s.cache.fetch(ctx, key, func(ctx context.Context) (Currency, error) {
		return s.cache.source.GetCurrencyByID(ctx, id)
	})
}

// FindCurrency serves the lookup from the cache when possible.
func (s *CachedCurrencyStore) FindCurrency(ctx context.Context, codeOrName string) (Currency, error) {
	key, err := s.cache.key(ctx, "find", strings.ToUpper(codeOrName))
	if err != nil {
		return s.Store.FindCurrency(ctx, codeOrName)
	}
	return s.cache.fetch(ctx, key, func(ctx context.Context) (Currency, error) {
		return s.cache.source.FindCurrency(ctx, codeOrName)
	})
}
