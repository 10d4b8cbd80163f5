package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"nftsales/internal/storage"

	"github.com/redis/go-redis/v9"
)

const (
	saleCacheVersionKey = "nftsales:sales:version"
	saleListKeyPrefix   = "nftsales:sales:v"
	saleKeyPrefix       = "nftsales:sale:"
	defaultCacheTTL     = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository serves sale reads from Redis. Sales are never rewritten
// once created, so single sales are cached by id and only the list pages
// depend on a version counter bumped whenever a sale is written.
type CachedRepository struct {
	storage.Backend
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base storage.Backend, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Backend: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Backend: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func (r *CachedRepository) Load(ctx context.Context, entity, id string) ([]byte, bool, error) {
	if r.cache == nil || entity != storage.EntitySale {
		return r.Backend.Load(ctx, entity, id)
	}
	key := saleKeyPrefix + id
	if cached, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		return cached, true, nil
	}
	payload, ok, err := r.Backend.Load(ctx, entity, id)
	if err != nil || !ok {
		return payload, ok, err
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return payload, true, nil
}

func (r *CachedRepository) Save(ctx context.Context, entity, id string, payload []byte) error {
	if err := r.Backend.Save(ctx, entity, id, payload); err != nil {
		return err
	}
	if entity == storage.EntitySale {
		r.invalidateSale(ctx, id)
	}
	return nil
}

func (r *CachedRepository) Delete(ctx context.Context, entity, id string) error {
	if err := r.Backend.Delete(ctx, entity, id); err != nil {
		return err
	}
	if entity == storage.EntitySale {
		r.invalidateSale(ctx, id)
	}
	return nil
}

// WithinTx invalidates the sale cache after a transaction that wrote sales
// commits.
func (r *CachedRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	var touched []string
	err := r.Backend.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		touched = touched[:0]
		return fn(ctx, &saleTracker{Store: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	for _, id := range touched {
		r.invalidateSale(ctx, id)
	}
	return nil
}

func (r *CachedRepository) List(ctx context.Context, filter storage.ListFilter) ([]storage.Record, error) {
	if r.cache == nil || filter.Entity != storage.EntitySale {
		return r.Backend.List(ctx, filter)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Backend.List(ctx, filter)
	}
	key := saleListKey(version, filter)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var records []storage.Record
		if err := json.Unmarshal([]byte(cached), &records); err == nil {
			return records, nil
		}
	}

	records, err := r.Backend.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return records, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, saleCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidateSale(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, saleKeyPrefix+id).Err()
	_ = r.cache.Incr(ctx, saleCacheVersionKey).Err()
}

// saleTracker records the ids of sales written through a transaction.
type saleTracker struct {
	storage.Store
	touched *[]string
}

func (t *saleTracker) Save(ctx context.Context, entity, id string, payload []byte) error {
	if err := t.Store.Save(ctx, entity, id, payload); err != nil {
		return err
	}
	t.track(entity, id)
	return nil
}

func (t *saleTracker) Delete(ctx context.Context, entity, id string) error {
	if err := t.Store.Delete(ctx, entity, id); err != nil {
		return err
	}
	t.track(entity, id)
	return nil
}

func (t *saleTracker) track(entity, id string) {
	if entity == storage.EntitySale {
		*t.touched = append(*t.touched, id)
	}
}

func saleListKey(version string, filter storage.ListFilter) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(saleListKeyPrefix)
	b.WriteString(version)
	b.WriteString(":after=")
	if filter.After != "" {
		b.WriteString(filter.After)
	} else {
		b.WriteString("start")
	}
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(storage.NormalizeLimit(filter.Limit)))
	return b.String()
}

var _ storage.Backend = (*CachedRepository)(nil)
