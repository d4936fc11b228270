package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

const (
	recordCachePrefix = "records"
	defaultRecordTTL  = 5 * time.Minute
)

// CacheRepository stores JSON payloads by key.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RecordCache holds serialized record reads grouped by category so a single
// change notification can drop all of them. A nil or disabled cache misses
// on every read. Backend failures never reach callers.
type RecordCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewRecordCache constructs the cache.
func NewRecordCache(repo CacheRepository, ttl time.Duration, enabled bool, metrics *MetricsService, logger *zap.Logger) *RecordCache {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled && repo != nil}
}

// Enabled reports whether reads may be served from the cache.
func (c *RecordCache) Enabled() bool {
	return c != nil && c.enabled
}

func recordKey(table models.TableName, id int64) string {
	return fmt.Sprintf("%s:%s:id:%d", recordCachePrefix, table, id)
}

func listKey(table models.TableName, filter models.RecordFilter) string {
	return fmt.Sprintf("%s:%s:list:%s:%d:%d", recordCachePrefix, table, filter.DepartmentID, filter.Limit, filter.Offset)
}

func categoryPattern(category string) string {
	return fmt.Sprintf("%s:%s:*", recordCachePrefix, category)
}

// Load decodes the entry at key into dest and reports a hit.
func (c *RecordCache) Load(ctx context.Context, key string, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}
	start := time.Now()
	err := c.repo.Get(ctx, key, dest)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		c.logger.Warn("record cache read failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// Store writes value at key with the configured TTL.
func (c *RecordCache) Store(ctx context.Context, key string, value interface{}) {
	if !c.Enabled() {
		return
	}
	start := time.Now()
	err := c.repo.Set(ctx, key, value, c.ttl)
	c.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		c.logger.Warn("record cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// DropCategory removes every cached read of category.
func (c *RecordCache) DropCategory(ctx context.Context, category string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.repo.DeleteByPattern(ctx, categoryPattern(category)); err != nil {
		return fmt.Errorf("drop %s cache: %w", category, err)
	}
	return nil
}
