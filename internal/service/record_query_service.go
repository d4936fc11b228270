package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

// RecordQueryService serves record reads through the cache. Cached entries
// are dropped whenever the category's change notification fires.
type RecordQueryService struct {
	tables tableResolver
	cache  *RecordCache
	logger *zap.Logger
}

// NewRecordQueryService constructs the read path.
func NewRecordQueryService(tables tableResolver, cache *RecordCache, logger *zap.Logger) *RecordQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordQueryService{tables: tables, cache: cache, logger: logger}
}

// Get returns a single record.
func (s *RecordQueryService) Get(ctx context.Context, table models.TableName, id int64) (*models.Record, error) {
	entry, err := s.tables.Lookup(table)
	if err != nil {
		return nil, err
	}
	key := recordKey(entry.Schema.Name, id)
	var cached models.Record
	if s.cache.Load(ctx, key, &cached) {
		return &cached, nil
	}

	record, err := entry.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s record %d not found", table, id))
		}
		return nil, appErrors.Internal(err, "failed to load record")
	}
	record.Table = entry.Schema.Name
	s.cache.Store(ctx, key, record)
	return record, nil
}

// List returns records of table, newest first.
func (s *RecordQueryService) List(ctx context.Context, table models.TableName, filter models.RecordFilter) ([]models.Record, error) {
	entry, err := s.tables.Lookup(table)
	if err != nil {
		return nil, err
	}
	if !entry.Schema.DepartmentScoped {
		filter.DepartmentID = ""
	}
	key := listKey(entry.Schema.Name, filter)
	var cached []models.Record
	if s.cache.Load(ctx, key, &cached) {
		return cached, nil
	}

	records, err := entry.Store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list records")
	}
	if records == nil {
		records = []models.Record{}
	}
	s.cache.Store(ctx, key, records)
	return records, nil
}

// Invalidate drops every cached read for category. It matches the bus
// handler signature.
func (s *RecordQueryService) Invalidate(ctx context.Context, category string) {
	if err := s.cache.DropCategory(ctx, category); err != nil {
		s.logger.Warn("record cache invalidation failed", zap.String("category", category), zap.Error(err))
	}
}
