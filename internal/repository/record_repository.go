package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/opsdash-api/internal/models"
)

const recordColumns = `id, department_id, data, created_at, updated_at`

// RecordRepository stores operational records of a single table. Category
// attributes live in a JSONB column so every table shares one shape.
type RecordRepository struct {
	db    *sqlx.DB
	table models.TableName
}

// NewRecordRepository binds a repository to table. The name is interpolated
// into SQL, so only registered schema names are accepted.
func NewRecordRepository(db *sqlx.DB, table models.TableName) (*RecordRepository, error) {
	for _, schema := range models.DefaultSchemas() {
		if schema.Name == table {
			return &RecordRepository{db: db, table: table}, nil
		}
	}
	return nil, fmt.Errorf("record repository: unsupported table %q", table)
}

// Get fetches one record. Missing rows return sql.ErrNoRows.
func (r *RecordRepository) Get(ctx context.Context, id int64) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, r.table)
	var rec models.Record
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, err
	}
	rec.Table = r.table
	return &rec, nil
}

// Create inserts a record from data.
func (r *RecordRepository) Create(ctx context.Context, data models.Fields) (*models.Record, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (department_id, data, created_at, updated_at)
	VALUES ($1, $2, $3, $3) RETURNING %s`, r.table, recordColumns)
	var rec models.Record
	if err := r.db.GetContext(ctx, &rec, query, departmentOf(data), data, now); err != nil {
		return nil, fmt.Errorf("create %s record: %w", r.table, err)
	}
	rec.Table = r.table
	return &rec, nil
}

// Update merges partial into the stored fields; keys absent from partial keep
// their values. Missing rows return sql.ErrNoRows.
func (r *RecordRepository) Update(ctx context.Context, id int64, partial models.Fields) (*models.Record, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE %s
	SET data = data || $1::jsonb, department_id = COALESCE($2, department_id), updated_at = $3
	WHERE id = $4 RETURNING %s`, r.table, recordColumns)
	var rec models.Record
	if err := r.db.GetContext(ctx, &rec, query, partial, departmentOf(partial), now, id); err != nil {
		return nil, err
	}
	rec.Table = r.table
	return &rec, nil
}

// Delete hard-deletes a record and returns its last state.
func (r *RecordRepository) Delete(ctx context.Context, id int64) (*models.Record, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING %s`, r.table, recordColumns)
	var rec models.Record
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, err
	}
	rec.Table = r.table
	return &rec, nil
}

// List returns records newest first, optionally restricted to a department.
func (r *RecordRepository) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args := make([]interface{}, 0, 1)
	where := ""
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		where = " WHERE department_id = $1"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY updated_at DESC, id DESC LIMIT %d OFFSET %d`,
		recordColumns, r.table, where, limit, offset)
	var records []models.Record
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list %s records: %w", r.table, err)
	}
	for i := range records {
		records[i].Table = r.table
	}
	return records, nil
}

func departmentOf(data models.Fields) *string {
	if dept, ok := data.String(models.FieldDepartmentID); ok {
		return &dept
	}
	return nil
}
