package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

// RecordStore is the persistence handle for one operational table.
// Missing records surface as sql.ErrNoRows.
type RecordStore interface {
	Get(ctx context.Context, id int64) (*models.Record, error)
	Create(ctx context.Context, data models.Fields) (*models.Record, error)
	Update(ctx context.Context, id int64, partial models.Fields) (*models.Record, error)
	Delete(ctx context.Context, id int64) (*models.Record, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
}

// StoreOpener builds the store backing a schema.
type StoreOpener func(schema models.TableSchema) (RecordStore, error)

var reservedFields = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
}

// Entry binds a table schema to its store.
type Entry struct {
	Schema models.TableSchema
	Store  RecordStore

	required []string
	allowed  map[string]struct{}
}

// Registry is the closed set of tables mutations may target. It is built
// once at startup and read-only afterwards.
type Registry struct {
	entries map[models.TableName]*Entry
}

// New resolves every schema to its store.
func New(schemas []models.TableSchema, open StoreOpener) (*Registry, error) {
	r := &Registry{entries: make(map[models.TableName]*Entry, len(schemas))}
	for _, schema := range schemas {
		if _, dup := r.entries[schema.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate table %q", schema.Name)
		}
		store, err := open(schema)
		if err != nil {
			return nil, fmt.Errorf("registry: open %s: %w", schema.Name, err)
		}
		entry := &Entry{
			Schema:   schema,
			Store:    store,
			required: append([]string(nil), schema.RequiredFields...),
			allowed:  make(map[string]struct{}, len(schema.RequiredFields)+len(schema.OptionalFields)),
		}
		for _, f := range schema.RequiredFields {
			entry.allowed[f] = struct{}{}
		}
		for _, f := range schema.OptionalFields {
			entry.allowed[f] = struct{}{}
		}
		r.entries[schema.Name] = entry
	}
	return r, nil
}

// Lookup returns the entry for name or a validation error for unknown tables.
func (r *Registry) Lookup(name models.TableName) (*Entry, error) {
	if r != nil {
		if entry, ok := r.entries[models.TableName(strings.TrimSpace(string(name)))]; ok {
			return entry, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown table: %s", name))
}

// Names returns the registered tables in stable order.
func (r *Registry) Names() []models.TableName {
	names := make([]models.TableName, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ValidateCreate checks that data carries every required field and nothing unknown.
func (e *Entry) ValidateCreate(data models.Fields) error {
	if err := e.ValidatePartial(data); err != nil {
		return err
	}
	missing := make([]string, 0)
	for _, field := range e.required {
		v, ok := data[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s: missing required fields: %s", e.Schema.Name, strings.Join(missing, ", ")))
	}
	return nil
}

// ValidatePartial rejects fields the schema does not know. Record metadata
// keys (id, created_at, updated_at) are tolerated in snapshots.
func (e *Entry) ValidatePartial(data models.Fields) error {
	unknown := make([]string, 0)
	for field := range data {
		if _, ok := e.allowed[field]; ok {
			continue
		}
		if _, ok := reservedFields[field]; ok {
			continue
		}
		unknown = append(unknown, field)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s: unknown fields: %s", e.Schema.Name, strings.Join(unknown, ", ")))
	}
	return nil
}

// Writable strips record metadata keys from data.
func (e *Entry) Writable(data models.Fields) models.Fields {
	out := make(models.Fields, len(data))
	for k, v := range data {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}

// Scope returns the department a mutation of data falls under, or "" for
// tables that are not department scoped.
func (e *Entry) Scope(data models.Fields) string {
	if !e.Schema.DepartmentScoped {
		return ""
	}
	dept, _ := data.String(models.FieldDepartmentID)
	return dept
}
