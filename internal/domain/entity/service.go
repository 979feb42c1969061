package entity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orchestrall/orchestrall/pkg/apperr"
)

// Engine implements the generic CRUD operations over all registered
// entities. It owns validation; the store only sees clean records.
type Engine struct {
	registry *Registry
	store    Store
}

func NewEngine(registry *Registry, store Store) *Engine {
	return &Engine{registry: registry, store: store}
}

// Entities returns the descriptors of all registered entities.
func (e *Engine) Entities() []Descriptor {
	return e.registry.Descriptors()
}

// Schema returns the descriptor for the named entity.
func (e *Engine) Schema(name string) (Descriptor, error) {
	return e.registry.Get(name)
}

// List returns one page of records matching the query.
func (e *Engine) List(ctx context.Context, org, name string, q Query) ([]Record, int, error) {
	d, err := e.registry.Get(name)
	if err != nil {
		return nil, 0, err
	}
	return e.store.Find(ctx, org, d, q)
}

// Get returns a single record by id.
func (e *Engine) Get(ctx context.Context, org, name, id string) (Record, error) {
	d, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return e.store.Get(ctx, org, d, id)
}

// Create validates the input against the descriptor and inserts a record.
// Validation reports every failing field, not just the first.
func (e *Engine) Create(ctx context.Context, org, name string, input map[string]any) (Record, error) {
	d, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	rec, err := validateInput(d, input, false)
	if err != nil {
		return nil, err
	}
	return e.store.Insert(ctx, org, d, rec)
}

// Update validates a partial input and applies it to an existing record.
func (e *Engine) Update(ctx context.Context, org, name, id string, input map[string]any) (Record, error) {
	d, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	rec, err := validateInput(d, input, true)
	if err != nil {
		return nil, err
	}
	return e.store.Update(ctx, org, d, id, rec)
}

// Remove deletes a record by id.
func (e *Engine) Remove(ctx context.Context, org, name, id string) error {
	d, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	return e.store.Delete(ctx, org, d, id)
}

// BulkResult reports the outcome of one item in a bulk operation.
type BulkResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BulkUpdateItem pairs a record id with the partial update to apply.
type BulkUpdateItem struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// BulkCreate inserts each input in order. Items are independent: a failing
// item is reported in its result and does not roll back earlier items.
func (e *Engine) BulkCreate(ctx context.Context, org, name string, inputs []map[string]any) ([]BulkResult, error) {
	if _, err := e.registry.Get(name); err != nil {
		return nil, err
	}
	results := make([]BulkResult, len(inputs))
	for i, input := range inputs {
		rec, err := e.Create(ctx, org, name, input)
		results[i] = bulkResult(i, rec, err)
	}
	return results, nil
}

// BulkUpdate applies each partial update in order, independently.
func (e *Engine) BulkUpdate(ctx context.Context, org, name string, items []BulkUpdateItem) ([]BulkResult, error) {
	if _, err := e.registry.Get(name); err != nil {
		return nil, err
	}
	results := make([]BulkResult, len(items))
	for i, item := range items {
		rec, err := e.Update(ctx, org, name, item.ID, item.Data)
		results[i] = bulkResult(i, rec, err)
		if results[i].ID == "" {
			results[i].ID = item.ID
		}
	}
	return results, nil
}

// BulkDelete removes each id in order, independently.
func (e *Engine) BulkDelete(ctx context.Context, org, name string, ids []string) ([]BulkResult, error) {
	if _, err := e.registry.Get(name); err != nil {
		return nil, err
	}
	results := make([]BulkResult, len(ids))
	for i, id := range ids {
		err := e.Remove(ctx, org, name, id)
		results[i] = BulkResult{Index: i, Status: "success", ID: id}
		if err != nil {
			results[i].Status = "error"
			results[i].Error = err.Error()
			log.Debug().Err(err).Str("entity", name).Str("id", id).Msg("bulk delete item failed")
		}
	}
	return results, nil
}

func bulkResult(i int, rec Record, err error) BulkResult {
	if err != nil {
		return BulkResult{Index: i, Status: "error", Error: err.Error()}
	}
	id, _ := rec["id"].(string)
	return BulkResult{Index: i, Status: "success", ID: id}
}

// Implicit columns are managed by the store; callers cannot set them.
var implicitColumns = map[string]bool{
	"id":         true,
	"org_id":     true,
	"created_at": true,
	"updated_at": true,
}

// validateInput checks the input map against the descriptor and returns a
// clean record. All failures are collected so the caller sees every bad
// field at once. With partial set, missing required fields are allowed.
func validateInput(d Descriptor, input map[string]any, partial bool) (Record, error) {
	rec := make(Record)
	var fields []apperr.FieldError

	for key, raw := range input {
		if implicitColumns[key] {
			continue
		}
		f, ok := d.Field(key)
		if !ok {
			fields = append(fields, apperr.FieldError{Field: key, Message: "unknown field"})
			continue
		}
		if raw == nil {
			if f.Required {
				fields = append(fields, apperr.FieldError{Field: key, Message: "must not be null"})
			}
			continue
		}
		v, err := coerceJSON(f.Type, raw)
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: key, Message: err.Error()})
			continue
		}
		rec[key] = v
	}

	if !partial {
		for _, f := range d.Fields {
			if f.Required {
				if _, ok := rec[f.Name]; !ok {
					if hasFieldError(fields, f.Name) {
						continue
					}
					fields = append(fields, apperr.FieldError{Field: f.Name, Message: "is required"})
				}
			}
		}
	}

	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	return rec, nil
}

func hasFieldError(fields []apperr.FieldError, name string) bool {
	for _, fe := range fields {
		if fe.Field == name {
			return true
		}
	}
	return false
}

// coerceJSON converts a decoded JSON value into the field's declared type.
// JSON numbers arrive as float64.
func coerceJSON(t FieldType, raw any) (any, error) {
	switch t {
	case TypeString:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return v, nil
	case TypeInt:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("must be an integer")
			}
			return int64(v), nil
		case int64:
			return v, nil
		default:
			return nil, fmt.Errorf("must be an integer")
		}
	case TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("must be a number")
		}
	case TypeBool:
		v, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return v, nil
	case TypeTimestamp:
		switch v := raw.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("must be an RFC3339 timestamp")
			}
			return ts, nil
		case time.Time:
			return v, nil
		default:
			return nil, fmt.Errorf("must be an RFC3339 timestamp")
		}
	case TypeUUID:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("must be a UUID string")
		}
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("must be a UUID")
		}
		return parsed.String(), nil
	default:
		return nil, fmt.Errorf("unsupported field type %s", t)
	}
}
