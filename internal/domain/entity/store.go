package entity

import "context"

// Record is one entity row. Keys are field names plus the implicit columns
// id, org_id, created_at and updated_at.
type Record map[string]any

// Store persists entity records. Every method takes the organization the
// caller is scoped to; a store never returns rows belonging to another org.
type Store interface {
	Find(ctx context.Context, org string, d Descriptor, q Query) ([]Record, int, error)
	Get(ctx context.Context, org string, d Descriptor, id string) (Record, error)
	Insert(ctx context.Context, org string, d Descriptor, rec Record) (Record, error)
	Update(ctx context.Context, org string, d Descriptor, id string, rec Record) (Record, error)
	Delete(ctx context.Context, org string, d Descriptor, id string) error
}
