package entity

import (
	"sort"

	"github.com/orchestrall/orchestrall/pkg/apperr"
)

// FieldType enumerates the value types a descriptor field may declare.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInt       FieldType = "int"
	TypeFloat     FieldType = "float"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"
	TypeUUID      FieldType = "uuid"
)

// Field describes a single attribute of an entity. The flags control which
// query capabilities the field participates in.
type Field struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	Filterable bool      `json:"filterable"`
	Rangeable  bool      `json:"rangeable"`
	Searchable bool      `json:"searchable"`
	Sortable   bool      `json:"sortable"`
}

// Descriptor declares an entity: its public name, backing table, and fields.
// Every entity additionally carries the implicit columns id, org_id,
// created_at and updated_at, which are managed by the store and never
// declared as fields.
type Descriptor struct {
	Name   string  `json:"name"`
	Table  string  `json:"table"`
	Fields []Field `json:"fields"`
}

// Field returns the declared field with the given name.
func (d Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SearchableFields returns the names of all searchable fields.
func (d Descriptor) SearchableFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Searchable {
			out = append(out, f.Name)
		}
	}
	return out
}

// Registry holds the set of known entity descriptors. It is built once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry builds a registry from the given descriptors.
func NewRegistry(descriptors ...Descriptor) *Registry {
	m := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.Name] = d
	}
	return &Registry{descriptors: m}
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, apperr.E(apperr.KindUnknownEntity, "unknown entity %q", name)
	}
	return d, nil
}

// Descriptors returns all registered descriptors, sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, name := range r.Names() {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Names returns all registered entity names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns the registry of built-in entities.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Descriptor{
			Name:  "products",
			Table: "product",
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "sku", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "description", Type: TypeString, Searchable: true},
				{Name: "price", Type: TypeFloat, Required: true, Filterable: true, Rangeable: true, Sortable: true},
				{Name: "stock", Type: TypeInt, Filterable: true, Rangeable: true, Sortable: true},
				{Name: "active", Type: TypeBool, Filterable: true},
			},
		},
		Descriptor{
			Name:  "customers",
			Table: "customer",
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "email", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "phone", Type: TypeString, Searchable: true},
				{Name: "city", Type: TypeString, Filterable: true, Searchable: true, Sortable: true},
			},
		},
		Descriptor{
			Name:  "orders",
			Table: "orders",
			Fields: []Field{
				{Name: "customer_id", Type: TypeUUID, Required: true, Filterable: true},
				{Name: "status", Type: TypeString, Required: true, Filterable: true, Sortable: true},
				{Name: "total", Type: TypeFloat, Required: true, Filterable: true, Rangeable: true, Sortable: true},
				{Name: "placed_at", Type: TypeTimestamp, Filterable: true, Rangeable: true, Sortable: true},
			},
		},
		Descriptor{
			Name:  "doctors",
			Table: "doctor",
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "specialty", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "email", Type: TypeString, Searchable: true},
				{Name: "active", Type: TypeBool, Filterable: true},
			},
		},
		Descriptor{
			Name:  "patients",
			Table: "patient",
			Fields: []Field{
				{Name: "name", Type: TypeString, Required: true, Filterable: true, Searchable: true, Sortable: true},
				{Name: "email", Type: TypeString, Searchable: true},
				{Name: "phone", Type: TypeString, Searchable: true},
				{Name: "birth_date", Type: TypeTimestamp, Filterable: true, Rangeable: true, Sortable: true},
			},
		},
	)
}
