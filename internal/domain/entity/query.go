package entity

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Filter is a single field comparison. Value is already coerced to the
// field's declared type.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query is a validated listing request against one entity.
type Query struct {
	Page    pagination.Params
	Sort    string
	SortDir string
	Search  string
	Filters []Filter
}

// Reserved query parameters that are not field filters.
const (
	paramPage     = "page"
	paramPageSize = "page_size"
	paramSort     = "sort"
	paramOrder    = "order"
	paramSearch   = "q"
)

const (
	suffixGte = "__gte"
	suffixLte = "__lte"
)

// ParseQuery validates the raw query parameters against the descriptor and
// builds a Query. Every invalid parameter is reported; a request with three
// bad parameters gets all three named in the error.
func ParseQuery(values url.Values, d Descriptor, page pagination.Params) (Query, error) {
	q := Query{Page: page, SortDir: "asc"}
	var fields []apperr.FieldError

	if s := values.Get(paramSort); s != "" {
		f, ok := d.Field(s)
		switch {
		case !ok:
			fields = append(fields, apperr.FieldError{Field: paramSort, Message: fmt.Sprintf("unknown field %q", s)})
		case !f.Sortable:
			fields = append(fields, apperr.FieldError{Field: paramSort, Message: fmt.Sprintf("field %q is not sortable", s)})
		default:
			q.Sort = s
		}
	}

	if o := values.Get(paramOrder); o != "" {
		switch strings.ToLower(o) {
		case "asc", "desc":
			q.SortDir = strings.ToLower(o)
		default:
			fields = append(fields, apperr.FieldError{Field: paramOrder, Message: "must be asc or desc"})
		}
	}

	q.Search = values.Get(paramSearch)
	if q.Search != "" && len(d.SearchableFields()) == 0 {
		fields = append(fields, apperr.FieldError{Field: paramSearch, Message: "entity has no searchable fields"})
	}

	// Deterministic error ordering.
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case paramPage, paramPageSize, paramSort, paramOrder, paramSearch:
			continue
		}

		name, op := key, OpEq
		if strings.HasSuffix(key, suffixGte) {
			name, op = strings.TrimSuffix(key, suffixGte), OpGte
		} else if strings.HasSuffix(key, suffixLte) {
			name, op = strings.TrimSuffix(key, suffixLte), OpLte
		}

		f, ok := d.Field(name)
		if !ok {
			fields = append(fields, apperr.FieldError{Field: key, Message: fmt.Sprintf("unknown field %q", name)})
			continue
		}
		if op == OpEq && !f.Filterable {
			fields = append(fields, apperr.FieldError{Field: key, Message: fmt.Sprintf("field %q is not filterable", name)})
			continue
		}
		if op != OpEq && !f.Rangeable {
			fields = append(fields, apperr.FieldError{Field: key, Message: fmt.Sprintf("field %q does not support range filters", name)})
			continue
		}

		value, err := coerceParam(f.Type, values.Get(key))
		if err != nil {
			fields = append(fields, apperr.FieldError{Field: key, Message: err.Error()})
			continue
		}

		q.Filters = append(q.Filters, Filter{Field: name, Op: op, Value: value})
	}

	if len(fields) > 0 {
		return Query{}, &apperr.Error{
			Kind:    apperr.KindInvalidQuery,
			Message: "invalid query parameters",
			Fields:  fields,
		}
	}
	return q, nil
}

// coerceParam parses a query-string value into the field's declared type.
func coerceParam(t FieldType, raw string) (any, error) {
	switch t {
	case TypeString:
		return raw, nil
	case TypeInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		return v, nil
	case TypeFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return v, nil
	case TypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("must be true or false")
		}
		return v, nil
	case TypeTimestamp:
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("must be an RFC3339 timestamp")
		}
		return v, nil
	case TypeUUID:
		v, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("must be a UUID")
		}
		return v.String(), nil
	default:
		return nil, fmt.Errorf("unsupported field type %s", t)
	}
}
