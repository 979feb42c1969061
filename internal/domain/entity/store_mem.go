package entity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrall/orchestrall/pkg/apperr"
)

// MemStore is an in-memory Store used in tests. It mirrors the query
// semantics of PGStore: org scoping, filters, case-insensitive search,
// stable sort with id tiebreak, and pagination.
type MemStore struct {
	mu sync.RWMutex
	// org -> entity name -> id -> record
	data map[string]map[string]map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]map[string]Record)}
}

// lookup is the read-only variant of bucket; it never mutates the map, so
// it is safe under RLock.
func (s *MemStore) lookup(org, name string) map[string]Record {
	if orgData, ok := s.data[org]; ok {
		return orgData[name]
	}
	return nil
}

func (s *MemStore) bucket(org, name string) map[string]Record {
	orgData, ok := s.data[org]
	if !ok {
		orgData = make(map[string]map[string]Record)
		s.data[org] = orgData
	}
	recs, ok := orgData[name]
	if !ok {
		recs = make(map[string]Record)
		orgData[name] = recs
	}
	return recs
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// compareValues orders two field values of the same coerced type.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case time.Time:
		bv, _ := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
		return 0
	case bool:
		bv, _ := b.(bool)
		switch {
		case !av && bv:
			return -1
		case av && !bv:
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	default:
		return 0
	}
}

func matches(rec Record, f Filter) bool {
	v, ok := rec[f.Field]
	if !ok || v == nil {
		return false
	}
	cmp := compareValues(v, f.Value)
	switch f.Op {
	case OpGte:
		return cmp >= 0
	case OpLte:
		return cmp <= 0
	default:
		return cmp == 0
	}
}

func matchesSearch(rec Record, d Descriptor, search string) bool {
	needle := strings.ToLower(search)
	for _, name := range d.SearchableFields() {
		if v, ok := rec[name].(string); ok {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
	}
	return false
}

func (s *MemStore) Find(_ context.Context, org string, d Descriptor, q Query) ([]Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Record
	for _, rec := range s.lookup(org, d.Name) {
		keep := true
		for _, f := range q.Filters {
			if !matches(rec, f) {
				keep = false
				break
			}
		}
		if keep && q.Search != "" && !matchesSearch(rec, d, q.Search) {
			keep = false
		}
		if keep {
			all = append(all, cloneRecord(rec))
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if q.Sort != "" {
			cmp := compareValues(all[i][q.Sort], all[j][q.Sort])
			if cmp != 0 {
				if q.SortDir == "desc" {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		iid, _ := all[i]["id"].(string)
		jid, _ := all[j]["id"].(string)
		return iid < jid
	})

	total := len(all)
	start := q.Page.Offset()
	if start > total {
		start = total
	}
	end := start + q.Page.PageSize
	if q.Page.PageSize <= 0 || end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemStore) Get(_ context.Context, org string, d Descriptor, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.lookup(org, d.Name)[id]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "%s %s not found", d.Name, id)
	}
	return cloneRecord(rec), nil
}

func (s *MemStore) Insert(_ context.Context, org string, d Descriptor, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := cloneRecord(rec)
	stored["id"] = uuid.New().String()
	stored["org_id"] = org
	stored["created_at"] = now
	stored["updated_at"] = now

	s.bucket(org, d.Name)[stored["id"].(string)] = stored
	return cloneRecord(stored), nil
}

func (s *MemStore) Update(_ context.Context, org string, d Descriptor, id string, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(org, d.Name)
	existing, ok := bucket[id]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "%s %s not found", d.Name, id)
	}

	for _, f := range d.Fields {
		if v, ok := rec[f.Name]; ok {
			existing[f.Name] = v
		}
	}
	existing["updated_at"] = time.Now().UTC()
	return cloneRecord(existing), nil
}

func (s *MemStore) Delete(_ context.Context, org string, d Descriptor, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(org, d.Name)
	if _, ok := bucket[id]; !ok {
		return apperr.E(apperr.KindNotFound, "%s %s not found", d.Name, id)
	}
	delete(bucket, id)
	return nil
}
