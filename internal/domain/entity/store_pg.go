package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orchestrall/orchestrall/pkg/apperr"
)

// PGStore is the Postgres-backed Store. All SQL is generated from the
// descriptor; field names were validated against it upstream, so they are
// safe to interpolate as identifiers.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func columnsOf(d Descriptor) []string {
	cols := make([]string, 0, len(d.Fields)+4)
	cols = append(cols, "id", "org_id")
	for _, f := range d.Fields {
		cols = append(cols, f.Name)
	}
	cols = append(cols, "created_at", "updated_at")
	return cols
}

func rowToRecord(cols []string, values []any) Record {
	rec := make(Record, len(cols))
	for i, col := range cols {
		rec[col] = values[i]
	}
	return rec
}

func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.E(apperr.KindDependencyTimeout, "database timed out")
	}
	return err
}

// whereClause builds the WHERE fragment for org scoping, filters and search.
// Returns the fragment (beginning with " WHERE") and the bound arguments.
func whereClause(org string, d Descriptor, q Query) (string, []any) {
	var sb strings.Builder
	args := []any{org}
	sb.WriteString(" WHERE org_id = $1")

	for _, f := range q.Filters {
		args = append(args, f.Value)
		switch f.Op {
		case OpGte:
			sb.WriteString(fmt.Sprintf(" AND %s >= $%d", f.Field, len(args)))
		case OpLte:
			sb.WriteString(fmt.Sprintf(" AND %s <= $%d", f.Field, len(args)))
		default:
			sb.WriteString(fmt.Sprintf(" AND %s = $%d", f.Field, len(args)))
		}
	}

	if q.Search != "" {
		searchable := d.SearchableFields()
		if len(searchable) > 0 {
			args = append(args, "%"+q.Search+"%")
			idx := len(args)
			parts := make([]string, len(searchable))
			for i, name := range searchable {
				parts[i] = fmt.Sprintf("%s ILIKE $%d", name, idx)
			}
			sb.WriteString(" AND (" + strings.Join(parts, " OR ") + ")")
		}
	}

	return sb.String(), args
}

func (s *PGStore) Find(ctx context.Context, org string, d Descriptor, q Query) ([]Record, int, error) {
	where, args := whereClause(org, d, q)

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", d.Table, where)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, mapStoreErr(fmt.Errorf("count %s: %w", d.Name, err))
	}

	cols := columnsOf(d)
	order := "created_at DESC, id ASC"
	if q.Sort != "" {
		order = fmt.Sprintf("%s %s, id ASC", q.Sort, strings.ToUpper(q.SortDir))
	}

	args = append(args, q.Page.PageSize, q.Page.Offset())
	querySQL := fmt.Sprintf(
		"SELECT %s FROM %s%s ORDER BY %s LIMIT $%d OFFSET $%d",
		strings.Join(cols, ", "), d.Table, where, order, len(args)-1, len(args),
	)

	rows, err := s.pool.Query(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, mapStoreErr(fmt.Errorf("query %s: %w", d.Name, err))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, 0, fmt.Errorf("read %s row: %w", d.Name, err)
		}
		records = append(records, rowToRecord(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapStoreErr(fmt.Errorf("iterate %s rows: %w", d.Name, err))
	}

	return records, total, nil
}

func (s *PGStore) Get(ctx context.Context, org string, d Descriptor, id string) (Record, error) {
	cols := columnsOf(d)
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1 AND org_id = $2",
		strings.Join(cols, ", "), d.Table,
	)

	rows, err := s.pool.Query(ctx, sql, id, org)
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("get %s: %w", d.Name, err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapStoreErr(fmt.Errorf("get %s: %w", d.Name, err))
		}
		return nil, apperr.E(apperr.KindNotFound, "%s %s not found", d.Name, id)
	}
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("read %s row: %w", d.Name, err)
	}
	return rowToRecord(cols, values), nil
}

func (s *PGStore) Insert(ctx context.Context, org string, d Descriptor, rec Record) (Record, error) {
	now := time.Now().UTC()
	id := uuid.New().String()

	cols := []string{"id", "org_id"}
	args := []any{id, org}
	for _, f := range d.Fields {
		if v, ok := rec[f.Name]; ok {
			cols = append(cols, f.Name)
			args = append(args, v)
		}
	}
	cols = append(cols, "created_at", "updated_at")
	args = append(args, now, now)

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		d.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return nil, mapStoreErr(fmt.Errorf("insert %s: %w", d.Name, err))
	}

	return s.Get(ctx, org, d, id)
}

func (s *PGStore) Update(ctx context.Context, org string, d Descriptor, id string, rec Record) (Record, error) {
	sets := []string{}
	args := []any{}
	for _, f := range d.Fields {
		if v, ok := rec[f.Name]; ok {
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s = $%d", f.Name, len(args)))
		}
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	args = append(args, id, org)
	sql := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND org_id = $%d",
		d.Table, strings.Join(sets, ", "), len(args)-1, len(args),
	)

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("update %s: %w", d.Name, err))
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.E(apperr.KindNotFound, "%s %s not found", d.Name, id)
	}

	return s.Get(ctx, org, d, id)
}

func (s *PGStore) Delete(ctx context.Context, org string, d Descriptor, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND org_id = $2", d.Table)
	tag, err := s.pool.Exec(ctx, sql, id, org)
	if err != nil {
		return mapStoreErr(fmt.Errorf("delete %s: %w", d.Name, err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "%s %s not found", d.Name, id)
	}
	return nil
}
