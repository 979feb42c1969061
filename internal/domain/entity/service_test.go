package entity

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultRegistry(), NewMemStore())
}

func mustCreate(t *testing.T, e *Engine, org, name string, input map[string]any) Record {
	t.Helper()
	rec, err := e.Create(context.Background(), org, name, input)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return rec
}

func product(name, sku string, price float64) map[string]any {
	return map[string]any{"name": name, "sku": sku, "price": price}
}

func TestCreateGet_RoundTrip(t *testing.T) {
	e := newTestEngine()
	created := mustCreate(t, e, "acme", "products", product("Widget", "W-1", 9.99))

	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected generated id")
	}

	got, err := e.Get(context.Background(), "acme", "products", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["name"] != "Widget" || got["price"] != 9.99 {
		t.Errorf("unexpected record: %v", got)
	}
}

func TestCreate_ReportsAllValidationFailures(t *testing.T) {
	e := newTestEngine()
	_, err := e.Create(context.Background(), "acme", "products", map[string]any{
		"name":   123,       // wrong type
		"price":  "costly",  // wrong type
		"colour": "magenta", // unknown field
		// sku missing (required)
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(appErr.Fields) != 4 {
		t.Errorf("expected 4 field errors, got %d: %v", len(appErr.Fields), appErr.Fields)
	}
}

func TestCreate_IgnoresImplicitColumns(t *testing.T) {
	e := newTestEngine()
	input := product("Widget", "W-1", 9.99)
	input["id"] = "attacker-chosen"
	input["org_id"] = "other-org"

	rec := mustCreate(t, e, "acme", "products", input)
	if rec["id"] == "attacker-chosen" {
		t.Error("caller-supplied id must be ignored")
	}
	if rec["org_id"] != "acme" {
		t.Errorf("expected org acme, got %v", rec["org_id"])
	}
}

func TestUpdate_PartialAndNotFound(t *testing.T) {
	e := newTestEngine()
	rec := mustCreate(t, e, "acme", "products", product("Widget", "W-1", 9.99))
	id := rec["id"].(string)

	updated, err := e.Update(context.Background(), "acme", "products", id, map[string]any{"price": 12.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated["price"] != 12.5 || updated["name"] != "Widget" {
		t.Errorf("unexpected record after partial update: %v", updated)
	}

	_, err = e.Update(context.Background(), "acme", "products", "no-such-id", map[string]any{"price": 1.0})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRemove_SecondDeleteIsNotFound(t *testing.T) {
	e := newTestEngine()
	rec := mustCreate(t, e, "acme", "products", product("Widget", "W-1", 9.99))
	id := rec["id"].(string)

	if err := e.Remove(context.Background(), "acme", "products", id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := e.Remove(context.Background(), "acme", "products", id)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound on second delete, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	e := newTestEngine()
	rec := mustCreate(t, e, "acme", "products", product("Widget", "W-1", 9.99))
	mustCreate(t, e, "beta", "products", product("Gadget", "G-1", 5.0))
	id := rec["id"].(string)

	// A record is invisible from another org.
	if _, err := e.Get(context.Background(), "beta", "products", id); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound across orgs, got %v", err)
	}
	if err := e.Remove(context.Background(), "beta", "products", id); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected NotFound deleting across orgs, got %v", err)
	}

	records, total, err := e.List(context.Background(), "beta", "products", Query{Page: pagination.Params{Page: 1, PageSize: 20}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(records) != 1 || records[0]["name"] != "Gadget" {
		t.Errorf("expected only beta's record, got total=%d records=%v", total, records)
	}
}

func TestList_FilterSearchSortPaginate(t *testing.T) {
	e := newTestEngine()
	mustCreate(t, e, "acme", "products", map[string]any{"name": "Alpha Widget", "sku": "A-1", "price": 5.0, "active": true})
	mustCreate(t, e, "acme", "products", map[string]any{"name": "Beta Widget", "sku": "B-1", "price": 15.0, "active": true})
	mustCreate(t, e, "acme", "products", map[string]any{"name": "Gamma Gadget", "sku": "G-1", "price": 25.0, "active": false})

	d, _ := DefaultRegistry().Get("products")

	values := url.Values{}
	values.Set("q", "widget")
	values.Set("price__gte", "10")
	values.Set("sort", "price")
	q, err := ParseQuery(values, d, pagination.Params{Page: 1, PageSize: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, total, err := e.List(context.Background(), "acme", "products", q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(records) != 1 || records[0]["name"] != "Beta Widget" {
		t.Errorf("unexpected result: total=%d records=%v", total, records)
	}

	// Sorted full listing, paginated two at a time.
	values = url.Values{}
	values.Set("sort", "price")
	values.Set("order", "desc")
	q, err = ParseQuery(values, d, pagination.Params{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, total, err = e.List(context.Background(), "acme", "products", q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(records) != 2 {
		t.Fatalf("expected page of 2 from 3, got total=%d len=%d", total, len(records))
	}
	if records[0]["name"] != "Gamma Gadget" || records[1]["name"] != "Beta Widget" {
		t.Errorf("unexpected sort order: %v", records)
	}
}

func TestBulkCreate_PartialFailurePersistsValidItems(t *testing.T) {
	e := newTestEngine()
	inputs := []map[string]any{
		product("One", "S-1", 1.0),
		product("Two", "S-2", 2.0),
		{"name": "Broken"}, // missing sku and price
		product("Four", "S-4", 4.0),
	}

	results, err := e.BulkCreate(context.Background(), "acme", "products", inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, r := range results {
		wantStatus := "success"
		if i == 2 {
			wantStatus = "error"
		}
		if r.Status != wantStatus {
			t.Errorf("result %d: expected %s, got %s (%s)", i, wantStatus, r.Status, r.Error)
		}
		if r.Index != i {
			t.Errorf("result %d: index mismatch: %d", i, r.Index)
		}
	}

	_, total, err := e.List(context.Background(), "acme", "products", Query{Page: pagination.Params{Page: 1, PageSize: 20}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 persisted records, got %d", total)
	}
}

func TestBulkDelete_ReportsMissingIDs(t *testing.T) {
	e := newTestEngine()
	rec := mustCreate(t, e, "acme", "products", product("One", "S-1", 1.0))

	results, err := e.BulkDelete(context.Background(), "acme", "products", []string{rec["id"].(string), "no-such-id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Status != "success" {
		t.Errorf("expected first delete success, got %s", results[0].Status)
	}
	if results[1].Status != "error" {
		t.Errorf("expected second delete error, got %s", results[1].Status)
	}
}

func TestOperations_UnknownEntity(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	if _, _, err := e.List(ctx, "acme", "spaceships", Query{}); !apperr.IsKind(err, apperr.KindUnknownEntity) {
		t.Errorf("List: expected UnknownEntity, got %v", err)
	}
	if _, err := e.Create(ctx, "acme", "spaceships", nil); !apperr.IsKind(err, apperr.KindUnknownEntity) {
		t.Errorf("Create: expected UnknownEntity, got %v", err)
	}
	if _, err := e.BulkCreate(ctx, "acme", "spaceships", nil); !apperr.IsKind(err, apperr.KindUnknownEntity) {
		t.Errorf("BulkCreate: expected UnknownEntity, got %v", err)
	}
}
