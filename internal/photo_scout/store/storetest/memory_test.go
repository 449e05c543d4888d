package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"photo-scout/internal/photo_scout/store"
)

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	fields := map[string]any{"likes": 3, "user": map[string]any{"name": "a"}}

	if _, err := m.Upsert(ctx, "photos", "x", fields); err != nil {
		t.Fatal(err)
	}
	once := m.Snapshot("photos")
	if _, err := m.Upsert(ctx, "photos", "x", fields); err != nil {
		t.Fatal(err)
	}
	if twice := m.Snapshot("photos"); !reflect.DeepEqual(once, twice) {
		t.Fatalf("state changed: %v vs %v", once, twice)
	}
}

func TestUpsertOverwritesWholeDocument(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("photos", "x", map[string]any{"a": 1, "b": 2})
	if _, err := m.Upsert(ctx, "photos", "x", map[string]any{"a": 5}); err != nil {
		t.Fatal(err)
	}
	got := m.Snapshot("photos")["x"]
	if !reflect.DeepEqual(got, map[string]any{"a": 5}) {
		t.Fatalf("got %v", got)
	}
}

func TestUpsertGeneratesID(t *testing.T) {
	m := NewMemory()
	id, err := m.Upsert(context.Background(), "photos", "", map[string]any{"a": 1})
	if err != nil || id == "" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	if doc, _ := m.GetDocument(context.Background(), "photos", id); doc == nil {
		t.Fatal("generated document not stored")
	}
}

func TestAddField(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("spots", "s1", map[string]any{"name": "pier"})

	if err := m.AddField(ctx, "spots", "s1", map[string]any{"geohash": "gcpvj"}); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"name": "pier", "geohash": "gcpvj"}
	if got := m.Snapshot("spots")["s1"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}
	err := m.AddField(ctx, "spots", "nope", map[string]any{"geohash": "x"})
	if !errors.Is(err, store.ErrDocumentNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("photos", "a", map[string]any{"provider": "unsplash", "likes": 10})
	m.Seed("photos", "b", map[string]any{"provider": "unsplash", "likes": 50})
	m.Seed("photos", "c", map[string]any{"provider": "flickr", "likes": 70})

	var ids []string
	for doc, err := range m.Query(ctx, "photos",
		store.Where("provider", store.OpEq, "unsplash"),
		store.Where("likes", store.OpGte, 20),
	) {
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, doc.ID)
	}
	if !reflect.DeepEqual(ids, []string{"b"}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestQueryNestedField(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("photos", "a", map[string]any{"location": map[string]any{"city": "Lisbon"}})
	m.Seed("photos", "b", map[string]any{"location": map[string]any{"city": "Porto"}})
	m.Seed("photos", "c", map[string]any{"location": "unknown"})

	var ids []string
	for doc, err := range m.Query(ctx, "photos", store.Where("location.city", store.OpEq, "Lisbon")) {
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, doc.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a"}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestQueryTextValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("photos", "a", map[string]any{"raw_id": "12345", "likes": 7})
	m.Seed("photos", "b", map[string]any{"raw_id": "xyz", "likes": 12345})
	m.Seed("photos", "c", map[string]any{"raw_id": "other", "likes": 1})

	collect := func(p store.Predicate) []string {
		var ids []string
		for doc, err := range m.Query(ctx, "photos", p) {
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, doc.ID)
		}
		return ids
	}

	if ids := collect(store.WhereText("raw_id", store.OpEq, "12345")); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("raw_id == 12345: ids = %v", ids)
	}
	if ids := collect(store.WhereText("likes", store.OpEq, "12345")); !reflect.DeepEqual(ids, []string{"b"}) {
		t.Errorf("likes == 12345: ids = %v", ids)
	}
	if ids := collect(store.WhereText("raw_id", store.OpNe, "12345")); !reflect.DeepEqual(ids, []string{"b", "c"}) {
		t.Errorf("raw_id != 12345: ids = %v", ids)
	}
}
