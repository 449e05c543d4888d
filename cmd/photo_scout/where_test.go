package main

import (
	"reflect"
	"testing"

	"photo-scout/internal/photo_scout/store"
)

func TestParseWhere(t *testing.T) {
	tests := []struct {
		in   string
		want store.Predicate
	}{
		{"provider=unsplash", store.Where("provider", store.OpEq, "unsplash")},
		{"provider==unsplash", store.Where("provider", store.OpEq, "unsplash")},
		{"raw_id=12345", store.Where("raw_id", store.OpIn, []any{12345, "12345"})},
		{"likes>=10", store.Where("likes", store.OpGte, 10)},
		{"likes<2.5", store.Where("likes", store.OpLt, 2.5)},
		{"id!=abc", store.Where("id", store.OpNe, "abc")},
		{"featured=true", store.Where("featured", store.OpIn, []any{true, "true"})},
	}
	for _, tt := range tests {
		got, err := parseWhere(tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"likes", "=10", ""} {
		if _, err := parseWhere(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestWhereFlagsAccumulate(t *testing.T) {
	var w whereFlags
	for _, s := range []string{"provider=unsplash", "likes>3"} {
		if err := w.Set(s); err != nil {
			t.Fatal(err)
		}
	}
	if len(w) != 2 || w[1].Op != store.OpGt {
		t.Fatalf("flags = %v", w.String())
	}
}
