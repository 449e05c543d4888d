package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"photo-scout/internal/photo_scout/model"
)

const detailTmpl = `{
  "id": %q,
  "created_at": "2016-05-03T11:00:28-04:00",
  "likes": 24,
  "location": {"city": "Montreal", "country": "Canada", "position": %s},
  "exif": {"make": "Canon", "model": "EOS 70D", "exposure_time": "1/250", "aperture": "4.5", "focal_length": "37", "iso": 100},
  "tags": [{"title": "city"}, {"title": "night"}, {"title": "city"}],
  "urls": {"raw": "https://img/raw", "full": "https://img/full", "regular": "https://img/regular", "small": "https://img/small", "thumb": "https://img/thumb"},
  "user": {"name": "Jane"}
}`

type fakeAPI struct {
	mu        sync.Mutex
	positions map[string]string
	order     []string
	listCode  int
	listBody  string
	header    http.Header
	details   []string
	query     string
	auth      string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")
	if r.URL.Path == "/photos" {
		f.query = r.URL.RawQuery
		for k, v := range f.header {
			w.Header()[k] = v
		}
		if f.listCode != 0 {
			w.WriteHeader(f.listCode)
			_, _ = w.Write([]byte(f.listBody))
			return
		}
		ids := make([]string, len(f.order))
		for i, id := range f.order {
			ids[i] = fmt.Sprintf(`{"id": %q}`, id)
		}
		_, _ = w.Write([]byte("[" + strings.Join(ids, ",") + "]"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/photos/")
	f.details = append(f.details, id)
	pos, ok := f.positions[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = fmt.Fprintf(w, detailTmpl, id, pos)
}

func (f *fakeAPI) snapshot() (details []string, query, auth string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.details...), f.query, f.auth
}

func newTestSource(t *testing.T, api *fakeAPI) *UnsplashSource {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	src, err := NewUnsplashSource(UnsplashOptions{
		BaseURL:    srv.URL,
		AccessKey:  "test-key",
		HTTPClient: srv.Client(),
		Log:        zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestContentHash(t *testing.T) {
	if got := ContentHash("abc123"); got != "e99a18c428cb38d5f260853678922e03" {
		t.Fatalf("ContentHash(abc123) = %s", got)
	}
	if ContentHash("xyz") != ContentHash("xyz") {
		t.Fatal("hash not stable")
	}
	if ContentHash("xyz") == ContentHash("xyz ") {
		t.Fatal("distinct ids collided")
	}
}

func TestFetchPageFiltersMissingCoordinates(t *testing.T) {
	api := &fakeAPI{
		order: []string{"abc123", "half", "none", "ok2"},
		positions: map[string]string{
			"abc123": `{"latitude": 51.5, "longitude": -0.1}`,
			"half":   `{"latitude": 51.5, "longitude": null}`,
			"none":   `{"latitude": null, "longitude": null}`,
			"ok2":    `{"latitude": 0, "longitude": 0}`,
		},
	}
	src := newTestSource(t, api)

	var got []model.PhotoRecord
	for rec, err := range src.FetchPage(context.Background(), 3, 15, "popular") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, rec)
	}

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	first := got[0]
	if first.ID != "e99a18c428cb38d5f260853678922e03" || first.RawID != "abc123" {
		t.Errorf("identity = %s / %s", first.ID, first.RawID)
	}
	if first.Provider != "unsplash" || first.Likes != 24 || first.User.Name != "Jane" {
		t.Errorf("unexpected record %+v", first)
	}
	if first.Created.Location().String() != "UTC" || first.Created.Hour() != 15 {
		t.Errorf("created not normalized to UTC: %v", first.Created)
	}
	if first.Location.Position != (model.GeoPoint{Latitude: 51.5, Longitude: -0.1}) {
		t.Errorf("position = %+v", first.Location.Position)
	}
	if len(first.Tags) != 2 {
		t.Errorf("tags not deduplicated: %v", first.Tags)
	}
	if got[1].RawID != "ok2" {
		t.Errorf("zero coordinates should be kept, got %s", got[1].RawID)
	}
	_, query, auth := api.snapshot()
	if query != "order_by=popular&page=3&per_page=15" {
		t.Errorf("query = %s", query)
	}
	if auth != "Client-ID test-key" {
		t.Errorf("auth header = %s", auth)
	}
}

func TestFetchPageIsLazy(t *testing.T) {
	api := &fakeAPI{
		order: []string{"a", "b", "c"},
		positions: map[string]string{
			"a": `{"latitude": 1, "longitude": 1}`,
			"b": `{"latitude": 2, "longitude": 2}`,
			"c": `{"latitude": 3, "longitude": 3}`,
		},
	}
	src := newTestSource(t, api)

	seq := src.FetchPage(context.Background(), 1, 3, "")
	if details, _, _ := api.snapshot(); len(details) != 0 {
		t.Fatal("no request should happen before iteration")
	}
	for rec, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		if rec.RawID == "a" {
			break
		}
	}
	if details, _, _ := api.snapshot(); len(details) != 1 {
		t.Fatalf("detail fetches = %v, want only [a]", details)
	}
}

func TestFetchPageErrors(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		body   string
		header http.Header
		want   error
	}{
		{"too many requests", http.StatusTooManyRequests, "", nil, ErrRateLimited},
		{"forbidden rate limit", http.StatusForbidden, "Rate Limit Exceeded", nil, ErrRateLimited},
		{"remaining header", http.StatusForbidden, "", http.Header{"X-Ratelimit-Remaining": {"0"}}, ErrRateLimited},
		{"server error", http.StatusInternalServerError, "boom", nil, ErrUnavailable},
		{"bad payload", http.StatusOK, "{not json", nil, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{listCode: tt.code, listBody: tt.body, header: tt.header}
			src := newTestSource(t, api)
			var errs []error
			for _, err := range src.FetchPage(context.Background(), 1, 15, "popular") {
				errs = append(errs, err)
			}
			if len(errs) != 1 || !errors.Is(errs[0], tt.want) {
				t.Fatalf("errors = %v, want one %v", errs, tt.want)
			}
			if !IsRecoverable(errs[0]) {
				t.Fatalf("%v should be recoverable", errs[0])
			}
		})
	}
}

func TestFetchPageDetailFailureKeepsYielded(t *testing.T) {
	api := &fakeAPI{
		order:     []string{"a", "missing", "c"},
		positions: map[string]string{"a": `{"latitude": 1, "longitude": 1}`, "c": `{"latitude": 3, "longitude": 3}`},
	}
	src := newTestSource(t, api)

	var ids []string
	var lastErr error
	for rec, err := range src.FetchPage(context.Background(), 1, 3, "") {
		if err != nil {
			lastErr = err
			continue
		}
		ids = append(ids, rec.RawID)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("yielded %v", ids)
	}
	if !errors.Is(lastErr, ErrUnavailable) {
		t.Fatalf("err = %v", lastErr)
	}
}

func TestNewUnsplashSourceRequiresKey(t *testing.T) {
	if _, err := NewUnsplashSource(UnsplashOptions{}); err == nil {
		t.Fatal("expected error without access key")
	}
}

func TestFetchPageUsesConfiguredProvider(t *testing.T) {
	api := &fakeAPI{
		order:     []string{"a"},
		positions: map[string]string{"a": `{"latitude": 1, "longitude": 2}`},
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	src, err := NewUnsplashSource(UnsplashOptions{
		BaseURL:    srv.URL,
		AccessKey:  "test-key",
		Provider:   "unsplash-mirror",
		HTTPClient: srv.Client(),
		Log:        zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	for rec, err := range src.FetchPage(context.Background(), 1, 1, "") {
		if err != nil {
			t.Fatal(err)
		}
		if rec.Provider != "unsplash-mirror" || rec.Fields()["provider"] != "unsplash-mirror" {
			t.Fatalf("provider = %q", rec.Provider)
		}
	}
}

func TestRateLimitWaitPastDeadlineIsRecoverable(t *testing.T) {
	api := &fakeAPI{
		order:     []string{"a"},
		positions: map[string]string{"a": `{"latitude": 1, "longitude": 2}`},
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	src, err := NewUnsplashSource(UnsplashOptions{
		BaseURL:   srv.URL,
		AccessKey: "test-key",
		// 首个请求用掉令牌，第二个需要等待约 1000s
		RequestsPerSecond: 0.001,
		HTTPClient:        srv.Client(),
		Log:               zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for _, err := range src.FetchPage(ctx, 1, 1, "") {
		errs = append(errs, err)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnavailable) {
		t.Fatalf("errors = %v, want one ErrUnavailable", errs)
	}
	if !IsRecoverable(errs[0]) {
		t.Fatalf("%v should be recoverable", errs[0])
	}
	if ctx.Err() != nil {
		t.Fatal("limiter should fail fast instead of waiting for the deadline")
	}
}
