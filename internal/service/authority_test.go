package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/domain"
)

type mockFetcher struct {
	mu     sync.Mutex
	tables map[string][]domain.TrustEntry
	errs   map[string]error
	calls  map[string]int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		tables: make(map[string][]domain.TrustEntry),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *mockFetcher) FetchTable(ctx context.Context, target string) ([]domain.TrustEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[target]++
	if err := f.errs[target]; err != nil {
		return nil, err
	}
	return f.tables[target], nil
}

func (f *mockFetcher) callCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

func authorityEntry(id, target string, certainty float64) domain.TrustEntry {
	return domain.TrustEntry{
		ID:        id,
		Kind:      domain.KindAuthority,
		Certainty: certainty,
		Authority: &domain.AuthoritySpec{Target: target},
	}
}

func TestResolveScalesAndNamespaces(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.tables["https://nasa.example/trust.xml"] = []domain.TrustEntry{
		fact("f1", 0.8),
	}

	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("nasa", "https://nasa.example/trust.xml", 0.5)

	got, err := r.Resolve(context.Background(), &auth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}

	e := got[0]
	if e.ID != "nasa:f1" {
		t.Errorf("ID = %q, want namespaced nasa:f1", e.ID)
	}
	if e.Certainty != 0.4 {
		t.Errorf("certainty = %v, want 0.5*0.8 = 0.4", e.Certainty)
	}
	if e.Source != "nasa" {
		t.Errorf("source = %q, want the authority's ID", e.Source)
	}
	if !strings.Contains(e.Content, `id="nasa:f1"`) || !strings.Contains(e.Content, `certainty="0.4"`) {
		t.Errorf("content not rebuilt after scaling: %q", e.Content)
	}
}

func TestResolveScalingClampsAndFlips(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.tables["https://t.example/x"] = []domain.TrustEntry{
		fact("pos", 0.9),
		fact("neg", -0.5),
	}

	// A distrusted authority flips the sign of everything it asserts.
	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("hostile", "https://t.example/x", -1)

	got, err := r.Resolve(context.Background(), &auth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	byID := map[string]float64{}
	for _, e := range got {
		byID[e.ID] = e.Certainty
	}
	if !floatEq(byID["hostile:pos"], -0.9) {
		t.Errorf("hostile:pos = %v, want -0.9", byID["hostile:pos"])
	}
	if !floatEq(byID["hostile:neg"], 0.5) {
		t.Errorf("hostile:neg = %v, want 0.5", byID["hostile:neg"])
	}
}

func TestResolveDropsNestedStructural(t *testing.T) {
	nested := authorityEntry("deep", "https://deep.example/t", 0.9)
	provider := domain.TrustEntry{
		ID:       "p1",
		Kind:     domain.KindProvider,
		Provider: &domain.ProviderSpec{Name: "injected", Endpoint: "https://evil.example"},
	}

	fetcher := newMockFetcher()
	fetcher.tables["https://t.example/x"] = []domain.TrustEntry{
		fact("keep", 0.7),
		nested,
		provider,
	}

	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("a", "https://t.example/x", 1)

	got, err := r.Resolve(context.Background(), &auth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a:keep" {
		t.Errorf("got %+v, want only the fact to survive", got)
	}
}

func TestResolveNamespacesOperatorChildren(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.tables["https://t.example/x"] = []domain.TrustEntry{
		fact("f1", 0.8),
		fact("f2", 0.6),
		op("both", domain.KindAnd, "f1", "f2", "ghost"),
	}

	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("a", "https://t.example/x", 1)

	got, err := r.Resolve(context.Background(), &auth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	var andEntry *domain.TrustEntry
	for i := range got {
		if got[i].Kind == domain.KindAnd {
			andEntry = &got[i]
		}
	}
	if andEntry == nil {
		t.Fatal("operator entry missing from resolved table")
	}
	want := []string{"a:f1", "a:f2"}
	if len(andEntry.Children) != len(want) {
		t.Fatalf("children = %v, want %v (dangling ref dropped)", andEntry.Children, want)
	}
	for i, id := range want {
		if andEntry.Children[i] != id {
			t.Errorf("child %d = %q, want %q", i, andEntry.Children[i], id)
		}
	}
}

func TestResolveCachesWithinInterval(t *testing.T) {
	fetcher := newMockFetcher()
	fetcher.tables["https://t.example/x"] = []domain.TrustEntry{fact("f1", 0.8)}

	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("a", "https://t.example/x", 0.5)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), &auth); err != nil {
			t.Fatalf("Resolve #%d error: %v", i, err)
		}
	}
	if n := fetcher.callCount("https://t.example/x"); n != 1 {
		t.Errorf("fetch count = %d, want 1 (cache within refresh interval)", n)
	}
}

func TestResolveServesLastGoodOnFailure(t *testing.T) {
	target := "https://t.example/x"
	fetcher := newMockFetcher()
	fetcher.tables[target] = []domain.TrustEntry{fact("f1", 0.8)}

	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("a", target, 0.5)

	if _, err := r.Resolve(context.Background(), &auth); err != nil {
		t.Fatalf("seed Resolve error: %v", err)
	}

	// Age the cache past the refresh interval, then make the host fail.
	r.mu.Lock()
	r.cache[target].fetchedAt = time.Now().Add(-24 * time.Hour)
	r.mu.Unlock()
	fetcher.mu.Lock()
	fetcher.errs[target] = errors.New("host down")
	fetcher.mu.Unlock()

	got, err := r.Resolve(context.Background(), &auth)
	if err != nil {
		t.Fatalf("Resolve should serve the stale table, got error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a:f1" {
		t.Errorf("got %+v, want the cached table", got)
	}
}

func TestResolveFailsWithoutCache(t *testing.T) {
	target := "https://t.example/x"
	fetcher := newMockFetcher()
	fetcher.errs[target] = errors.New("host down")

	r := NewAuthorityResolver(fetcher, zap.NewNop())
	auth := authorityEntry("a", target, 0.5)

	if _, err := r.Resolve(context.Background(), &auth); !errors.Is(err, ErrAuthorityExhausted) {
		t.Errorf("error = %v, want ErrAuthorityExhausted", err)
	}
}

func TestResolveRejectsNonAuthority(t *testing.T) {
	r := NewAuthorityResolver(newMockFetcher(), zap.NewNop())

	plain := fact("f1", 0.5)
	if _, err := r.Resolve(context.Background(), &plain); !errors.Is(err, ErrNotAuthority) {
		t.Errorf("error = %v, want ErrNotAuthority", err)
	}
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrNotAuthority) {
		t.Errorf("error = %v, want ErrNotAuthority for nil", err)
	}
}

func TestFetcherRejectsSchemes(t *testing.T) {
	f := NewHTTPAuthorityFetcher("")
	for _, target := range []string{
		"http://insecure.example/trust.xml",
		"ftp://files.example/trust.xml",
		"did:example:123456",
		"javascript:alert(1)",
	} {
		if _, err := f.FetchTable(context.Background(), target); !errors.Is(err, ErrAuthorityScheme) {
			t.Errorf("FetchTable(%q) error = %v, want ErrAuthorityScheme", target, err)
		}
	}
}

func TestFetcherFileDisabledWithoutDir(t *testing.T) {
	f := NewHTTPAuthorityFetcher("")
	if _, err := f.FetchTable(context.Background(), "file://table.xml"); !errors.Is(err, ErrAuthorityScheme) {
		t.Errorf("error = %v, want ErrAuthorityScheme when no file dir is configured", err)
	}
}

func TestFetcherHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<trust><fact id="f1" certainty="0.8">remote fact</fact></trust>`)
	}))
	defer srv.Close()

	f := NewHTTPAuthorityFetcher("")
	f.httpClient = srv.Client()

	got, err := f.FetchTable(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchTable error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" || got[0].Certainty != 0.8 {
		t.Errorf("got %+v, want the parsed remote fact", got)
	}
}

func TestFetcherNDJSONTable(t *testing.T) {
	body := `{"type":"header","version":1,"app":"credence"}
{"type":"trust","entry":{"content":"<fact id=\"nd1\" certainty=\"0.7\">published over ndjson</fact>"}}`
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewHTTPAuthorityFetcher("")
	f.httpClient = srv.Client()

	got, err := f.FetchTable(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchTable error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "nd1" || got[0].Certainty != 0.7 {
		t.Errorf("got %+v, want the snapshot's trust entry", got)
	}
}

func TestFetcherHTTPSStatusError(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPAuthorityFetcher("")
	f.httpClient = srv.Client()

	if _, err := f.FetchTable(context.Background(), srv.URL); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestFetcherSizeCap(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<trust><fact id="f1">%s</fact></trust>`, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	f := NewHTTPAuthorityFetcher("")
	f.httpClient = srv.Client()
	f.maxBytes = 1024

	if _, err := f.FetchTable(context.Background(), srv.URL); !errors.Is(err, ErrAuthorityTooLarge) {
		t.Errorf("error = %v, want ErrAuthorityTooLarge", err)
	}
}

func TestFetcherEntryCap(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		sb.WriteString("<trust>")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&sb, `<fact id="f%d" certainty="0.5">entry</fact>`, i)
		}
		sb.WriteString("</trust>")
		fmt.Fprint(w, sb.String())
	}))
	defer srv.Close()

	f := NewHTTPAuthorityFetcher("")
	f.httpClient = srv.Client()
	f.maxEntries = 2

	if _, err := f.FetchTable(context.Background(), srv.URL); !errors.Is(err, ErrTooManyEntries) {
		t.Errorf("error = %v, want ErrTooManyEntries", err)
	}
}

func TestFetcherFile(t *testing.T) {
	dir := t.TempDir()
	table := `<trust><fact id="f1" certainty="0.6">local table</fact></trust>`
	if err := os.WriteFile(filepath.Join(dir, "table.xml"), []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewHTTPAuthorityFetcher(dir)
	got, err := f.FetchTable(context.Background(), "file://table.xml")
	if err != nil {
		t.Fatalf("FetchTable error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("got %+v, want the file table", got)
	}
}

func TestFetcherFileTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	f := NewHTTPAuthorityFetcher(dir)
	if _, err := f.FetchTable(context.Background(), "file://../escape.xml"); err == nil {
		t.Error("expected error for path traversal")
	}
}
