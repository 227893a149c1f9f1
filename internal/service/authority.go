package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Harshitk-cp/credence/internal/canon"
	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/safeio"
	"github.com/Harshitk-cp/credence/internal/store"
)

const (
	// DefaultAuthorityMaxBytes caps a fetched trust table before parsing.
	DefaultAuthorityMaxBytes = 1 << 20
	// DefaultAuthorityMaxEntries caps how many entries one table may carry.
	DefaultAuthorityMaxEntries = 500

	authorityFetchTimeout = 20 * time.Second
)

var (
	ErrAuthorityScheme    = errors.New("authority target scheme not allowed")
	ErrAuthorityTooLarge  = errors.New("authority table exceeds size limit")
	ErrTooManyEntries     = errors.New("authority table exceeds entry limit")
	ErrNotAuthority       = errors.New("entry is not an authority")
	ErrAuthorityNoTarget  = errors.New("authority entry has no fetchable target")
	ErrAuthorityExhausted = errors.New("authority unreachable and nothing cached")
)

// HTTPAuthorityFetcher retrieves remote trust tables. Only https:// targets
// and file:// targets confined to the allow-listed directory are fetched;
// every other scheme is refused outright. Fetches are paced by a shared
// rate limiter so a graph dense with authorities cannot hammer a host.
type HTTPAuthorityFetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	fileDir    string
	maxBytes   int64
	maxEntries int
}

var _ domain.AuthorityFetcher = (*HTTPAuthorityFetcher)(nil)

// NewHTTPAuthorityFetcher builds a fetcher. An empty fileDir disables
// file:// targets entirely.
func NewHTTPAuthorityFetcher(fileDir string) *HTTPAuthorityFetcher {
	return &HTTPAuthorityFetcher{
		httpClient: &http.Client{Timeout: authorityFetchTimeout},
		limiter:    rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		fileDir:    fileDir,
		maxBytes:   DefaultAuthorityMaxBytes,
		maxEntries: DefaultAuthorityMaxEntries,
	}
}

func (f *HTTPAuthorityFetcher) FetchTable(ctx context.Context, target string) ([]domain.TrustEntry, error) {
	switch {
	case strings.HasPrefix(target, "https://"):
		return f.fetchHTTP(ctx, target)
	case strings.HasPrefix(target, "file://"):
		return f.fetchFile(target)
	default:
		return nil, fmt.Errorf("%w: %s", ErrAuthorityScheme, target)
	}
}

func (f *HTTPAuthorityFetcher) fetchHTTP(ctx context.Context, target string) ([]domain.TrustEntry, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create authority request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson, application/xml, text/xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s (limit %d bytes)", ErrAuthorityTooLarge, target, f.maxBytes)
	}

	return f.parse(target, body)
}

func (f *HTTPAuthorityFetcher) fetchFile(target string) ([]domain.TrustEntry, error) {
	if f.fileDir == "" {
		return nil, fmt.Errorf("%w: file targets are disabled: %s", ErrAuthorityScheme, target)
	}
	path, err := safeio.ResolveInDir(f.fileDir, strings.TrimPrefix(target, "file://"))
	if err != nil {
		return nil, fmt.Errorf("authority file %s: %w", target, err)
	}
	body, err := safeio.ReadFileCapped(path, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("authority file %s: %w", target, err)
	}
	return f.parse(target, body)
}

// parse accepts either format a host is likely to publish: an NDJSON
// snapshot (the export endpoint's output, sniffed by its leading brace) or
// a bare XML fragment list.
func (f *HTTPAuthorityFetcher) parse(target string, body []byte) ([]domain.TrustEntry, error) {
	var entries []domain.TrustEntry
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		state, err := store.ParseState(body, store.LoadOptions{})
		if err != nil {
			return nil, fmt.Errorf("authority %s: %w", target, err)
		}
		entries = state.Trust
	} else {
		parsed, err := canon.ParseTable(string(body), canon.Options{})
		if err != nil {
			return nil, fmt.Errorf("authority %s: %w", target, err)
		}
		entries = make([]domain.TrustEntry, 0, len(parsed))
		for _, e := range parsed {
			entries = append(entries, *e)
		}
	}

	if len(entries) > f.maxEntries {
		return nil, fmt.Errorf("%w: %s has %d entries (limit %d)", ErrTooManyEntries, target, len(entries), f.maxEntries)
	}
	return entries, nil
}

type authorityCacheEntry struct {
	entries   []domain.TrustEntry
	fetchedAt time.Time
}

// AuthorityResolver expands authority entries into locally scaled copies of
// their remote tables. Tables are cached per target and reused within the
// entry's refresh interval; when a refresh fails, the last good table keeps
// serving so a flaky host cannot erase established trust.
type AuthorityResolver struct {
	fetcher domain.AuthorityFetcher
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]*authorityCacheEntry
}

func NewAuthorityResolver(fetcher domain.AuthorityFetcher, logger *zap.Logger) *AuthorityResolver {
	return &AuthorityResolver{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*authorityCacheEntry),
	}
}

// Resolve returns the entries contributed by one authority. Each remote
// entry is namespaced under the authority's ID, its certainty scaled by the
// local trust in the authority, and its content rebuilt to match. Nested
// authority entries are dropped so trust never chains transitively, and
// remote provider entries are dropped so a fetched table can never inject
// an LLM backend.
func (r *AuthorityResolver) Resolve(ctx context.Context, auth *domain.TrustEntry) ([]domain.TrustEntry, error) {
	if auth == nil || auth.Kind != domain.KindAuthority || auth.Authority == nil {
		return nil, ErrNotAuthority
	}
	target := auth.Authority.Target
	if target == "" {
		return nil, fmt.Errorf("%w: %s", ErrAuthorityNoTarget, auth.ID)
	}

	r.mu.Lock()
	cached, haveCache := r.cache[target]
	r.mu.Unlock()

	if haveCache && time.Since(cached.fetchedAt) < auth.Authority.RefreshInterval() {
		return r.scale(auth, cached.entries), nil
	}

	remote, err := r.fetcher.FetchTable(ctx, target)
	if err != nil {
		if haveCache {
			r.logger.Warn("authority refresh failed, serving last good table",
				zap.String("authority", auth.ID),
				zap.String("target", target),
				zap.Error(err))
			return r.scale(auth, cached.entries), nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrAuthorityExhausted, target, err)
	}

	r.mu.Lock()
	r.cache[target] = &authorityCacheEntry{entries: remote, fetchedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Debug("authority table fetched",
		zap.String("authority", auth.ID),
		zap.String("target", target),
		zap.Int("entries", len(remote)))

	return r.scale(auth, remote), nil
}

// Refresh re-fetches one target unconditionally, keeping the old table on
// failure. Used by the background refresh loop.
func (r *AuthorityResolver) Refresh(ctx context.Context, target string) error {
	remote, err := r.fetcher.FetchTable(ctx, target)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[target] = &authorityCacheEntry{entries: remote, fetchedAt: time.Now()}
	r.mu.Unlock()
	return nil
}

// CachedTargets lists targets with a cached table, oldest fetch first.
func (r *AuthorityResolver) CachedTargets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]string, 0, len(r.cache))
	for t := range r.cache {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		return r.cache[targets[i]].fetchedAt.Before(r.cache[targets[j]].fetchedAt)
	})
	return targets
}

func (r *AuthorityResolver) scale(auth *domain.TrustEntry, remote []domain.TrustEntry) []domain.TrustEntry {
	local := auth.EffectiveCertainty()
	prefix := auth.ID + ":"

	kept := make(map[string]bool, len(remote))
	for _, e := range remote {
		if e.Kind != domain.KindAuthority && e.Kind != domain.KindProvider {
			kept[e.ID] = true
		}
	}

	out := make([]domain.TrustEntry, 0, len(remote))
	dropped := 0
	for _, e := range remote {
		if e.Kind == domain.KindAuthority || e.Kind == domain.KindProvider {
			dropped++
			continue
		}

		scaled := e
		scaled.ID = prefix + e.ID
		scaled.Certainty = domain.ClampCertainty(local * e.Certainty)
		if !scaled.Kind.Operator() {
			scaled.Source = auth.ID
		}
		if len(e.Children) > 0 {
			scaled.Children = make([]string, 0, len(e.Children))
			for _, child := range e.Children {
				if kept[child] {
					scaled.Children = append(scaled.Children, prefix+child)
				}
			}
		}
		canon.Rebuild(&scaled)
		out = append(out, scaled)
	}

	if dropped > 0 {
		r.logger.Debug("dropped structural entries from authority table",
			zap.String("authority", auth.ID),
			zap.Int("dropped", dropped))
	}
	return out
}
