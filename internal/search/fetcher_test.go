package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePageFetcher struct {
	mu    sync.Mutex
	calls []PageRequest
	resp  PageResponse
	err   error
}

func (f *fakePageFetcher) FetchPage(_ context.Context, req PageRequest) (PageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func (f *fakePageFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func searchAPIServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, searchPath, r.URL.Path)
		require.Equal(t, "MILK1", r.URL.Query().Get("term"))
		require.Equal(t, "R1", r.URL.Query().Get("regionId"))
		cookie, err := r.Cookie("global_sid")
		require.NoError(t, err)
		require.Equal(t, "sid-1", cookie.Value)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testQuery() Query {
	return Query{Term: "MILK1", RegionID: "R1", Credential: "sid-1"}
}

func TestFetcherLookupStructuredAPI(t *testing.T) {
	t.Parallel()

	body := `{"entities": {"product": {
		"P1": {"productId": "P1", "name": "Milk"},
		"P2": {"productId": "P2", "name": "Milk 2L"}
	}}}`
	srv := searchAPIServer(t, http.StatusOK, body)
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, nil, nil, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.NotNil(t, set)
	require.Equal(t, []string{"P1", "P2"}, set.IDs())
}

func TestFetcherLookupEmptyWhenNoMarkers(t *testing.T) {
	t.Parallel()

	srv := searchAPIServer(t, http.StatusOK, `{"entities": {}}`)
	pages := &fakePageFetcher{}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, pages, nil, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.NotNil(t, set)
	require.Zero(t, set.Len())
	require.Zero(t, pages.callCount(), "marker-free response must not trigger page fallback")
}

func TestFetcherLookupSalvagesMalformedBody(t *testing.T) {
	t.Parallel()

	body := `{"entities": {"product": {"P1": {"productId":"P1","name":"Milk"} truncated...`
	srv := searchAPIServer(t, http.StatusOK, body)
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, nil, nil, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.NotNil(t, set)
	require.Equal(t, []string{"P1"}, set.IDs())
}

func TestFetcherLookupFallsBackToPage(t *testing.T) {
	t.Parallel()

	srv := searchAPIServer(t, http.StatusForbidden, "blocked")
	page := `<html><script>window.__INITIAL_STATE__={"entities":{"product":{"P9":{"productId":"P9","name":"Milk"}}}}</script></html>`
	pages := &fakePageFetcher{resp: PageResponse{StatusCode: http.StatusOK, Body: []byte(page)}}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, pages, nil, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.NotNil(t, set)
	require.Equal(t, []string{"P9"}, set.IDs())
	require.Equal(t, 1, pages.callCount())
	require.Equal(t, srv.URL+"/products/MILK1", pages.calls[0].URL)
	require.Equal(t, srv.URL+"/", pages.calls[0].Referer)
	require.Len(t, pages.calls[0].Cookies, 1)
	require.Equal(t, "global_sid", pages.calls[0].Cookies[0].Name)
}

func TestFetcherLookupSkipsPageForNonIdentifierTerms(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	pages := &fakePageFetcher{}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, pages, nil, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), Query{Term: "whole milk", RegionID: "R1", Credential: "sid-1"})

	require.Nil(t, set)
	require.Zero(t, pages.callCount())
}

func TestFetcherLookupNilOnTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	pages := &fakePageFetcher{}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, pages, nil, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.Nil(t, set)
	require.Zero(t, pages.callCount(), "transport failures must not cascade into page fetches")
}

func TestFetcherLookupPageFetchError(t *testing.T) {
	t.Parallel()

	srv := searchAPIServer(t, http.StatusBadGateway, "oops")
	pages := &fakePageFetcher{err: errors.New("connection reset")}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, pages, nil, nil, nil, nil)

	require.Nil(t, fetcher.Lookup(context.Background(), testQuery()))
}

type fakeRenderer struct {
	body []byte
	err  error
}

func (r *fakeRenderer) Render(context.Context, string, []*http.Cookie) ([]byte, error) {
	return r.body, r.err
}

func TestFetcherLookupRendersWhenStaticPageLacksState(t *testing.T) {
	t.Parallel()

	srv := searchAPIServer(t, http.StatusForbidden, "blocked")
	pages := &fakePageFetcher{resp: PageResponse{
		StatusCode: http.StatusOK,
		Body:       []byte("<html>shell only</html>"),
	}}
	rendered := `<html><script>window.__INITIAL_STATE__={"entities":{"product":{"R1":{"productId":"R1"}}}}</script></html>`
	renderer := &fakeRenderer{body: []byte(rendered)}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL}, pages, renderer, nil, nil, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.NotNil(t, set)
	require.Equal(t, []string{"R1"}, set.IDs())
}

func TestFetcherArchivesUnparseablePayloads(t *testing.T) {
	t.Parallel()

	body := `{"entities": {"product": {"P1": {"productId":"P1"} broken`
	srv := searchAPIServer(t, http.StatusOK, body)

	archive := &fakeBlobStore{}
	fetcher := NewFetcher(FetcherConfig{BaseURL: srv.URL, ArchivePrefix: "payloads"},
		nil, nil, archive, fakeHasher{}, nil)

	set := fetcher.Lookup(context.Background(), testQuery())

	require.NotNil(t, set)
	require.Equal(t, 1, archive.count())
	require.Equal(t, "payloads/MILK1/digest.json", archive.paths()[0])
}

type fakeBlobStore struct {
	mu    sync.Mutex
	saved []string
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, path)
	return "mem://" + path, nil
}

func (b *fakeBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.saved)
}

func (b *fakeBlobStore) paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.saved...)
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "digest", nil }
