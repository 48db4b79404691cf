package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Nacnud88/markschecker3/internal/metrics"
)

const (
	searchPath = "/api/v6/products/search"

	productIDMarker = `"productId"`
	altIDMarker     = `"retailerProductId"`
)

// identifierShape gates the page-scrape tier: only terms that look like
// article identifiers have a product detail page worth fetching.
var identifierShape = regexp.MustCompile(`^[A-Za-z0-9_-]{3,}$`)

// statePattern locates the serialized application state embedded in a product
// detail page.
var statePattern = regexp.MustCompile(`window\.__INITIAL_STATE__=(\{.*?\})</script>`)

// FetcherConfig controls the product lookup pipeline.
type FetcherConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	QPS       float64
	// ArchivePrefix is the object-name prefix for archived unparseable
	// payloads. Archiving is disabled when no BlobStore is wired.
	ArchivePrefix string
}

// Fetcher resolves a single term against the retailer catalog through three
// tiers: the structured search API, a product detail page scrape, and regex
// salvage over whatever bytes were obtained.
type Fetcher struct {
	cfg      FetcherConfig
	client   *http.Client
	pages    PageFetcher
	renderer PageRenderer
	archive  BlobStore
	hasher   Hasher
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewFetcher constructs a Fetcher. renderer and archive may be nil, disabling
// headless rendering and payload archiving respectively.
func NewFetcher(cfg FetcherConfig, pages PageFetcher, renderer PageRenderer, archive BlobStore, hasher Hasher, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.QPS <= 0 {
		cfg.QPS = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		pages:    pages,
		renderer: renderer,
		archive:  archive,
		hasher:   hasher,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QPS), 1),
		logger:   logger,
	}
}

// Lookup resolves one term. A nil return means no usable data could be
// obtained; an empty set means the catalog legitimately found nothing.
func (f *Fetcher) Lookup(ctx context.Context, q Query) *ProductSet {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil
	}

	body, status, err := f.searchAPI(ctx, q)
	if err != nil {
		f.logger.Warn("search api request failed", zap.String("term", q.Term), zap.Error(err))
		metrics.ObserveFetchTier("api", "transport")
		return nil
	}

	if status != http.StatusOK {
		f.logger.Debug("search api returned non-200",
			zap.String("term", q.Term), zap.Int("status", status))
		metrics.ObserveFetchTier("api", "status")
		return f.lookupFromPage(ctx, q)
	}

	if !hasProductMarkers(body) {
		metrics.ObserveFetchTier("api", "empty")
		return NewProductSet()
	}

	var payload searchPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		set, decErr := decodeProductEntities(payload.Entities.Product)
		if decErr == nil {
			metrics.ObserveFetchTier("api", "ok")
			return set
		}
		err = decErr
	}

	// Markers are present but the body will not parse. Archive the payload
	// for later inspection, then fall back to fragment salvage.
	f.archiveBody(ctx, q.Term, body)
	if set := SalvageProducts(body); set != nil {
		metrics.ObserveFetchTier("salvage", "ok")
		return set
	}
	metrics.ObserveFetchTier("salvage", "empty")
	return f.lookupFromPage(ctx, q)
}

// searchAPI performs the tier-1 structured search request.
func (f *Fetcher) searchAPI(ctx context.Context, q Query) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	u := f.cfg.BaseURL + searchPath + "?" + url.Values{
		"term":     {q.Term},
		"regionId": {q.RegionID},
	}.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	req.Header.Set("client-route-id", uuid.NewString())
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.AddCookie(&http.Cookie{Name: "global_sid", Value: q.Credential})

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// lookupFromPage is the tier-2 fallback: fetch the product detail page and
// extract entities from its embedded state. Only identifier-shaped terms have
// a detail page.
func (f *Fetcher) lookupFromPage(ctx context.Context, q Query) *ProductSet {
	if f.pages == nil || !identifierShape.MatchString(q.Term) {
		return nil
	}

	pageURL := f.cfg.BaseURL + "/products/" + url.PathEscape(q.Term)
	resp, err := f.pages.FetchPage(ctx, PageRequest{
		URL:     pageURL,
		Referer: f.cfg.BaseURL + "/",
		Cookies: []*http.Cookie{{Name: "global_sid", Value: q.Credential}},
	})
	if err != nil {
		f.logger.Warn("product page fetch failed", zap.String("term", q.Term), zap.Error(err))
		metrics.ObserveFetchTier("page", "transport")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveFetchTier("page", "status")
		return nil
	}

	if set := f.productsFromState(q.Term, resp.Body); set != nil {
		metrics.ObserveFetchTier("page", "ok")
		return set
	}

	// The static page carried no state block; some variants only populate
	// it client-side. Render with a real browser when one is available.
	if f.renderer == nil {
		metrics.ObserveFetchTier("page", "empty")
		return nil
	}
	rendered, err := f.renderer.Render(ctx, pageURL, []*http.Cookie{{Name: "global_sid", Value: q.Credential}})
	if err != nil {
		f.logger.Warn("product page render failed", zap.String("term", q.Term), zap.Error(err))
		metrics.ObserveFetchTier("render", "transport")
		return nil
	}
	if set := f.productsFromState(q.Term, rendered); set != nil {
		metrics.ObserveFetchTier("render", "ok")
		return set
	}
	metrics.ObserveFetchTier("render", "empty")
	return nil
}

// productsFromState extracts product entities from a page's embedded
// application state, salvaging fragments when the state JSON is malformed.
func (f *Fetcher) productsFromState(term string, page []byte) *ProductSet {
	m := statePattern.FindSubmatch(page)
	if m == nil {
		return nil
	}
	state := m[1]

	var payload searchPayload
	if err := json.Unmarshal(state, &payload); err == nil {
		if set, err := decodeProductEntities(payload.Entities.Product); err == nil && set.Len() > 0 {
			return set
		}
	}
	f.archiveBody(context.Background(), term, state)
	return SalvageProducts(state)
}

// archiveBody persists an unparseable payload for offline inspection. Purely
// best-effort; failures are logged and ignored.
func (f *Fetcher) archiveBody(ctx context.Context, term string, body []byte) {
	if f.archive == nil || f.hasher == nil {
		return
	}
	digest, err := f.hasher.Hash(body)
	if err != nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%s.json", f.cfg.ArchivePrefix, url.PathEscape(term), digest)
	if _, err := f.archive.PutObject(ctx, path, "application/json", body); err != nil {
		f.logger.Warn("payload archive failed", zap.String("term", term), zap.Error(err))
	}
}

func hasProductMarkers(body []byte) bool {
	return bytes.Contains(body, []byte(productIDMarker)) ||
		bytes.Contains(body, []byte(altIDMarker))
}
