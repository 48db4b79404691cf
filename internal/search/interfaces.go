package search

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrSessionNotFound is returned by SessionStore implementations when the
// requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists session metadata and the product records produced
// for it.
type SessionStore interface {
	CreateSession(ctx context.Context, state SessionState) error
	GetSession(ctx context.Context, id string) (SessionState, error)
	UpdateProgress(ctx context.Context, id string, upd ProgressUpdate) error
	AppendProducts(ctx context.Context, id string, records []ProductRecord) error
	ListProducts(ctx context.Context, id string) ([]ProductRecord, error)
	DeleteSession(ctx context.Context, id string) error
}

// ProgressUpdate is a partial update of a session's progress counters; nil
// fields are left untouched.
type ProgressUpdate struct {
	ProcessedTerms *int
	TotalProducts  *int
	Status         *SessionStatus
}

// RegionLookup resolves the retailer-side region for a session credential.
// All failure modes are encoded in the returned value, never as an error.
type RegionLookup interface {
	Resolve(ctx context.Context, credential string) RegionResult
}

// ProductLookup obtains product entities for one term. A nil set means no
// usable data was obtained; an empty set means the upstream legitimately
// found nothing.
type ProductLookup interface {
	Lookup(ctx context.Context, q Query) *ProductSet
}

// BatchRunner processes a chunk of terms and aggregates the results.
type BatchRunner interface {
	Process(ctx context.Context, req BatchRequest) BatchResult
}

// PageFetcher retrieves a rendered-or-static product detail page.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (PageResponse, error)
}

// PageRequest describes one product page fetch.
type PageRequest struct {
	URL     string
	Referer string
	Cookies []*http.Cookie
}

// PageResponse is the body and status of a fetched page.
type PageResponse struct {
	StatusCode int
	Body       []byte
}

// PageRenderer executes a product page with JavaScript enabled and returns
// the resulting DOM snapshot.
type PageRenderer interface {
	Render(ctx context.Context, pageURL string, cookies []*http.Cookie) ([]byte, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes chunk-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
