package search

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of a search session.
type SessionStatus string

// Session status values persisted in the session store.
const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
)

// SessionState is the metadata persisted for each search session. Progress
// counters only ever increase within a session's life.
type SessionState struct {
	ID             string        `json:"id"`
	Status         SessionStatus `json:"status"`
	TotalTerms     int           `json:"totalTerms"`
	ProcessedTerms int           `json:"processedTerms"`
	TotalProducts  int           `json:"totalProducts"`
	RegionID       string        `json:"regionId,omitempty"`
	Region         RegionInfo    `json:"region"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// RegionInfo is the retailer-side delivery context scoping all catalog
// queries for a session.
type RegionInfo struct {
	RegionID       string `json:"regionId,omitempty"`
	Nickname       string `json:"nickname,omitempty"`
	DisplayAddress string `json:"displayAddress,omitempty"`
	PostalCode     string `json:"postalCode,omitempty"`
}

// RegionFailureReason classifies why a region lookup produced no region.
type RegionFailureReason string

// Region failure reasons.
const (
	RegionFailureTimeout   RegionFailureReason = "timeout"
	RegionFailureTransport RegionFailureReason = "transport"
	RegionFailureUnknown   RegionFailureReason = "unknown"
)

// Label returns the short human-readable classification used on the wire.
func (r RegionFailureReason) Label() string {
	switch r {
	case RegionFailureTimeout:
		return "Timeout"
	case RegionFailureTransport:
		return "Error"
	default:
		return "Unknown"
	}
}

// RegionFailure carries the classification and detail of a failed lookup.
type RegionFailure struct {
	Reason RegionFailureReason
	Detail string
}

// RegionResult is the tagged outcome of a region lookup: either Region holds
// a resolved region, or Failure explains why none could be determined. The
// resolver never reports failures as errors.
type RegionResult struct {
	Region  RegionInfo
	Failure *RegionFailure
}

// Resolved reports whether a usable region was determined.
func (r RegionResult) Resolved() bool {
	return r.Failure == nil && r.Region.RegionID != ""
}

// Info flattens the result into the legacy wire encoding, where a failed
// lookup reuses the nickname and displayAddress fields to carry the failure
// classification and message.
func (r RegionResult) Info() RegionInfo {
	if r.Failure == nil {
		return r.Region
	}
	return RegionInfo{
		Nickname:       r.Failure.Reason.Label(),
		DisplayAddress: r.Failure.Detail,
	}
}

// ProductRecord is the canonical output unit for one (term, match) pair.
// Optional fields are pointers so absent upstream data serializes as null
// rather than a zero value.
type ProductRecord struct {
	Found              bool              `json:"found"`
	SearchTerm         string            `json:"searchTerm"`
	ProductID          *string           `json:"productId"`
	RetailerProductID  *string           `json:"retailerProductId"`
	Name               *string           `json:"name"`
	Brand              *string           `json:"brand"`
	Available          *bool             `json:"available"`
	Category           *string           `json:"category"`
	ImageURL           *string           `json:"imageUrl"`
	CurrentPrice       *float64          `json:"currentPrice"`
	OriginalPrice      *float64          `json:"originalPrice"`
	DiscountPercentage *int              `json:"discountPercentage"`
	UnitPrice          *float64          `json:"unitPrice"`
	UnitLabel          *string           `json:"unitLabel"`
	Currency           string            `json:"currency,omitempty"`
	Offers             []json.RawMessage `json:"offers"`
	NotFoundMessage    string            `json:"notFoundMessage,omitempty"`
}

// ProductSet is an ordered collection of raw product entities keyed by
// product identifier. Upstream ordering is significant: article-mode search
// returns the first entity the catalog listed.
type ProductSet struct {
	ids      []string
	products map[string]map[string]any
}

// NewProductSet returns an empty ProductSet.
func NewProductSet() *ProductSet {
	return &ProductSet{products: make(map[string]map[string]any)}
}

// Add appends an entity, preserving insertion order. Re-adding an existing
// identifier replaces its attributes without duplicating the position.
func (s *ProductSet) Add(id string, attrs map[string]any) {
	if _, exists := s.products[id]; !exists {
		s.ids = append(s.ids, id)
	}
	s.products[id] = attrs
}

// Len returns the number of entities in the set.
func (s *ProductSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns product identifiers in upstream order.
func (s *ProductSet) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Get returns the raw attributes for a product identifier.
func (s *ProductSet) Get(id string) (map[string]any, bool) {
	if s == nil {
		return nil, false
	}
	attrs, ok := s.products[id]
	return attrs, ok
}

// Query carries everything needed to look up one term.
type Query struct {
	Term       string
	RegionID   string
	Credential string
}

// BatchRequest describes one chunk of terms to process.
type BatchRequest struct {
	Terms      []string
	RegionID   string
	Credential string
	Limit      any
	Mode       Mode
}

// BatchResult aggregates the outcome of a batch. Records are in task
// completion order, not submission order.
type BatchResult struct {
	Records    []ProductRecord
	TotalFound int
	Processed  int
}
