package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nacnud88/markschecker3/internal/metrics"
)

const (
	cartPath = "/api/cart/v1/carts/active"

	// maxBodyBytes caps how much of an upstream response is read; salvage
	// parsing never needs more than this.
	maxBodyBytes = 4 << 20

	errDetailLimit = 80
)

// Region salvage patterns: key/value pairs located in raw body text without
// requiring a valid JSON wrapper.
var (
	regionIDPattern       = regexp.MustCompile(`"regionId"\s*:\s*"?([0-9a-fA-F-]+)"?`)
	nicknamePattern       = regexp.MustCompile(`"nickname"\s*:\s*"([^"\\]*(?:\\.[^"\\]*)*)"`)
	displayAddressPattern = regexp.MustCompile(`"displayAddress"\s*:\s*"([^"\\]*(?:\\.[^"\\]*)*)"`)
	postalCodePattern     = regexp.MustCompile(`"postalCode"\s*:\s*"([^"\\]*(?:\\.[^"\\]*)*)"`)
)

// RegionResolverConfig controls the region lookup request.
type RegionResolverConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// RegionResolver determines the retailer-side region for a session
// credential via the active-cart endpoint, falling back to regex salvage of
// the raw body when the response is malformed.
type RegionResolver struct {
	client *http.Client
	cfg    RegionResolverConfig
	logger *zap.Logger
}

// NewRegionResolver constructs a RegionResolver.
func NewRegionResolver(cfg RegionResolverConfig, logger *zap.Logger) *RegionResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegionResolver{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// cartPayload mirrors the subset of the active-cart response the resolver
// relies on.
type cartPayload struct {
	RegionID             string `json:"regionId"`
	DefaultCheckoutGroup struct {
		Delivery struct {
			AddressDetails struct {
				Nickname       string `json:"nickname"`
				DisplayAddress string `json:"displayAddress"`
				PostalCode     string `json:"postalCode"`
			} `json:"addressDetails"`
		} `json:"delivery"`
	} `json:"defaultCheckoutGroup"`
}

// Resolve looks up the region for the given credential. It never returns an
// error; every failure mode is encoded in the RegionResult.
func (r *RegionResolver) Resolve(ctx context.Context, credential string) RegionResult {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.cfg.BaseURL+cartPath, nil)
	if err != nil {
		return regionFailure(RegionFailureTransport, truncate(err.Error(), errDetailLimit))
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	req.Header.Set("client-route-id", uuid.NewString())
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.AddCookie(&http.Cookie{Name: "global_sid", Value: credential})

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			r.logger.Warn("region lookup timed out")
			metrics.ObserveRegionLookup("timeout")
			return regionFailure(RegionFailureTimeout, "API request timed out")
		}
		r.logger.Warn("region lookup failed", zap.Error(err))
		metrics.ObserveRegionLookup("error")
		return regionFailure(RegionFailureTransport, truncate(err.Error(), errDetailLimit))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		r.logger.Warn("region lookup body read failed", zap.Error(err))
		metrics.ObserveRegionLookup("error")
		return regionFailure(RegionFailureTransport, truncate(err.Error(), errDetailLimit))
	}

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("region lookup returned non-200", zap.Int("status", resp.StatusCode))
		return r.salvage(body)
	}

	if info, ok := extractRegion(body); ok {
		metrics.ObserveRegionLookup("resolved")
		return RegionResult{Region: info}
	}
	return r.salvage(body)
}

// extractRegion parses a well-formed cart payload. ok is false when the body
// is unparseable or carries no regionId.
func extractRegion(body []byte) (RegionInfo, bool) {
	var payload cartPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return RegionInfo{}, false
	}
	if payload.RegionID == "" {
		return RegionInfo{}, false
	}
	addr := payload.DefaultCheckoutGroup.Delivery.AddressDetails
	return RegionInfo{
		RegionID:       payload.RegionID,
		Nickname:       synthesizeNickname(payload.RegionID, addr.Nickname),
		DisplayAddress: addr.DisplayAddress,
		PostalCode:     addr.PostalCode,
	}, true
}

// salvage searches the raw body text for region key/value patterns. Partial
// or truncated bodies often still carry the fields as plain text.
func (r *RegionResolver) salvage(body []byte) RegionResult {
	regionID := firstSubmatch(regionIDPattern, body)
	if regionID == "" {
		metrics.ObserveRegionLookup("unknown")
		return regionFailure(RegionFailureUnknown, "Could not determine region")
	}
	metrics.ObserveRegionLookup("salvaged")
	return RegionResult{Region: RegionInfo{
		RegionID:       regionID,
		Nickname:       synthesizeNickname(regionID, firstSubmatch(nicknamePattern, body)),
		DisplayAddress: firstSubmatch(displayAddressPattern, body),
		PostalCode:     firstSubmatch(postalCodePattern, body),
	}}
}

func synthesizeNickname(regionID, nickname string) string {
	if nickname != "" {
		return nickname
	}
	return "Region " + regionID
}

func firstSubmatch(pattern *regexp.Regexp, body []byte) string {
	m := pattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}

func regionFailure(reason RegionFailureReason, detail string) RegionResult {
	return RegionResult{Failure: &RegionFailure{Reason: reason, Detail: detail}}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
