package search

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Nacnud88/markschecker3/internal/metrics"
)

// Mode selects how many matches a term contributes.
type Mode string

// Search modes. Article mode keeps only the first catalog match per term;
// general mode keeps up to the requested limit.
const (
	ModeArticle Mode = "article"
	ModeGeneral Mode = "general"
)

// ParseMode maps raw input to a Mode. Unrecognized values mean general;
// empty input defaults to article.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ModeArticle):
		return ModeArticle
	default:
		return ModeGeneral
	}
}

const (
	maxLimit     = 50
	defaultLimit = 10
)

// ResolveLimit normalizes a caller-supplied result limit. Numbers are clamped
// to [1, 50], the sentinel "all" and an absent limit select the maximum, and
// anything unparseable falls back to the default of 10.
func ResolveLimit(raw any) int {
	switch v := raw.(type) {
	case nil:
		return maxLimit
	case int:
		return clampLimit(v)
	case float64:
		return clampLimit(int(v))
	case string:
		if strings.EqualFold(strings.TrimSpace(v), "all") {
			return maxLimit
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return clampLimit(n)
		}
		return defaultLimit
	default:
		return defaultLimit
	}
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

const retryMessage = "Error processing the article. Please try again."

// Processor fans a batch of terms out over a bounded worker pool and
// aggregates the per-term results in completion order.
type Processor struct {
	fetcher    ProductLookup
	maxWorkers int
	logger     *zap.Logger
}

// NewProcessor constructs a Processor with the given worker ceiling.
func NewProcessor(fetcher ProductLookup, maxWorkers int, logger *zap.Logger) *Processor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{fetcher: fetcher, maxWorkers: maxWorkers, logger: logger}
}

type termOutcome struct {
	records []ProductRecord
	found   int
}

// Process resolves every term in the request concurrently. Exactly one
// outcome is produced per input term regardless of individual failures, and
// records are appended in completion order.
func (p *Processor) Process(ctx context.Context, req BatchRequest) BatchResult {
	result := BatchResult{Records: []ProductRecord{}}
	if len(req.Terms) == 0 {
		return result
	}

	limit := ResolveLimit(req.Limit)

	workers := p.maxWorkers
	if len(req.Terms) < workers {
		workers = len(req.Terms)
	}

	jobs := make(chan string)
	outcomes := make(chan termOutcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for term := range jobs {
				metrics.IncActiveWorkers()
				outcomes <- p.processTerm(ctx, term, req, limit)
				metrics.DecActiveWorkers()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, term := range req.Terms {
			select {
			case jobs <- term:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for outcome := range outcomes {
		result.Processed++
		result.TotalFound += outcome.found
		result.Records = append(result.Records, outcome.records...)
	}
	return result
}

// processTerm resolves one term. A panic in the lookup or extraction path is
// converted into a retryable not-found record so one bad term cannot take
// down the batch.
func (p *Processor) processTerm(ctx context.Context, term string, req BatchRequest, limit int) (outcome termOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("term processing panicked",
				zap.String("term", term), zap.Any("panic", r))
			metrics.ObserveTerm("error")
			outcome = termOutcome{records: []ProductRecord{NotFoundRecord(term, retryMessage)}}
		}
	}()

	set := p.fetcher.Lookup(ctx, Query{
		Term:       term,
		RegionID:   req.RegionID,
		Credential: req.Credential,
	})

	keep := limit
	if req.Mode == ModeArticle {
		keep = 1
	}

	records := make([]ProductRecord, 0, keep)
	for _, id := range set.IDs() {
		if len(records) == keep {
			break
		}
		attrs, ok := set.Get(id)
		if !ok {
			continue
		}
		records = append(records, ExtractProduct(attrs, term))
	}

	if len(records) == 0 {
		metrics.ObserveTerm("not_found")
		return termOutcome{records: []ProductRecord{NotFoundRecord(term, "")}}
	}
	metrics.ObserveTerm("found")
	// found counts every upstream match, not just the records kept after
	// article-mode or limit truncation.
	return termOutcome{records: records, found: set.Len()}
}
