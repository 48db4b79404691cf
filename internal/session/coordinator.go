// Package session coordinates multi-chunk search sessions: creation, chunk
// processing, progress tracking, and cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Nacnud88/markschecker3/internal/search"
)

// Validation sentinels surfaced to the API layer as client errors.
var (
	ErrMissingCredential = errors.New("globalSid is required")
	ErrMissingTerms      = errors.New("searchTerm is required")
	ErrEmptyChunk        = errors.New("terms list is required")
)

// StartRequest opens a new search session.
type StartRequest struct {
	Terms      string
	Credential string
	Limit      any
	Mode       string
}

// StartResponse describes a newly created session and its chunking plan.
type StartResponse struct {
	SessionID       string            `json:"sessionId"`
	Status          string            `json:"status"`
	Region          search.RegionInfo `json:"region"`
	SearchType      string            `json:"searchType"`
	Terms           []string          `json:"terms"`
	Duplicates      []string          `json:"duplicates"`
	DuplicateCount  int               `json:"duplicateCount"`
	ContainsEACodes bool              `json:"containsEaCodes"`
	TotalTerms      int               `json:"totalTerms"`
	ChunkSize       int               `json:"chunkSize"`
	TotalChunks     int               `json:"totalChunks"`
	Limit           int               `json:"limit"`
}

// ChunkRequest processes one slice of a session's terms.
type ChunkRequest struct {
	SessionID  string
	ChunkIndex int
	Terms      []string
	Credential string
	Limit      any
	Mode       string
}

// ChunkResponse reports chunk results and updated session progress.
type ChunkResponse struct {
	SessionID      string                 `json:"sessionId"`
	ChunkIndex     int                    `json:"chunkIndex"`
	Status         string                 `json:"status"`
	Results        []search.ProductRecord `json:"results"`
	ChunkProcessed int                    `json:"chunkProcessed"`
	ChunkFound     int                    `json:"chunkFound"`
	ProcessedTerms int                    `json:"processedTerms"`
	TotalTerms     int                    `json:"totalTerms"`
	TotalProducts  int                    `json:"totalProducts"`
}

// StatusResponse reports session progress without results.
type StatusResponse struct {
	SessionID      string            `json:"sessionId"`
	Status         string            `json:"status"`
	Region         search.RegionInfo `json:"region"`
	ProcessedTerms int               `json:"processedTerms"`
	TotalTerms     int               `json:"totalTerms"`
	TotalProducts  int               `json:"totalProducts"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// ResultStats summarizes the accumulated records of a session.
type ResultStats struct {
	TotalProducts    int `json:"total_products"`
	FoundProducts    int `json:"found_products"`
	NotFoundProducts int `json:"not_found_products"`
}

// ResultsResponse returns every record accumulated for a session.
type ResultsResponse struct {
	SessionID string                 `json:"sessionId"`
	Status    string                 `json:"status"`
	Results   []search.ProductRecord `json:"results"`
	Stats     ResultStats            `json:"stats"`
}

// CleanupResponse acknowledges session deletion.
type CleanupResponse struct {
	SessionID string `json:"sessionId"`
	Deleted   bool   `json:"deleted"`
}

// chunkEvent is the payload published when a chunk completes.
type chunkEvent struct {
	SessionID      string `json:"sessionId"`
	ChunkIndex     int    `json:"chunkIndex"`
	Status         string `json:"status"`
	ProcessedTerms int    `json:"processedTerms"`
	TotalTerms     int    `json:"totalTerms"`
	TotalProducts  int    `json:"totalProducts"`
}

// Coordinator owns the session lifecycle. Chunk processing for a given
// session is serialized through a per-session lock so concurrent chunk
// submissions cannot interleave their read-modify-write of the counters.
type Coordinator struct {
	store     search.SessionStore
	resolver  search.RegionLookup
	processor search.BatchRunner
	publisher search.Publisher
	idGen     search.IDGenerator
	clock     search.Clock
	topic     string
	chunkSize int
	logger    *zap.Logger

	locks sync.Map // session id -> *sync.Mutex
}

// NewCoordinator constructs a Coordinator. publisher may be nil, disabling
// chunk-completion events.
func NewCoordinator(
	store search.SessionStore,
	resolver search.RegionLookup,
	processor search.BatchRunner,
	publisher search.Publisher,
	idGen search.IDGenerator,
	clock search.Clock,
	topic string,
	chunkSize int,
	logger *zap.Logger,
) *Coordinator {
	if chunkSize < 1 {
		chunkSize = 400
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		resolver:  resolver,
		processor: processor,
		publisher: publisher,
		idGen:     idGen,
		clock:     clock,
		topic:     topic,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Start validates the request, resolves the region, normalizes the term
// list, and persists a new session. Sessions with no usable terms stay
// pending; everything else starts processing.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	if req.Credential == "" {
		return StartResponse{}, ErrMissingCredential
	}
	if req.Terms == "" {
		return StartResponse{}, ErrMissingTerms
	}

	region := c.resolver.Resolve(ctx, req.Credential)
	report := search.ParseTerms(req.Terms)

	id, err := c.idGen.NewID()
	if err != nil {
		return StartResponse{}, fmt.Errorf("generate session id: %w", err)
	}

	status := search.StatusProcessing
	if len(report.Terms) == 0 {
		status = search.StatusPending
	}

	state := search.SessionState{
		ID:         id,
		Status:     status,
		TotalTerms: len(report.Terms),
		RegionID:   region.Region.RegionID,
		Region:     region.Info(),
		CreatedAt:  c.clock.Now(),
	}
	if err := c.store.CreateSession(ctx, state); err != nil {
		return StartResponse{}, fmt.Errorf("create session: %w", err)
	}

	limit := search.ResolveLimit(req.Limit)
	totalChunks := (len(report.Terms) + c.chunkSize - 1) / c.chunkSize

	c.logger.Info("session started",
		zap.String("session_id", id),
		zap.Int("total_terms", len(report.Terms)),
		zap.Int("total_chunks", totalChunks),
		zap.Bool("region_resolved", region.Resolved()))

	return StartResponse{
		SessionID:       id,
		Status:          string(status),
		Region:          region.Info(),
		SearchType:      string(search.ParseMode(req.Mode)),
		Terms:           report.Terms,
		Duplicates:      report.Duplicates,
		DuplicateCount:  report.DuplicateCount,
		ContainsEACodes: report.ContainsEACodes,
		TotalTerms:      len(report.Terms),
		ChunkSize:       c.chunkSize,
		TotalChunks:     totalChunks,
		Limit:           limit,
	}, nil
}

// ProcessChunk runs one chunk of terms through the batch processor and folds
// the outcome into the session's progress. Counters only ever increase; a
// session completes once processed terms reach the total.
func (c *Coordinator) ProcessChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error) {
	if req.Credential == "" {
		return ChunkResponse{}, ErrMissingCredential
	}
	if len(req.Terms) == 0 {
		return ChunkResponse{}, ErrEmptyChunk
	}

	lock := c.lockFor(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return ChunkResponse{}, err
	}

	result := c.processor.Process(ctx, search.BatchRequest{
		Terms:      req.Terms,
		RegionID:   state.RegionID,
		Credential: req.Credential,
		Limit:      req.Limit,
		Mode:       search.ParseMode(req.Mode),
	})

	if err := c.store.AppendProducts(ctx, req.SessionID, result.Records); err != nil {
		return ChunkResponse{}, fmt.Errorf("append products: %w", err)
	}

	processed := state.ProcessedTerms + result.Processed
	if processed > state.TotalTerms {
		processed = state.TotalTerms
	}
	totalProducts := state.TotalProducts + len(result.Records)

	status := search.StatusProcessing
	if state.TotalTerms > 0 && processed >= state.TotalTerms {
		status = search.StatusCompleted
	}

	upd := search.ProgressUpdate{
		ProcessedTerms: &processed,
		TotalProducts:  &totalProducts,
		Status:         &status,
	}
	if err := c.store.UpdateProgress(ctx, req.SessionID, upd); err != nil {
		return ChunkResponse{}, fmt.Errorf("update progress: %w", err)
	}

	c.publishChunkEvent(ctx, chunkEvent{
		SessionID:      req.SessionID,
		ChunkIndex:     req.ChunkIndex,
		Status:         string(status),
		ProcessedTerms: processed,
		TotalTerms:     state.TotalTerms,
		TotalProducts:  totalProducts,
	})

	return ChunkResponse{
		SessionID:      req.SessionID,
		ChunkIndex:     req.ChunkIndex,
		Status:         string(status),
		Results:        result.Records,
		ChunkProcessed: result.Processed,
		ChunkFound:     result.TotalFound,
		ProcessedTerms: processed,
		TotalTerms:     state.TotalTerms,
		TotalProducts:  totalProducts,
	}, nil
}

// Status reports session progress.
func (c *Coordinator) Status(ctx context.Context, sessionID string) (StatusResponse, error) {
	state, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{
		SessionID:      state.ID,
		Status:         string(state.Status),
		Region:         state.Region,
		ProcessedTerms: state.ProcessedTerms,
		TotalTerms:     state.TotalTerms,
		TotalProducts:  state.TotalProducts,
		CreatedAt:      state.CreatedAt,
	}, nil
}

// Results returns every record accumulated so far, with summary stats.
func (c *Coordinator) Results(ctx context.Context, sessionID string) (ResultsResponse, error) {
	state, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return ResultsResponse{}, err
	}
	records, err := c.store.ListProducts(ctx, sessionID)
	if err != nil {
		return ResultsResponse{}, fmt.Errorf("list products: %w", err)
	}

	stats := ResultStats{TotalProducts: len(records)}
	for _, rec := range records {
		if rec.Found {
			stats.FoundProducts++
		} else {
			stats.NotFoundProducts++
		}
	}

	return ResultsResponse{
		SessionID: state.ID,
		Status:    string(state.Status),
		Results:   records,
		Stats:     stats,
	}, nil
}

// Cleanup deletes a session and its records.
func (c *Coordinator) Cleanup(ctx context.Context, sessionID string) (CleanupResponse, error) {
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return CleanupResponse{}, err
	}
	c.locks.Delete(sessionID)
	return CleanupResponse{SessionID: sessionID, Deleted: true}, nil
}

func (c *Coordinator) lockFor(sessionID string) *sync.Mutex {
	actual, _ := c.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// publishChunkEvent emits a best-effort progress event; failures are logged
// and never affect the chunk result.
func (c *Coordinator) publishChunkEvent(ctx context.Context, ev chunkEvent) {
	if c.publisher == nil || c.topic == "" {
		return
	}
	if _, err := c.publisher.Publish(ctx, c.topic, ev); err != nil {
		c.logger.Warn("chunk event publish failed",
			zap.String("session_id", ev.SessionID), zap.Error(err))
	}
}
