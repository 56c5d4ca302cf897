// Package status implements the status publisher (C4): a session-scoped
// singleton, guarded by a mutex, that writes immediate fields directly and
// buffers the parallel-stage fields (dimensions, aspects, research results,
// dimension documents) until their barrier flushes them atomically into the
// status record (spec §4.4).
package status

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dimensional-research/orchestrator/statusstore"
)

// Publisher is the status-store facade the workflow engine drives. One
// Publisher exists per session; concurrent stage goroutines share it.
type Publisher struct {
	store     statusstore.Store
	sessionID string

	mu                    sync.Mutex
	pendingDimensions     map[string]struct{}
	pendingAspects        map[string][]string
	pendingResearch       map[string]statusstore.ResearchResultSummary
	pendingDimensionDocs  map[string]statusstore.DimensionDocStatus
}

// New builds a Publisher for sessionID. It does not write anything until
// MarkProcessing or another mutator is called.
func New(store statusstore.Store, sessionID string) *Publisher {
	return &Publisher{
		store:                store,
		sessionID:            sessionID,
		pendingDimensions:    make(map[string]struct{}),
		pendingAspects:       make(map[string][]string),
		pendingResearch:      make(map[string]statusstore.ResearchResultSummary),
		pendingDimensionDocs: make(map[string]statusstore.DimensionDocStatus),
	}
}

// mutate loads the current item (or a fresh one keyed to this session),
// applies fn, stamps updated_at, and writes it back. Every exported mutator
// goes through this under p.mu so concurrent stage goroutines serialize.
func (p *Publisher) mutate(ctx context.Context, fn func(*statusstore.Status)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, found, err := p.store.Get(ctx, p.sessionID)
	if err != nil {
		return fmt.Errorf("status: get: %w", err)
	}
	if !found {
		item = statusstore.Status{SessionID: p.sessionID}
	}
	fn(&item)
	item.UpdatedAt = nowRFC3339()
	if err := p.store.Put(ctx, item); err != nil {
		return fmt.Errorf("status: put: %w", err)
	}
	return nil
}

// UpdateStage sets the current stage (spec §4.4 updateStage).
func (p *Publisher) UpdateStage(ctx context.Context, stage string) error {
	return p.mutate(ctx, func(s *statusstore.Status) { s.CurrentStage = stage })
}

// UpdateProgress applies an immediate field update (spec §4.4
// updateProgress). fields is applied directly to the item in place.
func (p *Publisher) UpdateProgress(ctx context.Context, fields func(*statusstore.Status)) error {
	return p.mutate(ctx, fields)
}

// AddDimension buffers a dimension discovered by a parallel aspect-analysis
// node (spec §4.4 addDimension).
func (p *Publisher) AddDimension(dimension string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingDimensions[dimension] = struct{}{}
}

// AddAspect buffers an aspect under dimension (spec §4.4 addAspect).
func (p *Publisher) AddAspect(dimension, aspect string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingAspects[dimension] = append(p.pendingAspects[dimension], aspect)
}

// FlushDimensionsAndAspects atomically writes the buffered dimensions and
// aspects-by-dimension into the status record (spec §4.4).
func (p *Publisher) FlushDimensionsAndAspects(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pendingDimensions) == 0 {
		p.mu.Unlock()
		return nil
	}
	dims := make([]string, 0, len(p.pendingDimensions))
	for d := range p.pendingDimensions {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	aspects := make(map[string][]string, len(p.pendingAspects))
	total := 0
	for d, a := range p.pendingAspects {
		cp := make([]string, len(a))
		copy(cp, a)
		aspects[d] = cp
		total += len(a)
	}
	p.mu.Unlock()

	return p.mutate(ctx, func(s *statusstore.Status) {
		s.Dimensions = dims
		s.DimensionCount = len(dims)
		s.AspectsByDimension = aspects
		s.TotalAspects = total
	})
}

// AddResearchResult buffers a research result's metadata-only summary for
// aspectKey = dimension + "::" + aspect (spec §4.4 addResearchResult; "MUST
// include only metadata... never full content").
func (p *Publisher) AddResearchResult(dimension, aspect string, wordCount, sourcesCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := dimension + "::" + aspect
	p.pendingResearch[key] = statusstore.ResearchResultSummary{WordCount: wordCount, SourcesCount: sourcesCount}
}

// FlushResearchResults atomically writes the buffered research summaries
// (spec §4.4).
func (p *Publisher) FlushResearchResults(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pendingResearch) == 0 {
		p.mu.Unlock()
		return nil
	}
	results := make(map[string]statusstore.ResearchResultSummary, len(p.pendingResearch))
	for k, v := range p.pendingResearch {
		results[k] = v
	}
	p.mu.Unlock()

	return p.mutate(ctx, func(s *statusstore.Status) {
		if s.ResearchByAspect == nil {
			s.ResearchByAspect = make(map[string]statusstore.ResearchResultSummary, len(results))
		}
		for k, v := range results {
			s.ResearchByAspect[k] = v
		}
	})
}

// AddDimensionDoc buffers a produced dimension document path (spec §4.4
// addDimensionDoc).
func (p *Publisher) AddDimensionDoc(dimension, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingDimensionDocs[dimension] = statusstore.DimensionDocStatus{Path: path}
}

// FlushDimensionDocuments atomically writes the buffered dimension
// documents (spec §4.4).
func (p *Publisher) FlushDimensionDocuments(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pendingDimensionDocs) == 0 {
		p.mu.Unlock()
		return nil
	}
	docs := make(map[string]statusstore.DimensionDocStatus, len(p.pendingDimensionDocs))
	for k, v := range p.pendingDimensionDocs {
		docs[k] = v
	}
	p.mu.Unlock()

	return p.mutate(ctx, func(s *statusstore.Status) {
		if s.DimensionDocuments == nil {
			s.DimensionDocuments = make(map[string]statusstore.DimensionDocStatus, len(docs))
		}
		for k, v := range docs {
			s.DimensionDocuments[k] = v
		}
	})
}

// MarkProcessing transitions the session to processing (spec §4.4
// markProcessing).
func (p *Publisher) MarkProcessing(ctx context.Context) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		s.Status = "processing"
		if s.CreatedAt == "" {
			s.CreatedAt = nowRFC3339()
		}
	})
}

// MarkCompleted transitions the session to completed, recording the
// elapsed time (spec §4.4 markCompleted).
func (p *Publisher) MarkCompleted(ctx context.Context, elapsedSeconds float64) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		s.Status = "completed"
		s.ElapsedTime = elapsedSeconds
		s.CompletedAt = nowRFC3339()
	})
}

// MarkFailed transitions the session to failed (spec §4.4 markFailed, §7
// "Auth / config error... abort workflow; status=failed").
func (p *Publisher) MarkFailed(ctx context.Context, errorMessage string) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		s.Status = "failed"
		s.CompletedAt = nowRFC3339()
		s.Errors = append(s.Errors, statusstore.ErrorEntry{
			Node:      "workflow",
			Message:   clampLen(errorMessage, 500),
			Timestamp: nowRFC3339(),
		})
	})
}

// MarkCancelling transitions the session into the cancelling state the
// cancellation-liveness invariant watches for (spec §8).
func (p *Publisher) MarkCancelling(ctx context.Context) error {
	return p.mutate(ctx, func(s *statusstore.Status) { s.Status = "cancelling" })
}

// MarkCancelled finalizes a cancelled run (spec §5 "writes status=cancelled
// and completed_at=now").
func (p *Publisher) MarkCancelled(ctx context.Context) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		s.Status = "cancelled"
		s.CompletedAt = nowRFC3339()
	})
}

// AddError appends a non-fatal stage error (spec §4.4 addError, §7 "Stage
// exception... recorded in status.errors[]").
func (p *Publisher) AddError(ctx context.Context, node, message string) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		s.Errors = append(s.Errors, statusstore.ErrorEntry{
			Node:      node,
			Message:   clampLen(message, 500),
			Timestamp: nowRFC3339(),
		})
	})
}

// MarkResearchFailed records a per-aspect placeholder when research for an
// aspect could not complete (spec §7 "convert to a per-aspect placeholder").
func (p *Publisher) MarkResearchFailed(ctx context.Context, dimension, aspect, errorMessage string) error {
	key := dimension + "::" + aspect
	return p.mutate(ctx, func(s *statusstore.Status) {
		if s.ResearchByAspect == nil {
			s.ResearchByAspect = make(map[string]statusstore.ResearchResultSummary)
		}
		s.ResearchByAspect[key] = statusstore.ResearchResultSummary{Error: clampLen(errorMessage, 200)}
	})
}

// MarkDimensionFailed records a failed dimension document (spec §6.6
// "dim -> path|{failed,error}").
func (p *Publisher) MarkDimensionFailed(ctx context.Context, dimension, errorMessage string) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		if s.DimensionDocuments == nil {
			s.DimensionDocuments = make(map[string]statusstore.DimensionDocStatus)
		}
		s.DimensionDocuments[dimension] = statusstore.DimensionDocStatus{Failed: true, Error: clampLen(errorMessage, 200)}
	})
}

// CreateVersion records an immutable artifact snapshot (spec §4.4
// createVersion).
func (p *Publisher) CreateVersion(ctx context.Context, name string, artifactKeys map[string]string, createdBy, editType string) error {
	return p.mutate(ctx, func(s *statusstore.Status) {
		if s.Versions == nil {
			s.Versions = make(map[string]statusstore.VersionEntry)
		}
		s.Versions[name] = statusstore.VersionEntry{
			ArtifactKeys: artifactKeys,
			CreatedAt:    nowRFC3339(),
			CreatedBy:    createdBy,
			EditType:     editType,
		}
	})
}

// SetCurrentVersion records the active version (spec §4.4 setCurrentVersion;
// §8 "version idempotence": calling this twice with the same v yields the
// same status record, since it is a plain field assignment with no
// accumulation).
func (p *Publisher) SetCurrentVersion(ctx context.Context, version string) error {
	return p.mutate(ctx, func(s *statusstore.Status) { s.CurrentVersion = version })
}

// GetStatus reads the latest record (spec §4.4 getStatus; used for
// cancellation polling).
func (p *Publisher) GetStatus(ctx context.Context) (statusstore.Status, bool, error) {
	return p.store.Get(ctx, p.sessionID)
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func clampLen(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
