// Package state implements the workflow's shared record (C1): a typed
// struct passed between graph stages, plus a reducer that merges the
// partial updates concurrent stages return.
package state

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/dimensional-research/orchestrator/config"
)

// Aspect is a named focus inside a dimension.
type Aspect struct {
	Name          string
	Reasoning     string
	KeyQuestions  []string
	Completed     bool
}

// ResearchResult is the output of researching a single aspect.
type ResearchResult struct {
	AspectKey string
	Title     string
	Content   string
	WordCount int
}

// AspectKey returns the stable "{dimension}::{aspect}" identity used across
// the workflow and event log.
func AspectKey(dimension, aspect string) string {
	return dimension + "::" + aspect
}

// WorkflowState is the record passed (logically immutably) between stages.
// All fields are optional after initialization; zero values mean "not yet
// set" rather than "explicitly empty" for map and slice fields.
type WorkflowState struct {
	Topic                string
	Config               config.ResearchConfig
	SessionID            string
	UserID                string
	References           []config.ReferenceMaterial
	Dimensions           []string
	OriginalAspectsByDim map[string][]Aspect
	AspectsByDim         map[string][]Aspect
	ResearchByAspect     map[string]ResearchResult
	DimensionDocs        map[string]string
	DraftReportFile      string
	ReportFile           string
	ReportPDFFile        string
	StartedAt            time.Time
}

// FieldKind classifies how a field in WorkflowState is merged.
type FieldKind int

const (
	// LastWriterWins fields are simply overwritten when present in an update.
	LastWriterWins FieldKind = iota
	// MapMerge fields require disjoint key sets between the existing map and
	// the incoming partial; see Merge.
	MapMerge
)

// Update is a partial, sparse view of WorkflowState a stage hands back to
// the graph engine. Only non-nil/non-zero fields are applied.
type Update struct {
	Topic                *string
	Config               *config.ResearchConfig
	SessionID            *string
	UserID                *string
	References           []config.ReferenceMaterial
	Dimensions           []string
	OriginalAspectsByDim map[string][]Aspect
	AspectsByDim         map[string][]Aspect
	ResearchByAspect     map[string]ResearchResult
	DimensionDocs        map[string]string
	DraftReportFile      *string
	ReportFile           *string
	ReportPDFFile        *string
	StartedAt            *time.Time
}

// MapMergeError reports a disjointness violation: two concurrent writers
// produced the same key for the same map-merge field. Per spec §3.3 this is
// a programming error, not a transient condition; the engine fails fast.
type MapMergeError struct {
	Field string
	Key   string
}

func (e *MapMergeError) Error() string {
	return fmt.Sprintf("state: map-merge collision on field %s for key %q", e.Field, e.Key)
}

// Merge applies u onto s, returning a new WorkflowState. Last-writer-wins
// fields are overwritten outright; map-merge fields (OriginalAspectsByDim,
// ResearchByAspect, DimensionDocs) require the incoming key set to be
// disjoint from s's existing key set, and return a *MapMergeError otherwise.
//
// Merge is pure: it never mutates s or u in place, so concurrent callers
// merging against the same base state is safe as long as the caller
// serializes the actual commit (see graph.Engine).
func Merge(s WorkflowState, u Update) (WorkflowState, error) {
	out := s

	if u.Topic != nil {
		out.Topic = *u.Topic
	}
	if u.Config != nil {
		out.Config = *u.Config
	}
	if u.SessionID != nil {
		out.SessionID = *u.SessionID
	}
	if u.UserID != nil {
		out.UserID = *u.UserID
	}
	if u.References != nil {
		out.References = u.References
	}
	if u.Dimensions != nil {
		out.Dimensions = u.Dimensions
	}
	if u.DraftReportFile != nil {
		out.DraftReportFile = *u.DraftReportFile
	}
	if u.ReportFile != nil {
		out.ReportFile = *u.ReportFile
	}
	if u.ReportPDFFile != nil {
		out.ReportPDFFile = *u.ReportPDFFile
	}
	if u.StartedAt != nil {
		out.StartedAt = *u.StartedAt
	}
	if u.AspectsByDim != nil {
		out.AspectsByDim = u.AspectsByDim
	}

	merged, err := mergeAspectMap("OriginalAspectsByDim", out.OriginalAspectsByDim, u.OriginalAspectsByDim)
	if err != nil {
		return WorkflowState{}, err
	}
	out.OriginalAspectsByDim = merged

	researchMerged, err := mergeResearchMap(out.ResearchByAspect, u.ResearchByAspect)
	if err != nil {
		return WorkflowState{}, err
	}
	out.ResearchByAspect = researchMerged

	docsMerged, err := mergeDocMap(out.DimensionDocs, u.DimensionDocs)
	if err != nil {
		return WorkflowState{}, err
	}
	out.DimensionDocs = docsMerged

	return out, nil
}

func mergeAspectMap(field string, base, incoming map[string][]Aspect) (map[string][]Aspect, error) {
	if incoming == nil {
		return base, nil
	}
	if base == nil {
		base = make(map[string][]Aspect, len(incoming))
	} else {
		base = cloneAspectMap(base)
	}
	existingKeys := lo.Keys(base)
	for key, val := range incoming {
		if lo.Contains(existingKeys, key) {
			return nil, &MapMergeError{Field: field, Key: key}
		}
		base[key] = val
	}
	return base, nil
}

func mergeResearchMap(base, incoming map[string]ResearchResult) (map[string]ResearchResult, error) {
	if incoming == nil {
		return base, nil
	}
	if base == nil {
		base = make(map[string]ResearchResult, len(incoming))
	} else {
		base = cloneResearchMap(base)
	}
	existingKeys := lo.Keys(base)
	for key, val := range incoming {
		if lo.Contains(existingKeys, key) {
			return nil, &MapMergeError{Field: "ResearchByAspect", Key: key}
		}
		base[key] = val
	}
	return base, nil
}

func mergeDocMap(base, incoming map[string]string) (map[string]string, error) {
	if incoming == nil {
		return base, nil
	}
	if base == nil {
		base = make(map[string]string, len(incoming))
	} else {
		base = cloneDocMap(base)
	}
	existingKeys := lo.Keys(base)
	for key, val := range incoming {
		if lo.Contains(existingKeys, key) {
			return nil, &MapMergeError{Field: "DimensionDocs", Key: key}
		}
		base[key] = val
	}
	return base, nil
}

func cloneAspectMap(m map[string][]Aspect) map[string][]Aspect {
	out := make(map[string][]Aspect, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneResearchMap(m map[string]ResearchResult) map[string]ResearchResult {
	out := make(map[string]ResearchResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDocMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
