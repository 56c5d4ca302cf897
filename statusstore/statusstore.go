// Package statusstore implements the status store (C6.6): a DynamoDB-backed
// logical table keyed by sessionId holding the additive item shape from
// spec §6.6. It is the storage layer the status publisher (package status,
// C4) drives.
package statusstore

import "context"

// VersionEntry is an immutable snapshot of produced artifacts (spec §4.4
// "Versioning").
type VersionEntry struct {
	ArtifactKeys map[string]string `dynamodbav:"artifact_keys" json:"artifactKeys"`
	CreatedAt    string            `dynamodbav:"created_at" json:"createdAt"`
	CreatedBy    string            `dynamodbav:"created_by" json:"createdBy"`
	EditType     string            `dynamodbav:"edit_type,omitempty" json:"editType,omitempty"`
}

// ResearchResultSummary is the metadata-only view of a research result
// published to status (spec §4.4 "MUST include only metadata... never full
// content").
type ResearchResultSummary struct {
	WordCount    int    `dynamodbav:"word_count" json:"wordCount"`
	SourcesCount int    `dynamodbav:"sources_count" json:"sourcesCount"`
	Error        string `dynamodbav:"error,omitempty" json:"error,omitempty"`
}

// DimensionDocStatus records a produced dimension document's path, or a
// failure marker (spec §6.6 "dimension_documents { dim -> path|{failed,error} }").
type DimensionDocStatus struct {
	Path   string `dynamodbav:"path,omitempty" json:"path,omitempty"`
	Failed bool   `dynamodbav:"failed,omitempty" json:"failed,omitempty"`
	Error  string `dynamodbav:"error,omitempty" json:"error,omitempty"`
}

// ErrorEntry records a non-fatal stage failure (spec §7 "Stage exception").
type ErrorEntry struct {
	Node      string `dynamodbav:"node" json:"node"`
	Message   string `dynamodbav:"message" json:"message"`
	Timestamp string `dynamodbav:"timestamp" json:"timestamp"`
}

// Status is the status-store item shape (spec §6.6), additive: fields are
// populated as the workflow progresses, never removed.
type Status struct {
	SessionID            string                            `dynamodbav:"session_id" json:"sessionId"`
	Status                string                            `dynamodbav:"status" json:"status"` // processing|completed|failed|cancelling|cancelled
	CurrentStage          string                            `dynamodbav:"current_stage,omitempty" json:"currentStage,omitempty"`
	Topic                 string                            `dynamodbav:"topic,omitempty" json:"topic,omitempty"`
	Model                 string                            `dynamodbav:"model,omitempty" json:"model,omitempty"`
	ResearchType          string                            `dynamodbav:"research_type,omitempty" json:"researchType,omitempty"`
	ResearchDepth         string                            `dynamodbav:"research_depth,omitempty" json:"researchDepth,omitempty"`
	ResearchContext       string                            `dynamodbav:"research_context,omitempty" json:"researchContext,omitempty"`
	Dimensions            []string                          `dynamodbav:"dimensions,omitempty" json:"dimensions,omitempty"`
	DimensionCount        int                               `dynamodbav:"dimension_count,omitempty" json:"dimensionCount,omitempty"`
	AspectsByDimension    map[string][]string               `dynamodbav:"aspects_by_dimension,omitempty" json:"aspectsByDimension,omitempty"`
	TotalAspects          int                               `dynamodbav:"total_aspects,omitempty" json:"totalAspects,omitempty"`
	ResearchByAspect      map[string]ResearchResultSummary  `dynamodbav:"research_by_aspect,omitempty" json:"researchByAspect,omitempty"`
	DimensionDocuments    map[string]DimensionDocStatus     `dynamodbav:"dimension_documents,omitempty" json:"dimensionDocuments,omitempty"`
	Errors                []ErrorEntry                      `dynamodbav:"errors,omitempty" json:"errors,omitempty"`
	Versions              map[string]VersionEntry           `dynamodbav:"versions,omitempty" json:"versions,omitempty"`
	CurrentVersion        string                            `dynamodbav:"current_version,omitempty" json:"currentVersion,omitempty"`
	CreatedAt             string                            `dynamodbav:"created_at,omitempty" json:"createdAt,omitempty"`
	UpdatedAt             string                            `dynamodbav:"updated_at,omitempty" json:"updatedAt,omitempty"`
	CompletedAt           string                            `dynamodbav:"completed_at,omitempty" json:"completedAt,omitempty"`
	ElapsedTime           float64                           `dynamodbav:"elapsed_time,omitempty" json:"elapsedTime,omitempty"`
}

// Store is the storage contract the status publisher drives.
type Store interface {
	// Get returns the current item for sessionID, or a zero Status with
	// found=false if none exists yet.
	Get(ctx context.Context, sessionID string) (item Status, found bool, err error)
	// Put writes item in full, creating it if absent (used for the initial
	// write and for read-modify-write sequences that need the whole item,
	// e.g. appending to Errors/Versions).
	Put(ctx context.Context, item Status) error
}
