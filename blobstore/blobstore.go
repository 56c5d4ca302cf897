// Package blobstore implements the blob store (§6.7): object-store
// semantics with per-key writes under the canonical research-outputs key
// layout every stage that produces a persisted artifact writes through.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Store.Get when key does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// Store is the object-store contract stages write artifacts through.
type Store interface {
	// Put writes data to key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns keys sharing prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

var dimensionSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// ReportKey returns the canonical key for a versioned report artifact
// (spec §6.7: "research-outputs/{sessionId}/versions/{version}/report.{ext}").
func ReportKey(sessionID, version, ext string) string {
	return fmt.Sprintf("research-outputs/%s/versions/%s/report.%s", sessionID, version, ext)
}

// ChartKey returns the canonical key for a chart PNG
// (spec §6.7: "research-outputs/{sessionId}/charts/{name}.png").
func ChartKey(sessionID, name string) string {
	return fmt.Sprintf("research-outputs/%s/charts/%s.png", sessionID, name)
}

// DimensionKey returns the canonical key for a dimension document
// (spec §6.7: "research-outputs/{sessionId}/dimensions/{dimension_slug}.md").
func DimensionKey(sessionID, dimension string) string {
	return fmt.Sprintf("research-outputs/%s/dimensions/%s.md", sessionID, DimensionSlug(dimension))
}

// DimensionSlug normalizes a dimension name into the lowercase,
// hyphen-separated slug used in key paths and workspace filenames.
func DimensionSlug(dimension string) string {
	lower := dimensionSlugPattern.ReplaceAllString(strings.ToLower(dimension), "-")
	trimmed := strings.Trim(lower, "-")
	if trimmed == "" {
		return "dimension"
	}
	return trimmed
}
