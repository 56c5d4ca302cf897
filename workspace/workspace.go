// Package workspace implements the local filesystem layout (§6.8) stages
// use to produce files before they are uploaded to the blob store.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dimensional-research/orchestrator/blobstore"
)

// Workspace is rooted at Root and lays out the fixed subtree spec §6.8
// describes: arxiv/ (temp downloads), dimensions/ (per-dimension markdown),
// final/ (merged markdown/docx/pdf), temp/{sessionId}/charts/.
type Workspace struct {
	Root string
}

// New creates the fixed top-level subtree under root.
func New(root string) (*Workspace, error) {
	w := &Workspace{Root: root}
	for _, dir := range []string{w.ArxivDir(), w.DimensionsDir(), w.FinalDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create %q: %w", dir, err)
		}
	}
	return w, nil
}

func (w *Workspace) ArxivDir() string      { return filepath.Join(w.Root, "arxiv") }
func (w *Workspace) DimensionsDir() string { return filepath.Join(w.Root, "dimensions") }
func (w *Workspace) FinalDir() string      { return filepath.Join(w.Root, "final") }

// ChartsDir returns the session-scoped chart temp directory, creating it if
// necessary (spec §6.8: "temp/{sessionId}/charts/").
func (w *Workspace) ChartsDir(sessionID string) (string, error) {
	dir := filepath.Join(w.Root, "temp", sessionID, "charts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create %q: %w", dir, err)
	}
	return dir, nil
}

// DimensionFile returns the path a dimension's markdown is written to.
func (w *Workspace) DimensionFile(dimension string) string {
	return filepath.Join(w.DimensionsDir(), blobstore.DimensionSlug(dimension)+".md")
}

// FinalFile returns the path the merged report of the given extension is
// written to ("md", "docx", or "pdf").
func (w *Workspace) FinalFile(ext string) string {
	return filepath.Join(w.FinalDir(), "report."+ext)
}

// CleanupSession removes sessionID's temp subtree. Session-scoped cleanup
// is the caller's responsibility (spec §6.8); nothing calls this
// automatically.
func (w *Workspace) CleanupSession(sessionID string) error {
	dir := filepath.Join(w.Root, "temp", sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("workspace: cleanup %q: %w", dir, err)
	}
	return nil
}
