package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dimensional-research/orchestrator/blobstore"
	"github.com/dimensional-research/orchestrator/errclass"
	"github.com/dimensional-research/orchestrator/state"
)

// finalizeTimeout bounds the whole upload+status sequence. Unlike every
// other stage's recoverable iteration-cap/timeout handling, a timeout here
// is fatal (spec §7 "same as iteration cap for heavy stages; fatal for
// finalize") since there is no later stage left to retry the upload.
const finalizeTimeout = 30 * time.Second

// Finalize is the terminal barrier stage (spec §4.16): uploads the
// markdown/docx/pdf/chart artifacts to the blob store, records the initial
// "draft" version, and transitions status to completed or failed. It runs
// once, after document_conversion.
func (d *Deps) Finalize(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "finalize"); err != nil {
		return state.Update{}, fmt.Errorf("finalize: %w", err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	artifactKeys, outputFiles, err := d.uploadOutputs(uploadCtx, s)
	if err != nil {
		msg := fmt.Sprintf("upload failed (%s): %s", errclass.Classify(err), err.Error())
		_ = d.Status.MarkFailed(ctx, msg)
		return state.Update{}, fmt.Errorf("finalize: %w", err)
	}

	if len(artifactKeys) > 0 {
		if err := d.Status.CreateVersion(ctx, "draft", artifactKeys, "system", "initial"); err != nil {
			return state.Update{}, fmt.Errorf("finalize: create version: %w", err)
		}
		if err := d.Status.SetCurrentVersion(ctx, "draft"); err != nil {
			return state.Update{}, fmt.Errorf("finalize: set current version: %w", err)
		}
	}

	var failures []string
	for _, dim := range s.Dimensions {
		if s.DimensionDocs[dim] == "" {
			failures = append(failures, dim)
		}
	}
	var workflowErrors []string
	if len(failures) > 0 {
		workflowErrors = append(workflowErrors, "dimension reduction failed for: "+strings.Join(failures, ", "))
	}
	if s.ReportFile == "" {
		workflowErrors = append(workflowErrors, "report writing/conversion failed")
	}
	// Chart-generation failures are deliberately absent from this check
	// (spec §4.16 "chart-generation failures are not fatal"): the stage
	// never populates ReportFile/DimensionDocs, so they can't surface here.

	elapsed := 0.0
	if !s.StartedAt.IsZero() {
		elapsed = time.Since(s.StartedAt).Seconds()
	}

	if len(workflowErrors) > 0 {
		if err := d.Status.MarkFailed(ctx, strings.Join(workflowErrors, "; ")); err != nil {
			return state.Update{}, fmt.Errorf("finalize: %w", err)
		}
	} else {
		if err := d.Status.MarkCompleted(ctx, elapsed); err != nil {
			return state.Update{}, fmt.Errorf("finalize: %w", err)
		}
	}

	if s.UserID != "" {
		totalAspects := 0
		for _, aspects := range s.AspectsByDim {
			totalAspects += len(aspects)
		}
		if _, err := d.Events.LogResearchComplete(ctx, s.SessionID, s.UserID, s.Dimensions, totalAspects, elapsed, outputFiles, artifactKeys); err != nil {
			return state.Update{}, fmt.Errorf("finalize: log research_complete: %w", err)
		}
	}

	return state.Update{}, nil
}

// uploadOutputs writes the markdown, docx, pdf, and every chart PNG under
// the canonical research-outputs key layout (spec §6.7), returning the blob
// key for each artifact uploaded (for the version record) and a parallel
// map of local output-file paths (for the research_complete event).
func (d *Deps) uploadOutputs(ctx context.Context, s state.WorkflowState) (artifactKeys, outputFiles map[string]string, err error) {
	artifactKeys = make(map[string]string)
	outputFiles = make(map[string]string)

	type upload struct {
		localPath, ext, contentType, outputKey string
	}
	uploads := []upload{
		{s.DraftReportFile, "md", "text/markdown", "markdown"},
		{s.ReportFile, "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx"},
		{s.ReportPDFFile, "pdf", "application/pdf", "pdf"},
	}
	for _, u := range uploads {
		if u.localPath == "" {
			continue
		}
		data, readErr := os.ReadFile(u.localPath)
		if readErr != nil {
			return nil, nil, fmt.Errorf("read %s: %w", u.outputKey, readErr)
		}
		key := blobstore.ReportKey(s.SessionID, "draft", u.ext)
		if err := d.Blobs.Put(ctx, key, data, u.contentType); err != nil {
			return nil, nil, fmt.Errorf("upload %s: %w", u.outputKey, err)
		}
		artifactKeys[u.outputKey] = key
		outputFiles[u.outputKey] = u.localPath
	}

	chartsDir, chartErr := d.Workspace.ChartsDir(s.SessionID)
	if chartErr == nil {
		entries, readErr := os.ReadDir(chartsDir)
		if readErr == nil {
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				path := filepath.Join(chartsDir, entry.Name())
				data, readErr := os.ReadFile(path)
				if readErr != nil {
					return nil, nil, fmt.Errorf("read chart %q: %w", path, readErr)
				}
				name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
				key := blobstore.ChartKey(s.SessionID, name)
				if err := d.Blobs.Put(ctx, key, data, "image/png"); err != nil {
					return nil, nil, fmt.Errorf("upload chart %q: %w", entry.Name(), err)
				}
			}
		}
	}

	return artifactKeys, outputFiles, nil
}
