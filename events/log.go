package events

import (
	"context"
	"strconv"

	"github.com/dimensional-research/orchestrator/config"
)

// LogResearchStart emits research_start (spec §4.3: topic, model,
// researchType, researchDepth, hasReferences; metadata topic/model/depth).
func (t *Tracker) LogResearchStart(ctx context.Context, sessionID, actorID, topic, model, researchType, researchDepth string, hasReferences bool) (string, error) {
	data := map[string]any{
		"topic":          topic,
		"model":          model,
		"research_type":  researchType,
		"research_depth": researchDepth,
		"has_references": hasReferences,
	}
	metadata := map[string]string{
		"topic": clampLen(topic, 100),
		"model": model,
		"depth": researchDepth,
	}
	return t.create(ctx, sessionID, actorID, KindResearchStart, data, metadata)
}

// LogReferencesPrepared emits references_prepared (spec §4.3).
func (t *Tracker) LogReferencesPrepared(ctx context.Context, sessionID, actorID string, materials []config.ReferenceMaterial) (string, error) {
	data := map[string]any{
		"reference_materials": materials,
		"count":               len(materials),
	}
	metadata := map[string]string{
		"count": strconv.Itoa(len(materials)),
	}
	return t.create(ctx, sessionID, actorID, KindReferencesPrepared, data, metadata)
}

// LogDimensionsIdentified emits dimensions_identified (spec §4.3).
func (t *Tracker) LogDimensionsIdentified(ctx context.Context, sessionID, actorID string, dimensions []string, aspectsByDim map[string][]string) (string, error) {
	total := 0
	for _, aspects := range aspectsByDim {
		total += len(aspects)
	}
	data := map[string]any{
		"dimensions":      dimensions,
		"aspects_by_dim":  aspectsByDim,
		"dimension_count": len(dimensions),
		"total_aspects":   total,
	}
	metadata := map[string]string{
		"dimension_count": strconv.Itoa(len(dimensions)),
		"total_aspects":   strconv.Itoa(total),
	}
	return t.create(ctx, sessionID, actorID, KindDimensionsIdentified, data, metadata)
}

// LogAspectResearchComplete emits aspect_research_complete with the FULL
// research content in the payload (spec §4.3: "published results MUST
// include only metadata... content belongs in the event log" — this is
// that log).
func (t *Tracker) LogAspectResearchComplete(ctx context.Context, sessionID, actorID, dimension, aspect string, researchContent map[string]any, wordCount int) (string, error) {
	data := map[string]any{
		"dimension":        dimension,
		"aspect":           aspect,
		"research_content": researchContent,
		"word_count":       wordCount,
	}
	metadata := map[string]string{
		"dim":        SanitizeMetadataValue(clampLen(dimension, 100)),
		"aspect":     SanitizeMetadataValue(clampLen(aspect, 100)),
		"word_count": strconv.Itoa(wordCount),
	}
	return t.create(ctx, sessionID, actorID, KindAspectResearchComplete, data, metadata)
}

// LogDimensionDocumentComplete emits dimension_document_complete with the
// FULL generated markdown (spec §4.3).
func (t *Tracker) LogDimensionDocumentComplete(ctx context.Context, sessionID, actorID, dimension, markdown string, wordCount int, filename string) (string, error) {
	data := map[string]any{
		"dimension":  dimension,
		"markdown":   markdown,
		"word_count": wordCount,
		"filename":   filename,
	}
	metadata := map[string]string{
		"dim":        SanitizeMetadataValue(clampLen(dimension, 100)),
		"word_count": strconv.Itoa(wordCount),
	}
	return t.create(ctx, sessionID, actorID, KindDimensionDocComplete, data, metadata)
}

// LogResearchComplete emits research_complete (spec §4.3).
func (t *Tracker) LogResearchComplete(ctx context.Context, sessionID, actorID string, dimensions []string, totalAspects int, elapsedSeconds float64, outputFiles, uploads map[string]string) (string, error) {
	data := map[string]any{
		"dimensions":      dimensions,
		"total_aspects":   totalAspects,
		"elapsed_seconds": elapsedSeconds,
		"output_files":    outputFiles,
		"uploads":         uploads,
	}
	metadata := map[string]string{
		"dimension_count": strconv.Itoa(len(dimensions)),
		"total_aspects":   strconv.Itoa(totalAspects),
	}
	return t.create(ctx, sessionID, actorID, KindResearchComplete, data, metadata)
}

// LogError emits error (spec §4.3: errorMessage clamped to 500 chars).
func (t *Tracker) LogError(ctx context.Context, sessionID, actorID, errorType, errorMessage, nodeName string, errContext map[string]any) (string, error) {
	data := map[string]any{
		"error_type":    errorType,
		"error_message": clampLen(errorMessage, 500),
		"node_name":     nodeName,
		"context":       errContext,
	}
	metadata := map[string]string{
		"error_type": SanitizeMetadataValue(clampLen(errorType, 100)),
		"node_name":  SanitizeMetadataValue(clampLen(nodeName, 100)),
	}
	return t.create(ctx, sessionID, actorID, KindError, data, metadata)
}

// LogCancelled emits the terminal cancelled event (spec §7, §8
// "cancellation liveness"); callers must not invoke any other Log* method
// for the same session afterward.
func (t *Tracker) LogCancelled(ctx context.Context, sessionID, actorID string) (string, error) {
	return t.create(ctx, sessionID, actorID, KindCancelled, map[string]any{}, map[string]string{})
}
