// Package artifacts implements the artifact assembler (C9): merging
// per-dimension markdown into a draft report, collecting and deduplicating
// references, inserting generated chart figures, and renumbering figure
// captions. Every function here is a pure, non-suspending synthesis step
// (spec §4.13/§4.14, §5 "Pure synthesis stages... are non-suspending but
// cheap").
package artifacts

import (
	"regexp"
	"sort"
	"strings"
)

// ExecutiveSummaryPlaceholder and ConclusionPlaceholder bracket the merged
// body until the editor sub-agent replaces them (spec §4.13 item 2).
const (
	ExecutiveSummaryPlaceholder = "[EXECUTIVE_SUMMARY_TO_BE_GENERATED]"
	ConclusionPlaceholder       = "[CONCLUSION_TO_BE_GENERATED]"
)

var referencesHeading = regexp.MustCompile(`(?m)^#{1,2}\s*References\s*$`)

// stripReferences splits doc into its body and the reference lines found
// under a trailing "## References" (or "# References") heading, if any.
// Grounded on the original's collect_references_from_documents: walk
// paragraphs after a References heading until the next major heading.
func stripReferences(doc string) (body string, refs []string) {
	loc := referencesHeading.FindStringIndex(doc)
	if loc == nil {
		return strings.TrimRight(doc, "\n"), nil
	}
	body = strings.TrimRight(doc[:loc[0]], "\n")

	rest := doc[loc[1]:]
	for _, line := range strings.Split(rest, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			break
		}
		refs = append(refs, stripListMarker(trimmed))
	}
	return body, refs
}

var listMarker = regexp.MustCompile(`^(?:[-*]\s+|\d+\.\s+)`)

func stripListMarker(line string) string {
	return listMarker.ReplaceAllString(line, "")
}

// MergeDimensionDocuments merges dimension markdown bodies in declared
// order (spec §4.13 item 1: "Merge... in declared dimension order,
// separated by horizontal rules; strip each file's embedded references
// block"), skipping dimensions with no document (a failed reduction), and
// returns the deduplicated, sorted union of reference lines across all
// merged documents (spec §4.13 item 3).
func MergeDimensionDocuments(order []string, docsByDimension map[string]string) (merged string, references []string) {
	var sections []string
	seen := make(map[string]struct{})

	for _, dim := range order {
		doc, ok := docsByDimension[dim]
		if !ok || doc == "" {
			continue
		}
		body, refs := stripReferences(doc)
		sections = append(sections, body)
		for _, r := range refs {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			references = append(references, r)
		}
	}

	sort.Strings(references)
	merged = strings.Join(sections, "\n\n---\n\n")
	return merged, references
}

// AssembleDraft builds the full draft document (spec §4.13 items 2-3):
// merged body with executive-summary/conclusion placeholders bracketing
// it, followed by a References section built from the deduplicated,
// sorted union of per-dimension reference lines.
func AssembleDraft(title string, order []string, docsByDimension map[string]string) string {
	body, references := MergeDimensionDocuments(order, docsByDimension)

	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	b.WriteString(ExecutiveSummaryPlaceholder)
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(ConclusionPlaceholder)

	if len(references) > 0 {
		b.WriteString("\n\n## References\n\n")
		for _, r := range references {
			b.WriteString("- " + r + "\n")
		}
	}
	return b.String()
}
