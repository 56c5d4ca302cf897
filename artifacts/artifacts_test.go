package artifacts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDimensionDocuments_StripsReferencesAndJoinsInOrder(t *testing.T) {
	docs := map[string]string{
		"intro":       "# Intro\n\nSome body.\n\n## References\n\n- ref-a\n- ref-b\n",
		"methodology": "# Methodology\n\nOther body.\n\n## References\n\n- ref-b\n- ref-c\n",
	}

	merged, refs := MergeDimensionDocuments([]string{"intro", "methodology"}, docs)

	assert.True(t, strings.Index(merged, "Intro") < strings.Index(merged, "Methodology"))
	assert.Contains(t, merged, "---")
	assert.NotContains(t, merged, "References")
	assert.Equal(t, []string{"ref-a", "ref-b", "ref-c"}, refs)
}

func TestMergeDimensionDocuments_SkipsMissingDimensions(t *testing.T) {
	docs := map[string]string{"intro": "# Intro\n\nBody."}
	merged, refs := MergeDimensionDocuments([]string{"intro", "missing"}, docs)
	assert.Contains(t, merged, "Intro")
	assert.Empty(t, refs)
}

func TestAssembleDraft_BracketsBodyWithPlaceholders(t *testing.T) {
	docs := map[string]string{"intro": "Body text."}
	draft := AssembleDraft("My Report", []string{"intro"}, docs)

	assert.True(t, strings.Index(draft, ExecutiveSummaryPlaceholder) < strings.Index(draft, "Body text."))
	assert.True(t, strings.Index(draft, "Body text.") < strings.Index(draft, ConclusionPlaceholder))
}

func TestInsertChart_InsertsAtLineAndAssignsFigureOne(t *testing.T) {
	draft := "line1\nline2\nline3"
	out := InsertChart(draft, 1, "Chart", "charts/c1.png", "a description")

	require.Contains(t, out, "![Chart](charts/c1.png)")
	assert.Contains(t, out, "*Figure 1: a description*")
}

func TestRenumberFigures_SequencesByDocumentPositionNotInsertionOrder(t *testing.T) {
	// Grounded on spec §8 scenario 6: whatever order charts were inserted
	// in, captions read 1..K by their final position in the document.
	draft := "![A](charts/a.png)\n*Figure X: appears first in the document*\n\nmiddle\n\n![B](charts/b.png)\n*Figure X: appears second in the document*\n\nend\n\n![C](charts/c.png)\n*Figure X: appears third in the document*"

	out := RenumberFigures(draft)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "*Figure 1: appears first in the document*", lines[1])
	assert.Equal(t, "*Figure 2: appears second in the document*", lines[6])
	assert.Equal(t, "*Figure 3: appears third in the document*", lines[11])
}

func TestInsertChart_ThreeInsertsRenumberByFinalDocumentPosition(t *testing.T) {
	// Spec §8 scenario 6: inserts at lines 120, 30, 250 in that order end
	// up captioned Figure 1 (line 30), Figure 2 (line 120), Figure 3
	// (line 250). Reproduced at a scale a unit test can assert on exactly.
	lines := make([]string, 12)
	for i := range lines {
		lines[i] = "text"
	}
	draft := strings.Join(lines, "\n")

	draft = InsertChart(draft, 8, "Late", "charts/late.png", "inserted at line 8")
	draft = InsertChart(draft, 2, "Early", "charts/early.png", "inserted at line 2")
	draft = InsertChart(draft, len(strings.Split(draft, "\n")), "Last", "charts/last.png", "inserted at the end")

	outLines := strings.Split(draft, "\n")
	var captions []string
	for _, l := range outLines {
		if strings.Contains(l, "*Figure") {
			captions = append(captions, l)
		}
	}
	require.Len(t, captions, 3)
	assert.Contains(t, captions[0], "Figure 1: inserted at line 2")
	assert.Contains(t, captions[1], "Figure 2: inserted at line 8")
	assert.Contains(t, captions[2], "Figure 3: inserted at the end")
}

func TestRenumberFigures_IgnoresImageLinesWithoutCaptions(t *testing.T) {
	draft := "![Decorative](logo.png)\n\ntext\n\n![Chart](charts/c1.png)\n*Figure X: only real figure*"
	out := RenumberFigures(draft)
	assert.Contains(t, out, "*Figure 1: only real figure*")
}
