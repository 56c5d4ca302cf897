package artifacts

import (
	"fmt"
	"regexp"
	"strings"
)

// figureCaptionNumber matches a figure caption's number, whether already
// numbered or still carrying the "X" placeholder
// (grounded on code_interpreter_tool.py's `\*Figure [X\d]+:` pattern).
var figureCaptionNumber = regexp.MustCompile(`\*Figure [X\d]+:`)

// InsertChart inserts a chart image and caption at 1-indexed line lineNum
// of draft (spec §4.14: "insert the chart into the markdown at line:N
// positions"), then renumbers every figure caption in document order
// (spec §4.14, §8 "Figure renumbering"). imagePath is relative to the
// draft's directory (the chart_generation stage writes it under
// charts/{name}.png, matching the chart-tool insertion text this mirrors).
func InsertChart(draft string, lineNum int, title, imagePath, caption string) string {
	lines := strings.Split(draft, "\n")
	if lineNum < 0 {
		lineNum = 0
	}
	if lineNum > len(lines) {
		lineNum = len(lines)
	}

	insertion := []string{
		"",
		fmt.Sprintf("![%s](%s)", title, imagePath),
		fmt.Sprintf("*Figure X: %s*", caption),
		"",
	}

	out := make([]string, 0, len(lines)+len(insertion))
	out = append(out, lines[:lineNum]...)
	out = append(out, insertion...)
	out = append(out, lines[lineNum:]...)

	return RenumberFigures(strings.Join(out, "\n"))
}

// RenumberFigures walks content line by line; every image line immediately
// followed by a "*Figure ...:" caption line is renumbered sequentially
// starting at 1, in document order (spec §8 "Figure renumbering": "the
// *Figure N:* captions... read 1..K in document order with no gaps";
// ported from code_interpreter_tool.py's _renumber_figures_by_position).
func RenumberFigures(content string) string {
	lines := strings.Split(content, "\n")

	type figure struct{ captionLine int }
	var figures []figure

	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "![") {
			continue
		}
		if i+1 < len(lines) && strings.Contains(lines[i+1], "*Figure") {
			figures = append(figures, figure{captionLine: i + 1})
		}
	}

	for idx, f := range figures {
		lines[f.captionLine] = figureCaptionNumber.ReplaceAllString(lines[f.captionLine], fmt.Sprintf("*Figure %d:", idx+1))
	}

	return strings.Join(lines, "\n")
}
