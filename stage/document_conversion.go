package stage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"

	"github.com/dimensional-research/orchestrator/state"
)

// docxConvertTimeout bounds the LibreOffice subprocess (spec §4.15's pure
// format adaptation carries no LLM timeout, but an external process still
// needs a ceiling; ported from docx_to_pdf's subprocess.run(timeout=60)).
const docxConvertTimeout = 60 * time.Second

var (
	citationURLPattern = regexp.MustCompile(`\[(https?://[^\]]+)\]`)
	imageLinePattern   = regexp.MustCompile(`^!\[(.*?)\]\((.*?)\)$`)
	numberedListPattern = regexp.MustCompile(`^\d+\.\s`)
)

// DocumentConversion is a pure format-adaptation barrier stage (spec §4.15):
// markdown-with-embedded-images -> docx -> pdf, no LLM involvement. It runs
// once after chart_generation and gracefully no-ops (not an error) when
// there is no draft to convert, since chart generation itself is optional
// and upstream failures may have left DraftReportFile empty.
func (d *Deps) DocumentConversion(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "document_conversion"); err != nil {
		return state.Update{}, fmt.Errorf("document_conversion: %w", err)
	}

	if s.DraftReportFile == "" {
		return state.Update{}, nil
	}
	markdown, err := os.ReadFile(s.DraftReportFile)
	if err != nil {
		_ = d.Status.AddError(ctx, "document_conversion", "draft report file not found, skipping conversion")
		return state.Update{}, nil
	}

	docxPath := d.Workspace.FinalFile("docx")
	if err := markdownToDocx(string(markdown), docxPath); err != nil {
		_ = d.Status.AddError(ctx, "document_conversion", "markdown to docx conversion failed: "+err.Error())
		return state.Update{}, nil
	}

	pdfPath := d.Workspace.FinalFile("pdf")
	var pdfResult *string
	if err := docxToPDF(ctx, docxPath, pdfPath); err != nil {
		_ = d.Status.AddError(ctx, "document_conversion", "pdf conversion failed: "+err.Error())
		empty := ""
		pdfResult = &empty
	} else {
		pdfResult = &pdfPath
	}

	return state.Update{ReportFile: &docxPath, ReportPDFFile: pdfResult}, nil
}

// markdownToDocx renders markdown (headings, bullet/numbered lists,
// horizontal rules, embedded chart images with *Figure N:* captions, and
// inline bold/italic/code/citation runs) into a Word document, plus a
// Footnotes section listing every bracketed URL citation by number.
// Ported from report_writing.py's markdown_to_docx/parse_inline_formatting.
func markdownToDocx(markdown, outputPath string) error {
	urlToNumber := map[string]int{}
	for _, m := range citationURLPattern.FindAllStringSubmatch(markdown, -1) {
		url := m[1]
		if _, ok := urlToNumber[url]; !ok {
			urlToNumber[url] = len(urlToNumber) + 1
		}
	}

	document, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("document_conversion: new document: %w", err)
	}

	lines := strings.Split(markdown, "\n")
	skipNext := false
	for i, raw := range lines {
		line := strings.TrimRight(raw, " \t\r")
		if line == "" {
			continue
		}
		if skipNext {
			skipNext = false
			continue
		}

		switch {
		case strings.HasPrefix(line, "#### "):
			document.AddHeading(strings.TrimPrefix(line, "#### "), 4)
		case strings.HasPrefix(line, "### "):
			document.AddHeading(strings.TrimPrefix(line, "### "), 3)
		case strings.HasPrefix(line, "## "):
			document.AddHeading(strings.TrimPrefix(line, "## "), 2)
		case strings.HasPrefix(line, "# "):
			document.AddHeading(strings.TrimPrefix(line, "# "), 1)
		case strings.HasPrefix(line, "!["):
			if m := imageLinePattern.FindStringSubmatch(line); m != nil {
				altText, imagePath := m[1], m[2]
				caption := ""
				if i+1 < len(lines) {
					next := strings.TrimSpace(lines[i+1])
					if strings.HasPrefix(next, "*Figure ") && strings.HasSuffix(next, "*") {
						caption = next[1 : len(next)-1]
						skipNext = true
					}
				}
				resolved := resolveImagePath(imagePath, outputPath)
				if resolved == "" {
					p := document.AddParagraph(fmt.Sprintf("[Image not found: %s]", altText))
					italicizeParagraph(p)
					break
				}
				if _, err := document.AddPicture(resolved, 432, 0); err != nil {
					p := document.AddParagraph(fmt.Sprintf("[Image: %s]", altText))
					italicizeParagraph(p)
					break
				}
				if caption != "" {
					p := document.AddParagraph(caption)
					italicizeParagraph(p)
				}
			}
		case strings.HasPrefix(line, "---"):
			document.AddParagraph(strings.Repeat("_", 50))
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			p := document.AddParagraph("")
			addInlineRuns(p, line[2:])
		case numberedListPattern.MatchString(line):
			p := document.AddParagraph("")
			addInlineRuns(p, numberedListPattern.ReplaceAllString(line, ""))
		case strings.HasPrefix(line, "*") && strings.HasSuffix(line, "*") && !strings.HasPrefix(line, "**"):
			p := document.AddParagraph(line[1 : len(line)-1])
			italicizeParagraph(p)
		default:
			p := document.AddParagraph("")
			addInlineRuns(p, line)
		}
	}

	if len(urlToNumber) > 0 {
		document.AddParagraph("")
		document.AddHeading("Footnotes", 2)
		numbers := make([]string, 0, len(urlToNumber))
		byNumber := make(map[int]string, len(urlToNumber))
		for url, n := range urlToNumber {
			byNumber[n] = url
		}
		for n := range byNumber {
			numbers = append(numbers, strconv.Itoa(n))
		}
		sort.Strings(numbers)
		for _, ns := range numbers {
			n, _ := strconv.Atoi(ns)
			document.AddParagraph(fmt.Sprintf("%d %s", n, byNumber[n]))
		}
	}

	if err := document.SaveTo(outputPath); err != nil {
		return fmt.Errorf("document_conversion: save docx: %w", err)
	}
	return nil
}

// resolveImagePath matches the original's fallback for a relative
// ![Chart](name.png) reference: if the image isn't found alongside the
// draft, search every session's charts/ directory under workspace/temp.
func resolveImagePath(imagePath, docxOutputPath string) string {
	if filepath.IsAbs(imagePath) {
		if _, err := os.Stat(imagePath); err == nil {
			return imagePath
		}
		return ""
	}
	finalDir := filepath.Dir(docxOutputPath)
	direct := filepath.Join(finalDir, imagePath)
	if _, err := os.Stat(direct); err == nil {
		return direct
	}

	tempDir := filepath.Join(filepath.Dir(finalDir), "temp")
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return ""
	}
	base := filepath.Base(imagePath)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(tempDir, entry.Name(), "charts", base)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func italicizeParagraph(p *docx.Paragraph) {
	if p == nil {
		return
	}
	p.Italic()
}

// addInlineRuns ports parse_inline_formatting's ordered bold/italic/code/
// citation pattern matching to a sequence of formatted docx runs.
func addInlineRuns(p *docx.Paragraph, text string) {
	type match struct {
		start, end int
		kind       string
		inner      string
	}
	patterns := []struct {
		re   *regexp.Regexp
		kind string
	}{
		{regexp.MustCompile(`\*\*(.+?)\*\*`), "bold"},
		{regexp.MustCompile(`\*(.+?)\*`), "italic"},
		{regexp.MustCompile("`(.+?)`"), "code"},
		{regexp.MustCompile(`\[\d+(?:,\s*\d+)*\]`), "citation"},
	}

	pos := 0
	for pos < len(text) {
		var best *match
		for _, pat := range patterns {
			loc := pat.re.FindStringSubmatchIndex(text[pos:])
			if loc == nil {
				continue
			}
			start := pos + loc[0]
			if best == nil || start < best.start {
				inner := text[pos+loc[0] : pos+loc[1]]
				if len(loc) >= 4 && loc[2] >= 0 {
					inner = text[pos+loc[2] : pos+loc[3]]
				}
				best = &match{start: start, end: pos + loc[1], kind: pat.kind, inner: inner}
			}
		}
		if best == nil {
			addPlainRun(p, text[pos:])
			return
		}
		if best.start > pos {
			addPlainRun(p, text[pos:best.start])
		}
		switch best.kind {
		case "bold":
			p.AddText(best.inner).Bold(true)
		case "italic":
			p.AddText(best.inner).Italic(true)
		case "code":
			p.AddText(best.inner)
		case "citation":
			p.AddText(best.inner)
		}
		pos = best.end
	}
}

func addPlainRun(p *docx.Paragraph, text string) {
	if text == "" {
		return
	}
	p.AddText(text)
}

// docxToPDF shells out to LibreOffice headless, exactly as the original
// does on its Linux deployment target (docx_to_pdf's platform == 'Linux'
// branch) — the macOS/Windows docx2pdf branch is dropped since this port
// runs in Linux containers only.
func docxToPDF(ctx context.Context, docxPath, pdfPath string) error {
	outDir := filepath.Dir(pdfPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("document_conversion: create pdf output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, docxConvertTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "soffice", "--headless", "--convert-to", "pdf", "--outdir", outDir, docxPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("document_conversion: libreoffice conversion failed: %w: %s", err, string(output))
	}

	producedName := strings.TrimSuffix(filepath.Base(docxPath), ".docx") + ".pdf"
	produced := filepath.Join(outDir, producedName)
	if produced != pdfPath {
		if _, err := os.Stat(produced); err == nil {
			if err := os.Rename(produced, pdfPath); err != nil {
				return fmt.Errorf("document_conversion: rename converted pdf: %w", err)
			}
		}
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return fmt.Errorf("document_conversion: pdf was not created at %q", pdfPath)
	}
	return nil
}
