// Package diff compares two plain-text snapshots line by line and decides
// whether the change is large enough to keep a version.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const DefaultThreshold = 0.10

type LinePair struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type Stats struct {
	LinesAdded    int `json:"linesAdded"`
	LinesRemoved  int `json:"linesRemoved"`
	LinesModified int `json:"linesModified"`
	TotalChanges  int `json:"totalChanges"`
}

type Result struct {
	AddedLines    []string   `json:"addedLines"`
	RemovedLines  []string   `json:"removedLines"`
	ModifiedLines []LinePair `json:"modifiedLines"`
	Stats         Stats      `json:"stats"`
}

type Engine struct {
	// Threshold is the changed-line ratio at or above which a save is kept as a version.
	Threshold float64
}

func New(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{Threshold: threshold}
}

// Diff computes the line-level changes from oldText to newText. A replaced
// block counts its old lines as removed and its new lines as added; the
// overlapping prefix of the two sides is also reported as modified pairs.
func (e *Engine) Diff(oldText, newText string) Result {
	oldLines := SplitLines(oldText)
	newLines := SplitLines(newText)

	result := Result{
		AddedLines:    []string{},
		RemovedLines:  []string{},
		ModifiedLines: []LinePair{},
	}
	matcher := difflib.NewMatcher(oldLines, newLines)
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'd':
			result.RemovedLines = append(result.RemovedLines, oldLines[op.I1:op.I2]...)
		case 'i':
			result.AddedLines = append(result.AddedLines, newLines[op.J1:op.J2]...)
		case 'r':
			removed := oldLines[op.I1:op.I2]
			added := newLines[op.J1:op.J2]
			result.RemovedLines = append(result.RemovedLines, removed...)
			result.AddedLines = append(result.AddedLines, added...)
			for i := 0; i < len(removed) && i < len(added); i++ {
				result.ModifiedLines = append(result.ModifiedLines, LinePair{Old: removed[i], New: added[i]})
			}
		}
	}

	result.Stats = Stats{
		LinesAdded:    len(result.AddedLines),
		LinesRemoved:  len(result.RemovedLines),
		LinesModified: len(result.ModifiedLines),
	}
	result.Stats.TotalChanges = result.Stats.LinesAdded + result.Stats.LinesRemoved
	return result
}

// ChangeRatio is (added+removed) / max(len(old), len(new)) in lines.
func (e *Engine) ChangeRatio(oldText, newText string) float64 {
	total := max(len(SplitLines(oldText)), len(SplitLines(newText)))
	if total == 0 {
		return 0
	}
	stats := e.Diff(oldText, newText).Stats
	return float64(stats.LinesAdded+stats.LinesRemoved) / float64(total)
}

// ShouldSnapshot is true for the first content ever (oldText empty) or when the
// change ratio reaches the threshold. The boundary is inclusive.
func (e *Engine) ShouldSnapshot(oldText, newText string) bool {
	if oldText == "" {
		return true
	}
	return e.ChangeRatio(oldText, newText) >= e.Threshold
}

// Summarize renders the stats as "N lines added, M lines removed".
func Summarize(result Result) string {
	parts := make([]string, 0, 2)
	if n := result.Stats.LinesAdded; n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s added", n, plural(n)))
	}
	if n := result.Stats.LinesRemoved; n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s removed", n, plural(n)))
	}
	if len(parts) == 0 {
		return "minor formatting changes"
	}
	return strings.Join(parts, ", ")
}

// Unified renders a unified diff with three lines of context.
func Unified(oldText, newText, fromLabel, toLabel string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(normalizeNewlines(oldText)),
		B:        difflib.SplitLines(normalizeNewlines(newText)),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  3,
	})
}

// SplitLines splits on \n, \r\n and \r without keeping terminators; a trailing
// newline does not produce an empty last line and "" yields no lines.
func SplitLines(text string) []string {
	text = normalizeNewlines(text)
	if text == "" {
		return []string{}
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func plural(n int) string {
	if n == 1 {
		return "line"
	}
	return "lines"
}
