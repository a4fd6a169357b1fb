package scrape

import (
	"bytes"
	"net/http"
	"strings"
)

const defaultShellThreshold = 2048

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// RenderDetector decides whether a statically fetched page is a client-side
// application shell that needs a browser to produce its tables.
type RenderDetector struct {
	ShellThreshold int
}

// NewRenderDetector returns a detector; threshold <= 0 selects the default.
func NewRenderDetector(threshold int) *RenderDetector {
	if threshold <= 0 {
		threshold = defaultShellThreshold
	}
	return &RenderDetector{ShellThreshold: threshold}
}

// NeedsRender reports whether p should be fetched again with a browser.
// A page that already carries a table is never promoted.
func (d *RenderDetector) NeedsRender(p Page) bool {
	if p.Rendered || p.StatusCode != http.StatusOK {
		return false
	}
	body := p.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	if bytes.Contains(lower, []byte("<table")) {
		return false
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return len(body) < d.ShellThreshold && scriptShare(string(lower)) >= 25
}

// scriptShare returns the percentage of doc covered by <script> elements.
// An unterminated script runs to the end of the document.
func scriptShare(doc string) int {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(doc)
	if total == 0 {
		return 0
	}
	covered, pos := 0, 0
	for {
		i := strings.Index(doc[pos:], openTag)
		if i < 0 {
			break
		}
		start := pos + i
		end := total
		if j := strings.Index(doc[start:], closeTag); j >= 0 {
			end = start + j + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
