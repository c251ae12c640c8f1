// Package detector decides when a plain fetch should be re-rendered headless.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/nmkr-support-router/internal/crawl"
)

const defaultMinTextChars = 512

// Heuristic promotes pages that carry little visible text and look like a
// client-rendered application.
type Heuristic struct {
	// MinTextChars is the visible text length at which a page is considered
	// server rendered regardless of markers.
	MinTextChars int
}

var _ crawl.HeadlessDetector = (*Heuristic)(nil)

// NewHeuristic creates a new detector.
func NewHeuristic(minTextChars int) *Heuristic {
	if minTextChars <= 0 {
		minTextChars = defaultMinTextChars
	}
	return &Heuristic{MinTextChars: minTextChars}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(probe crawl.FetchResponse) bool {
	if probe.StatusCode != http.StatusOK || probe.UsedHeadless {
		return false
	}
	if len(bytes.TrimSpace(probe.Body)) == 0 {
		return true
	}
	text, err := crawl.ExtractText(probe.Body)
	if err != nil || len(text) >= h.MinTextChars {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(probe.Body, marker) {
			return true
		}
	}
	return scriptHeavy(probe.Body)
}

// scriptHeavy reports whether at least a quarter of the document sits inside
// script elements.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		open := strings.Index(lower[pos:], "<script")
		if open == -1 {
			break
		}
		start := pos + open
		end := strings.Index(lower[start:], "</script>")
		if end == -1 {
			covered += total - start
			break
		}
		next := start + end + len("</script>")
		covered += next - start
		pos = next
	}
	return covered > 0 && covered*100/total >= 25
}
