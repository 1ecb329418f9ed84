package chat

import (
	"fmt"
	"regexp"
	"strings"
)

// Tool markers are appended to the in-flight text buffer after a successful
// analysis so the model's continuation has the completion in context. They
// are stripped before the assistant message is persisted or shown.
var markerPattern = regexp.MustCompile(`\[\[analysis:[^\]]*\]\]`)

// toolMarker renders the marker for one completed analysis.
func toolMarker(analysisType string) string {
	return fmt.Sprintf("\n[[analysis:%s completed]]\n", analysisType)
}

// stripMarkers removes all tool markers and trims the result.
func stripMarkers(text string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
}
