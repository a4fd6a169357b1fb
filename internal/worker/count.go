package worker

import (
	"regexp"
	"strconv"
)

var extractedPattern = regexp.MustCompile(`(?i)extracted\s+(\d+)`)

// parseExtractedCount returns the number from the last "extracted <N>"
// mention in out, or nil when there is none.
func parseExtractedCount(out string) *int {
	matches := extractedPattern.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return nil
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return nil
	}
	return &n
}
