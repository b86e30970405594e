package dlna

import (
	"fmt"
	"strconv"
	"strings"
)

// formatTime renders a duration (seconds, truncated) as HH:MM:SS, the
// REL_TIME format DLNA's Seek action expects per spec.md §4.3.2.
func formatTime(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// parseTime parses an HH:MM:SS (or H+:MM:SS) string back to whole
// seconds, the inverse of formatTime.
func parseTime(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("dlna: bad time format %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, err
	}
	return h*3600 + m*60 + s, nil
}
