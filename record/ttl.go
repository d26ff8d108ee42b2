package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/efsf/efsf-go/interfaces"
)

// ttlPattern accepts forms like "30s", "5 m", "2h", "90 minutes", "7days".
var ttlPattern = regexp.MustCompile(`(?i)^(\d+)\s*(s|sec(?:ond)?s?|m|min(?:ute)?s?|h|hr|hours?|d|days?)$`)

// ParseTTL parses a human-readable TTL string into a duration. The
// grammar is case-insensitive and whitespace-tolerant.
func ParseTTL(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, &interfaces.ValidationError{Field: "ttl", Msg: "empty ttl string"}
	}

	m := ttlPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, &interfaces.ValidationError{Field: "ttl", Msg: fmt.Sprintf("unparseable ttl %q, expected <number><unit> with unit s/m/h/d", s)}
	}

	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &interfaces.ValidationError{Field: "ttl", Msg: fmt.Sprintf("ttl value out of range in %q", s)}
	}

	var unit time.Duration
	switch strings.ToLower(m[2])[0] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	}

	return time.Duration(value) * unit, nil
}

// FormatTTL renders a duration in the largest whole unit of the TTL
// grammar, the inverse of ParseTTL for round values.
func FormatTTL(d time.Duration) string {
	seconds := int64(d / time.Second)
	switch {
	case seconds > 0 && seconds%(24*3600) == 0:
		return fmt.Sprintf("%dd", seconds/(24*3600))
	case seconds > 0 && seconds%3600 == 0:
		return fmt.Sprintf("%dh", seconds/3600)
	case seconds > 0 && seconds%60 == 0:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
