// Package dates picks a usable capture date out of unreliable metadata.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultPattern matches "YYYY<sep>MM<sep>DD<sep>hh:mm:ss" where the date
// separator is '-', ':' or ' ' (exiftool writes colons) and the date/time
// separator is ' ' or 'T'. Trailing sub-seconds or zone offsets are allowed.
const DefaultPattern = `^(\d{4})[-: ](\d{2})[-: ](\d{2})[ T](\d{2}):(\d{2}):(\d{2})`

// Sentinel is substituted when no candidate is usable
const Sentinel = "1970-01-01 00:00:00"

// Layout is the canonical form of every resolved date
const Layout = "2006-01-02 15:04:05"

// BucketLen is the length of the date prefix used as the bucket name
const BucketLen = len("2006-01-02")

// Resolver validates candidate date strings against an injected pattern.
// The pattern must expose six capture groups: year, month, day, hour,
// minute, second.
type Resolver struct {
	pattern *regexp.Regexp
}

// New returns a Resolver using pattern
func New(pattern *regexp.Regexp) (*Resolver, error) {
	if pattern == nil {
		return nil, fmt.Errorf("date pattern is nil")
	}
	if pattern.NumSubexp() != 6 {
		return nil, fmt.Errorf("date pattern %q must have 6 capture groups, has %d",
			pattern.String(), pattern.NumSubexp())
	}
	return &Resolver{pattern: pattern}, nil
}

// Default returns a Resolver using DefaultPattern
func Default() *Resolver {
	return &Resolver{pattern: regexp.MustCompile(DefaultPattern)}
}

// Resolve returns primary if it is usable, otherwise secondary if it is
// usable, otherwise ("", false). A usable value is returned in Layout form.
// Malformed values are treated exactly like missing ones.
func (r *Resolver) Resolve(primary, secondary *string) (string, bool) {
	if d, ok := r.Canonical(primary); ok {
		return d, true
	}
	if d, ok := r.Canonical(secondary); ok {
		return d, true
	}
	return "", false
}

// Canonical validates one candidate. The captured fields must form a real
// calendar timestamp, so exiftool's "0000:00:00 00:00:00" is rejected.
func (r *Resolver) Canonical(candidate *string) (string, bool) {
	if candidate == nil {
		return "", false
	}
	m := r.pattern.FindStringSubmatch(*candidate)
	if m == nil {
		return "", false
	}

	var parts [6]int
	for i := range parts {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return "", false
		}
		parts[i] = v
	}

	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, time.UTC)
	// time.Date normalises out-of-range values; a round trip catches them
	if t.Year() != parts[0] || int(t.Month()) != parts[1] || t.Day() != parts[2] ||
		t.Hour() != parts[3] || t.Minute() != parts[4] || t.Second() != parts[5] {
		return "", false
	}
	if parts[0] == 0 {
		return "", false
	}

	return t.Format(Layout), true
}

// Bucket returns the archive directory name for a resolved date
func Bucket(resolved string) string {
	if len(resolved) < BucketLen {
		return resolved
	}
	return resolved[:BucketLen]
}
