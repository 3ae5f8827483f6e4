// Package archivetime implements timestamp parsing, clamping, and
// formatting (TS): the rules an archive applies to the timestamps it reads
// off a filesystem and the ones it writes into manifests, so that garbage
// or out-of-range values never make an archive unreadable on a 32-bit
// reader.
package archivetime

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Support32BitPlatforms pins the clamp bound to what a 32-bit time_t can
// hold. Archives are meant to remain packable and re-readable on the
// minimum supported platform, so this is not a runtime-configurable knob.
const Support32BitPlatforms = true

// MaxS and MaxNS are the clamp bounds: the largest second/nanosecond count
// safe to store and later reproduce on a 32-bit reader. The 48*3600 margin
// leaves room for timezone adjustment without overflowing.
const (
	MaxS  int64 = (1<<31 - 1) - 48*3600
	MaxNS int64 = MaxS * 1_000_000_000
)

// SafeS clamps a second-resolution timestamp to [0, MaxS].
func SafeS(s int64) int64 {
	switch {
	case s < 0:
		return 0
	case s > MaxS:
		return MaxS
	default:
		return s
	}
}

// SafeNS clamps a nanosecond-resolution timestamp to [0, MaxNS].
func SafeNS(ns int64) int64 {
	switch {
	case ns < 0:
		return 0
	case ns > MaxNS:
		return MaxNS
	default:
		return ns
	}
}

// SafeTimestamp clamps a nanosecond epoch value and returns the UTC instant
// it denotes. Negative inputs clamp to the epoch; over-max inputs clamp to
// the latest representable instant.
func SafeTimestamp(epochNS int64) time.Time {
	return time.Unix(0, SafeNS(epochNS)).UTC()
}

// isoLayouts covers the ISO 8601 variants an archive item's mtime/ctime/
// atime may arrive in: with or without fractional seconds, with or without
// an explicit offset. hasZone records, per layout, whether it carries a
// zone component — a value parsed with no zone is naive and must be
// reinterpreted in the caller's assumed zone rather than trusted as UTC.
var isoLayouts = []struct {
	layout  string
	hasZone bool
}{
	{"2006-01-02T15:04:05.999999999Z07:00", true},
	{"2006-01-02T15:04:05Z07:00", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
}

func parseISO(s string, naive *time.Location) (time.Time, error) {
	for _, l := range isoLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if !l.hasZone {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), naive)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("archivetime: %q is not a recognized ISO 8601 timestamp", s)
}

// ParseTimestamp parses an ISO 8601 timestamp. A value with no timezone
// offset is assumed to already be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := parseISO(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseLocalTimestamp parses an ISO 8601 timestamp. A value with no
// timezone offset is interpreted in loc (the caller's local zone) and
// converted to UTC.
func ParseLocalTimestamp(s string, loc *time.Location) (time.Time, error) {
	t, err := parseISO(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// DefaultFormat is the archive's default human-readable timestamp layout,
// Go's strftime-equivalent of "%a, %Y-%m-%d %H:%M:%S %z".
const DefaultFormat = "Mon, 2006-01-02 15:04:05 -0700"

// FormatTime renders t in layout, or DefaultFormat if layout is empty.
func FormatTime(t time.Time, layout string) string {
	if layout == "" {
		layout = DefaultFormat
	}
	return t.Format(layout)
}

// ArchiveTSNow returns the current instant in UTC, the timestamp an archive
// write stamps onto a newly created manifest.
func ArchiveTSNow() time.Time {
	return time.Now().UTC()
}

var (
	dayOffsetRE   = regexp.MustCompile(`(\d+)d`)
	monthOffsetRE = regexp.MustCompile(`(\d+)m`)
)

// CalculateRelativeOffset computes a target date from base by applying the
// first "<n>d" (days) or "<n>m" (months) token found in formatString.
// earlier subtracts the offset instead of adding it. A formatString with
// neither token returns base unchanged.
func CalculateRelativeOffset(formatString string, base time.Time, earlier bool) (time.Time, error) {
	sign := 1
	if earlier {
		sign = -1
	}

	if m := dayOffsetRE.FindStringSubmatch(formatString); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		return base.AddDate(0, 0, sign*n), nil
	}

	if m := monthOffsetRE.FindStringSubmatch(formatString); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		return OffsetNMonths(base, sign*n), nil
	}

	return base, nil
}

// OffsetNMonths returns from shifted by n months, clamping the day of
// month to the last day of the target month (e.g. 2024-01-31 offset by +1
// month lands on 2024-02-29, not 2024-03-02 as naive date arithmetic
// would produce).
func OffsetNMonths(from time.Time, n int) time.Time {
	totalMonths := int(from.Year())*12 + int(from.Month()) - 1 + n
	targetYear := totalMonths / 12
	targetMonth := totalMonths%12 + 1

	// First of the month after the target, minus one day, gives the
	// target month's last day.
	firstOfNext := time.Date(targetYear, time.Month(targetMonth), 1, 0, 0, 0, 0, from.Location()).AddDate(0, 1, 0)
	maxDay := firstOfNext.AddDate(0, 0, -1).Day()

	day := from.Day()
	if day > maxDay {
		day = maxDay
	}

	return time.Date(targetYear, time.Month(targetMonth), day,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}
