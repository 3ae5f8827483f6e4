package archivetime

import (
	"testing"
	"time"
)

// S7: parsing with and without a fractional-seconds component.
func TestParseTimestampWithAndWithoutMicroseconds(t *testing.T) {
	withMicros, err := ParseTimestamp("1970-01-01T00:00:01.000001")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(1970, 1, 1, 0, 0, 1, 1000, time.UTC)
	if !withMicros.Equal(want) {
		t.Errorf("with micros = %v, want %v", withMicros, want)
	}

	withoutMicros, err := ParseTimestamp("1970-01-01T00:00:01")
	if err != nil {
		t.Fatal(err)
	}
	want2 := time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC)
	if !withoutMicros.Equal(want2) {
		t.Errorf("without micros = %v, want %v", withoutMicros, want2)
	}
}

func TestParseTimestampWithExplicitOffset(t *testing.T) {
	got, err := ParseTimestamp("1970-01-01T02:00:00+02:00")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Unix(0, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseLocalTimestampAssumesLocalZone(t *testing.T) {
	loc := time.FixedZone("TEST", 5*3600)
	got, err := ParseLocalTimestamp("1970-01-01T05:00:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Unix(0, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFormatTimeRoundTripsParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-05T12:30:45")
	if err != nil {
		t.Fatal(err)
	}
	s := FormatTime(ts, "")
	const want = "Tue, 2024-03-05 12:30:45 +0000"
	if s != want {
		t.Errorf("FormatTime = %q, want %q", s, want)
	}
}

func TestSafeSClampsRange(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{-1, 0},
		{0, 0},
		{1000, 1000},
		{MaxS, MaxS},
		{MaxS + 1, MaxS},
		{MaxS * 2, MaxS},
	}
	for _, c := range cases {
		if got := SafeS(c.in); got != c.want {
			t.Errorf("SafeS(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSafeNSClampsRange(t *testing.T) {
	if got := SafeNS(-5); got != 0 {
		t.Errorf("SafeNS(-5) = %d, want 0", got)
	}
	if got := SafeNS(MaxNS + 1); got != MaxNS {
		t.Errorf("SafeNS(MaxNS+1) = %d, want %d", got, MaxNS)
	}
	if MaxNS != MaxS*1_000_000_000 {
		t.Fatalf("MaxNS is not a multiple of 1e9 times MaxS")
	}
}

func TestSafeSIdempotentAndMonotone(t *testing.T) {
	inputs := []int64{-100, 0, 1, MaxS - 1, MaxS, MaxS + 1, MaxS * 3}
	prev := int64(-1)
	for _, in := range inputs {
		once := SafeS(in)
		twice := SafeS(once)
		if once != twice {
			t.Errorf("SafeS not idempotent at %d: %d != %d", in, once, twice)
		}
		if once < prev {
			t.Errorf("SafeS not monotone: SafeS(%d)=%d < previous %d", in, once, prev)
		}
		prev = once
	}
}

func TestSafeTimestampClampsNegativeToEpoch(t *testing.T) {
	got := SafeTimestamp(-1)
	if !got.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("SafeTimestamp(-1) = %v, want epoch", got)
	}
}

// Month arithmetic must clamp the day to the target month's last day,
// not overflow into the following month.
func TestOffsetNMonthsClampsDayOnShorterMonth(t *testing.T) {
	from := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	got := OffsetNMonths(from, 1)
	want := time.Date(2024, time.February, 29, 10, 0, 0, 0, time.UTC) // 2024 is a leap year
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOffsetNMonthsNonLeapFebruary(t *testing.T) {
	from := time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC)
	got := OffsetNMonths(from, 1)
	want := time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOffsetNMonthsCrossesYearBoundaryForward(t *testing.T) {
	from := time.Date(2023, time.December, 15, 0, 0, 0, 0, time.UTC)
	got := OffsetNMonths(from, 1)
	want := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOffsetNMonthsCrossesYearBoundaryBackward(t *testing.T) {
	from := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	got := OffsetNMonths(from, -1)
	want := time.Date(2023, time.December, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCalculateRelativeOffsetDays(t *testing.T) {
	base := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	got, err := CalculateRelativeOffset("7d", base, false)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, time.March, 17, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	earlier, err := CalculateRelativeOffset("7d", base, true)
	if err != nil {
		t.Fatal(err)
	}
	wantEarlier := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	if !earlier.Equal(wantEarlier) {
		t.Errorf("got %v, want %v", earlier, wantEarlier)
	}
}

func TestCalculateRelativeOffsetMonths(t *testing.T) {
	base := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	got, err := CalculateRelativeOffset("1m", base, false)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCalculateRelativeOffsetNoTokenReturnsBaseUnchanged(t *testing.T) {
	base := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	got, err := CalculateRelativeOffset("no offset here", base, false)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(base) {
		t.Errorf("got %v, want unchanged base %v", got, base)
	}
}

func TestArchiveTSNowIsUTC(t *testing.T) {
	if ArchiveTSNow().Location() != time.UTC {
		t.Errorf("ArchiveTSNow() location = %v, want UTC", ArchiveTSNow().Location())
	}
}
