package period

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestBucketDayUsesLocalDateAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	ts := time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC)
	require.Equal(t, "2025-11-02", BucketKey(ts, Day, ny))

	// 03:30 UTC on Nov 2 is still Nov 1 in New York.
	require.Equal(t, "2025-11-01", BucketKey(time.Date(2025, 11, 2, 3, 30, 0, 0, time.UTC), Day, ny))
	// Same local day, different UTC offsets on either side of the fall-back transition.
	require.Equal(t, BucketKey(time.Date(2025, 11, 2, 4, 30, 0, 0, time.UTC), Day, ny),
		BucketKey(time.Date(2025, 11, 2, 6, 30, 0, 0, time.UTC), Day, ny))
}

func TestBucketWeekUsesISOWeekYear(t *testing.T) {
	require.Equal(t, "2025-W01", BucketKey(time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC), Week, time.UTC))
	require.Equal(t, "2025-W01", BucketKey(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), Week, time.UTC))
	require.Equal(t, "2020-W53", BucketKey(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Week, time.UTC))
}

func TestBucketMonthInCasablanca(t *testing.T) {
	loc := mustLoad(t, "Africa/Casablanca")
	require.Equal(t, "2025-08", BucketKey(time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC), Month, loc))
}

func TestBucketFuncIsPure(t *testing.T) {
	fn := BucketFunc(ParseGranularity("MONTH"), time.UTC)
	ts := time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC)
	require.Equal(t, fn(ts), fn(ts))
	require.Equal(t, "2025-02", fn(ts))
}

func TestParseGranularityDefaultsToDay(t *testing.T) {
	require.Equal(t, Day, ParseGranularity("quarter"))
	require.Equal(t, Day, ParseGranularity(""))
	require.Equal(t, Week, ParseGranularity(" week "))
}

func TestResolveConvertsLocalDayBoundsToUTC(t *testing.T) {
	w, err := Resolve("2025-03-09", "2025-03-09", "America/New_York")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 9, 5, 0, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2025, 3, 10, 3, 59, 59, 0, time.UTC), w.End)
	require.Equal(t, 1, w.Days())
	require.True(t, w.Contains(time.Date(2025, 3, 10, 3, 59, 59, 500, time.UTC)))
	require.False(t, w.Contains(time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC)))
}

func TestResolveFallsBackToUTCForBadTimezone(t *testing.T) {
	w, err := Resolve("2025-01-01", "2025-01-31", "Mars/Olympus_Mons")
	require.NoError(t, err)
	require.Equal(t, time.UTC, w.Location)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
}

func TestResolveRejectsMalformedRange(t *testing.T) {
	_, err := Resolve("2025-13-01", "2025-12-31", "UTC")
	require.True(t, shared.IsValidation(err))

	_, err = Resolve("2025-02-01", "2025-01-01", "UTC")
	require.True(t, shared.IsValidation(err))
}

func TestEnumerateAndCompleteBuckets(t *testing.T) {
	w, err := Resolve("2025-01-01", "2025-03-31", "UTC")
	require.NoError(t, err)
	require.Equal(t, 90, w.Days())
	require.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, Enumerate(w, Month))
	require.Equal(t, []string{"2025-01", "2025-02", "2025-03"}, CompleteBuckets(w, Month))

	weeks := Enumerate(w, Week)
	require.Len(t, weeks, 14)
	require.Equal(t, "2025-W01", weeks[0])
	require.Equal(t, "2025-W14", weeks[len(weeks)-1])

	complete := CompleteBuckets(w, Week)
	require.Len(t, complete, 12)
	require.Equal(t, "2025-W02", complete[0])
	require.Equal(t, "2025-W13", complete[len(complete)-1])
}

func TestCompleteMonthsExcludeTrailingPartialMonth(t *testing.T) {
	w, err := Resolve("2025-01-01", "2025-03-30", "UTC")
	require.NoError(t, err)
	require.Equal(t, []string{"2025-01", "2025-02"}, CompleteBuckets(w, Month))
}

func TestExtendMovesToFirstOfEarlierMonth(t *testing.T) {
	w, err := Resolve("2025-03-15", "2025-03-31", "Asia/Jakarta")
	require.NoError(t, err)
	ext := w.Extend(6)
	require.Equal(t, "2024-09-01", ext.FromString())
	require.Equal(t, "2025-03-31", ext.ToString())
}

func TestLocalBucketKeyIgnoresZone(t *testing.T) {
	wall := time.Date(2025, 2, 10, 23, 30, 0, 0, time.UTC)
	require.Equal(t, "2025-02", LocalBucketKey(wall, Month))
	require.Equal(t, "2025-02-10", LocalBucketKey(wall, Day))
}
