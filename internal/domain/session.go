package domain

import "time"

// TimeBucket partitions the trading session for calibration and geometry keys.
type TimeBucket string

const (
	BucketOpening TimeBucket = "opening"
	BucketMidday  TimeBucket = "midday"
	BucketLate    TimeBucket = "late"
)

const (
	// SessionOpenMinute is 09:30 ET expressed as minutes since midnight.
	SessionOpenMinute = 9*60 + 30
	// SessionCloseMinute is 16:00 ET expressed as minutes since midnight.
	SessionCloseMinute = 16 * 60

	openingBucketMaxMinute = 90
	middayBucketMaxMinute  = 240
)

var easternTZ = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// Eastern returns the exchange timezone.
func Eastern() *time.Location { return easternTZ }

// SessionDate formats t as the ET trading date (YYYY-MM-DD).
func SessionDate(t time.Time) string {
	return t.In(easternTZ).Format("2006-01-02")
}

// SessionMinute returns minutes since the 09:30 ET open, clamped at zero for
// premarket timestamps.
func SessionMinute(t time.Time) int {
	et := t.In(easternTZ)
	m := et.Hour()*60 + et.Minute() - SessionOpenMinute
	if m < 0 {
		return 0
	}
	return m
}

// BucketForMinute maps minutes-since-open into a session time bucket.
func BucketForMinute(minute int) TimeBucket {
	switch {
	case minute <= openingBucketMaxMinute:
		return BucketOpening
	case minute <= middayBucketMaxMinute:
		return BucketMidday
	default:
		return BucketLate
	}
}

// AfterSessionClose reports whether t falls at or after the 16:00 ET close.
func AfterSessionClose(t time.Time) bool {
	et := t.In(easternTZ)
	return et.Hour()*60+et.Minute() >= SessionCloseMinute
}
