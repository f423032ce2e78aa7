package common

import (
	"fmt"
	"time"
)

// Trading session boundaries, as "HH:MM:SS" time-of-day strings. The string
// form sorts lexicographically in time order, which the trigger registry
// relies on.
const (
	PreOpenTime    = "09:15:00"
	OpenTime       = "09:30:00"
	BreakStartTime = "11:30:00"
	BreakEndTime   = "13:00:00"
	CloseTime      = "15:00:00"
	SettleTime     = "15:30:00"
)

// TimeOfDay formats the clock part of t as "HH:MM:SS".
func TimeOfDay(t time.Time) string {
	return t.Format("15:04:05")
}

// ParseTimeOfDay validates a "HH:MM:SS" string.
func ParseTimeOfDay(tod string) (time.Duration, error) {
	var h, m, s int
	if _, err := fmt.Sscanf(tod, "%02d:%02d:%02d", &h, &m, &s); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", tod, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return 0, fmt.Errorf("invalid time of day %q", tod)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, nil
}

// InTradingSession reports whether the time of day falls into the continuous
// trading windows, [09:30, 11:30] or [13:00, 15:00]. Both boundaries are
// inclusive; the midday break is not part of the session.
func InTradingSession(tod string) bool {
	return (tod >= OpenTime && tod <= BreakStartTime) ||
		(tod >= BreakEndTime && tod <= CloseTime)
}

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayAt combines the date of day with a "HH:MM:SS" time of day. The string
// must have been validated beforehand.
func DayAt(day time.Time, tod string) time.Time {
	d, err := ParseTimeOfDay(tod)
	if err != nil {
		panic(err)
	}
	return DayStart(day).Add(d)
}

// SessionMinutes returns every minute wake of a trading day in order:
// 09:30 through 11:30 and 13:00 through 15:00, inclusive.
func SessionMinutes(day time.Time) []time.Time {
	minutes := make([]time.Time, 0, 242)
	for cur, end := DayAt(day, OpenTime), DayAt(day, BreakStartTime); !cur.After(end); cur = cur.Add(time.Minute) {
		minutes = append(minutes, cur)
	}
	for cur, end := DayAt(day, BreakEndTime), DayAt(day, CloseTime); !cur.After(end); cur = cur.Add(time.Minute) {
		minutes = append(minutes, cur)
	}
	return minutes
}
