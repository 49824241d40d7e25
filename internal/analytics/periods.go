package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
)

// Period selects the bucket width of PeriodStats.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Bucket is one chart point. Distance is clamped at zero and efficiency is 0 when no
// volume was bought, so the series can be plotted directly.
type Bucket struct {
	Name       string    `json:"name"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DistanceKm int64     `json:"distance_km"`
	Efficiency float64   `json:"efficiency"`
}

// ParsePeriod validates a period name.
func ParsePeriod(raw string) (Period, error) {
	switch period := Period(raw); period {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return period, nil
	default:
		return "", fmt.Errorf("analytics: unknown period %q", raw)
	}
}

// PeriodStats returns count buckets ending with the one containing now, oldest first.
// Bucket edges follow now's location; weeks start on Sunday.
func PeriodStats(sequence []entries.FuelEntry, period Period, count int, now time.Time) []Bucket {
	buckets := make([]Bucket, 0, count)
	for offset := count - 1; offset >= 0; offset-- {
		start, end := bucketBounds(period, offset, now)
		var window []entries.FuelEntry
		for _, entry := range sequence {
			if entry.CreatedAtMsec >= start.UnixMilli() && entry.CreatedAtMsec < end.UnixMilli() {
				window = append(window, entry)
			}
		}
		bucket := Bucket{Name: bucketName(period, offset, start), Start: start, End: end}
		if len(window) >= 2 {
			bucket.DistanceKm = window[0].OdometerKm - window[len(window)-1].OdometerKm
		}
		if bucket.DistanceKm < 0 {
			bucket.DistanceKm = 0
		}
		if volume := sumVolume(window); volume > 0 {
			bucket.Efficiency = math.Round(float64(bucket.DistanceKm)/volume*100) / 100
		}
		buckets = append(buckets, bucket)
	}
	return buckets
}

// DailyTrendPercent compares the average daily efficiency of the last 7 days against the 7
// days before, as a whole percentage. It is 0 when the earlier week has no efficiency.
func DailyTrendPercent(sequence []entries.FuelEntry, now time.Time) float64 {
	daily := PeriodStats(sequence, PeriodDay, 14, now)
	var previous, recent float64
	for index, bucket := range daily {
		if index < 7 {
			previous += bucket.Efficiency
		} else {
			recent += bucket.Efficiency
		}
	}
	if previous == 0 {
		return 0
	}
	return math.Round((recent - previous) / previous * 100)
}

func bucketBounds(period Period, offset int, now time.Time) (time.Time, time.Time) {
	year, month, day := now.Date()
	location := now.Location()
	switch period {
	case PeriodWeek:
		startOfWeek := time.Date(year, month, day-int(now.Weekday())-7*offset, 0, 0, 0, 0, location)
		return startOfWeek, startOfWeek.AddDate(0, 0, 7)
	case PeriodMonth:
		start := time.Date(year, month-time.Month(offset), 1, 0, 0, 0, 0, location)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(year, month, day-offset, 0, 0, 0, 0, location)
		return start, start.AddDate(0, 0, 1)
	}
}

func bucketName(period Period, offset int, start time.Time) string {
	switch period {
	case PeriodWeek:
		if offset == 0 {
			return "W0"
		}
		return fmt.Sprintf("W-%d", offset)
	case PeriodMonth:
		return start.Format("Jan")
	default:
		return start.Format("Mon")
	}
}
