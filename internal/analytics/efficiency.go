// Package analytics computes consumption aggregates over a newest-first entry sequence.
// Every function is pure; callers supply the ordering and the clock.
package analytics

import (
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Window is a distance/volume aggregate. Efficiency is nil when volume is not positive.
type Window struct {
	DistanceKm int64    `json:"distance_km"`
	Volume     float64  `json:"volume"`
	Efficiency *float64 `json:"efficiency,omitempty"`
}

// Rolling extends Window with the money spent inside the window.
type Rolling struct {
	Window
	Days int     `json:"days"`
	Cost float64 `json:"cost"`
}

func newWindow(distance int64, volume float64) Window {
	window := Window{DistanceKm: distance, Volume: volume}
	if volume > 0 {
		efficiency := float64(distance) / volume
		window.Efficiency = &efficiency
	}
	return window
}

// FullToFull measures the segment between the two newest full-tank entries: the newer
// full entry is inclusive, the older one exclusive. Distance is not clamped.
func FullToFull(sequence []entries.FuelEntry) Window {
	newIndex := nextFull(sequence, 0)
	if newIndex < 0 {
		return Window{}
	}
	oldIndex := nextFull(sequence, newIndex+1)
	if oldIndex < 0 {
		return Window{}
	}
	volume := sumVolume(sequence[newIndex:oldIndex])
	return newWindow(sequence[newIndex].OdometerKm-sequence[oldIndex].OdometerKm, volume)
}

// SinceLastFull measures from the newest full-tank entry to the newest entry overall.
// Volume counts only entries strictly newer than the full-tank start.
func SinceLastFull(sequence []entries.FuelEntry) Window {
	startIndex := nextFull(sequence, 0)
	if startIndex < 0 {
		return Window{}
	}
	volume := sumVolume(sequence[:startIndex])
	return newWindow(sequence[0].OdometerKm-sequence[startIndex].OdometerKm, volume)
}

// RollingWindow aggregates entries created within the last days before now. Fewer than
// two entries inside the window yield zero aggregates.
func RollingWindow(sequence []entries.FuelEntry, days int, now time.Time) Rolling {
	cutoff := now.UnixMilli() - int64(days)*dayMillis
	var window []entries.FuelEntry
	for _, entry := range sequence {
		if entry.CreatedAtMsec >= cutoff {
			window = append(window, entry)
		}
	}
	if len(window) < 2 {
		return Rolling{Days: days}
	}
	return Rolling{
		Window: newWindow(window[0].OdometerKm-window[len(window)-1].OdometerKm, sumVolume(window)),
		Days:   days,
		Cost:   sumAmount(window),
	}
}

func nextFull(sequence []entries.FuelEntry, from int) int {
	for index := from; index < len(sequence); index++ {
		if sequence[index].IsFullTank {
			return index
		}
	}
	return -1
}

func sumVolume(segment []entries.FuelEntry) float64 {
	var total float64
	for _, entry := range segment {
		if entry.Volume != nil {
			total += *entry.Volume
		}
	}
	return total
}

func sumAmount(segment []entries.FuelEntry) float64 {
	var total float64
	for _, entry := range segment {
		if entry.AmountSpent != nil {
			total += *entry.AmountSpent
		}
	}
	return total
}
