package analytics

import (
	"math"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
)

// Summary is the dashboard headline for one vehicle.
type Summary struct {
	Entries           int      `json:"entries"`
	TotalSpent        float64  `json:"total_spent"`
	TotalDistanceKm   int64    `json:"total_distance_km"`
	AverageEfficiency *float64 `json:"average_efficiency,omitempty"`
	CurrentMileage    *float64 `json:"current_mileage,omitempty"`
	FullToFull        Window   `json:"full_to_full"`
}

// Summarize computes the headline figures. The overall average divides the distance by
// the fuel bought after the oldest entry, which is the fuel that covered it.
func Summarize(sequence []entries.FuelEntry) Summary {
	summary := Summary{
		Entries:    len(sequence),
		TotalSpent: sumAmount(sequence),
		FullToFull: FullToFull(sequence),
	}
	if len(sequence) < 2 {
		return summary
	}
	summary.TotalDistanceKm = sequence[0].OdometerKm - sequence[len(sequence)-1].OdometerKm
	if volume := sumVolume(sequence[:len(sequence)-1]); volume > 0 {
		average := float64(summary.TotalDistanceKm) / volume
		summary.AverageEfficiency = &average
	}
	summary.CurrentMileage = SinceLastFull(sequence).Efficiency
	return summary
}

// EntryTrend is the per-entry efficiency shown in the history view.
type EntryTrend struct {
	LocalID      string   `json:"local_id"`
	DistanceKm   int64    `json:"distance_km"`
	Efficiency   *float64 `json:"efficiency,omitempty"`
	TrendPercent *float64 `json:"trend_percent,omitempty"`
}

// EntryTrends pairs each entry with the one before it. Efficiency is absent without a
// positive distance and volume; the trend compares against the previous entry's efficiency
// and is rounded to one decimal.
func EntryTrends(sequence []entries.FuelEntry) []EntryTrend {
	trends := make([]EntryTrend, len(sequence))
	for index, entry := range sequence {
		trends[index] = EntryTrend{LocalID: entry.LocalID}
		if index+1 >= len(sequence) {
			continue
		}
		trends[index].DistanceKm = entry.OdometerKm - sequence[index+1].OdometerKm
		trends[index].Efficiency = legEfficiency(sequence, index)
	}
	for index := range trends {
		if index+1 >= len(trends) {
			continue
		}
		current, previous := trends[index].Efficiency, trends[index+1].Efficiency
		if current == nil || previous == nil || *previous == 0 {
			continue
		}
		change := math.Round((*current-*previous) / *previous * 1000) / 10
		trends[index].TrendPercent = &change
	}
	return trends
}

func legEfficiency(sequence []entries.FuelEntry, index int) *float64 {
	entry := sequence[index]
	distance := entry.OdometerKm - sequence[index+1].OdometerKm
	if entry.Volume == nil || *entry.Volume <= 0 || distance <= 0 {
		return nil
	}
	efficiency := float64(distance) / *entry.Volume
	return &efficiency
}
