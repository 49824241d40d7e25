package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/analytics"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/gin-gonic/gin"
)

const (
	maxRollingDays  = 3650
	maxPeriodCount  = 366
	defaultDayCount = 7
)

var defaultPeriodCounts = map[analytics.Period]int{
	analytics.PeriodDay:   defaultDayCount,
	analytics.PeriodWeek:  4,
	analytics.PeriodMonth: 3,
}

// vehicleSequence loads the newest-first entry sequence the analytics operate on.
func (h *httpHandler) vehicleSequence(c *gin.Context, operation string) ([]entries.FuelEntry, bool) {
	vehicleID, err := h.activeVehicle(c)
	if err != nil {
		h.respondError(c, operation, err)
		return nil, false
	}
	sequence, err := h.entries.List(c.Request.Context(), entries.Filter{VehicleID: vehicleID})
	if err != nil {
		h.respondError(c, operation, err)
		return nil, false
	}
	return sequence, true
}

func (h *httpHandler) handleSummary(c *gin.Context) {
	sequence, ok := h.vehicleSequence(c, "stats.summary")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analytics.Summarize(sequence))
}

func (h *httpHandler) handleFullToFull(c *gin.Context) {
	sequence, ok := h.vehicleSequence(c, "stats.full_to_full")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analytics.FullToFull(sequence))
}

func (h *httpHandler) handleSinceLastFull(c *gin.Context) {
	sequence, ok := h.vehicleSequence(c, "stats.since_last_full")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analytics.SinceLastFull(sequence))
}

func (h *httpHandler) handleRolling(c *gin.Context) {
	days := h.rollingDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRollingDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_days"})
			return
		}
		days = parsed
	}
	sequence, ok := h.vehicleSequence(c, "stats.rolling")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analytics.RollingWindow(sequence, days, h.clock()))
}

func (h *httpHandler) handlePeriods(c *gin.Context) {
	period, err := analytics.ParsePeriod(c.DefaultQuery("period", string(analytics.PeriodDay)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_period"})
		return
	}
	count := defaultPeriodCounts[period]
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxPeriodCount {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_count"})
			return
		}
		count = parsed
	}
	sequence, ok := h.vehicleSequence(c, "stats.periods")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period":  period,
		"buckets": analytics.PeriodStats(sequence, period, count, h.clock()),
	})
}

func (h *httpHandler) handleTrends(c *gin.Context) {
	sequence, ok := h.vehicleSequence(c, "stats.trends")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":             analytics.EntryTrends(sequence),
		"daily_trend_percent": analytics.DailyTrendPercent(sequence, h.clock()),
	})
}
