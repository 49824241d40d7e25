package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type entryRequestPayload struct {
	LocalID         string   `json:"local_id"`
	VehicleID       string   `json:"vehicle_id"`
	OdometerKm      int64    `json:"odometer_km"`
	AmountSpent     *float64 `json:"amount_spent"`
	PricePerUnit    *float64 `json:"price_per_unit"`
	Volume          *float64 `json:"volume"`
	IsFullTank      bool     `json:"is_full_tank"`
	Note            *string  `json:"note"`
	Photo           []byte   `json:"photo"`
	PhotoCapturedAt *int64   `json:"photo_captured_at"`
	PhotoLat        *float64 `json:"photo_lat"`
	PhotoLon        *float64 `json:"photo_lon"`
	OCRConfidence   *float64 `json:"ocr_confidence"`
}

type entryPatchPayload struct {
	OdometerKm      *int64   `json:"odometer_km"`
	AmountSpent     *float64 `json:"amount_spent"`
	PricePerUnit    *float64 `json:"price_per_unit"`
	Volume          *float64 `json:"volume"`
	IsFullTank      *bool    `json:"is_full_tank"`
	Note            *string  `json:"note"`
	Photo           []byte   `json:"photo"`
	PhotoCapturedAt *int64   `json:"photo_captured_at"`
	PhotoLat        *float64 `json:"photo_lat"`
	PhotoLon        *float64 `json:"photo_lon"`
	OCRConfidence   *float64 `json:"ocr_confidence"`
}

type entryResponsePayload struct {
	entries.FuelEntry
	HasPhoto bool `json:"has_photo"`
}

func newEntryResponse(entry entries.FuelEntry) entryResponsePayload {
	return entryResponsePayload{FuelEntry: entry, HasPhoto: entry.HasPhoto()}
}

func (h *httpHandler) handleListEntries(c *gin.Context) {
	filter := entries.Filter{VehicleID: strings.TrimSpace(c.Query("vehicle_id"))}
	for _, raw := range c.QueryArray("status") {
		status, err := entries.ParseSyncStatus(raw)
		if err != nil {
			h.respondError(c, "entries.list", err)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		filter.Limit = limit
	}

	listed, err := h.entries.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "entries.list", err)
		return
	}
	response := make([]entryResponsePayload, 0, len(listed))
	for _, entry := range listed {
		response = append(response, newEntryResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": response})
}

func (h *httpHandler) handleCreateEntry(c *gin.Context) {
	var request entryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()

	vehicleID := strings.TrimSpace(request.VehicleID)
	if vehicleID == "" {
		active, err := h.prefs.ActiveVehicleID(ctx, entries.DefaultVehicleID)
		if err != nil {
			h.respondError(c, "entries.create", err)
			return
		}
		vehicleID = active
	}
	if _, err := h.vehicles.Get(ctx, vehicleID); err != nil {
		h.respondError(c, "entries.create", err)
		return
	}

	price := request.PricePerUnit
	if price == nil {
		remembered, ok, err := h.prefs.FuelPrice(ctx)
		if err != nil {
			h.logger.Warn("failed to read fuel price preference", zap.Error(err))
		} else if ok {
			price = &remembered
		}
	}

	created, err := h.entries.Create(ctx, entries.NewEntryInput{
		LocalID:         request.LocalID,
		VehicleID:       vehicleID,
		OdometerKm:      request.OdometerKm,
		AmountSpent:     request.AmountSpent,
		PricePerUnit:    price,
		Volume:          request.Volume,
		IsFullTank:      request.IsFullTank,
		Note:            request.Note,
		Photo:           request.Photo,
		PhotoCapturedAt: request.PhotoCapturedAt,
		PhotoLat:        request.PhotoLat,
		PhotoLon:        request.PhotoLon,
		OCRConfidence:   request.OCRConfidence,
	})
	if err != nil {
		h.respondError(c, "entries.create", err)
		return
	}
	if request.PricePerUnit != nil && *request.PricePerUnit > 0 {
		if err := h.prefs.SetFuelPrice(ctx, *request.PricePerUnit); err != nil {
			h.logger.Warn("failed to remember fuel price", zap.Error(err))
		}
	}

	h.publish(events.KindEntryChanged, created.LocalID)
	c.JSON(http.StatusCreated, newEntryResponse(created))
}

func (h *httpHandler) handleGetEntry(c *gin.Context) {
	localID, err := entries.NewLocalID(c.Param("id"))
	if err != nil {
		h.respondError(c, "entries.get", err)
		return
	}
	entry, err := h.entries.Get(c.Request.Context(), localID)
	if err != nil {
		h.respondError(c, "entries.get", err)
		return
	}
	c.JSON(http.StatusOK, newEntryResponse(entry))
}

func (h *httpHandler) handlePatchEntry(c *gin.Context) {
	localID, err := entries.NewLocalID(c.Param("id"))
	if err != nil {
		h.respondError(c, "entries.update", err)
		return
	}
	var request entryPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch := entries.Patch{
		OdometerKm:      request.OdometerKm,
		AmountSpent:     request.AmountSpent,
		PricePerUnit:    request.PricePerUnit,
		Volume:          request.Volume,
		IsFullTank:      request.IsFullTank,
		Note:            request.Note,
		Photo:           request.Photo,
		PhotoCapturedAt: request.PhotoCapturedAt,
		PhotoLat:        request.PhotoLat,
		PhotoLon:        request.PhotoLon,
		OCRConfidence:   request.OCRConfidence,
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_patch"})
		return
	}
	if patch.OdometerKm != nil && *patch.OdometerKm <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "odometer_km must be positive"})
		return
	}

	updated, err := h.entries.Update(c.Request.Context(), localID, patch)
	if err != nil {
		h.respondError(c, "entries.update", err)
		return
	}
	h.publish(events.KindEntryChanged, updated.LocalID)
	c.JSON(http.StatusOK, newEntryResponse(updated))
}

type vehicleRequestPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Plate string `json:"plate"`
}

type activeVehiclePayload struct {
	VehicleID string `json:"vehicle_id"`
}

func (h *httpHandler) handleListVehicles(c *gin.Context) {
	vehicles, err := h.vehicles.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "vehicles.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": vehicles})
}

func (h *httpHandler) handleAddVehicle(c *gin.Context) {
	var request vehicleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	vehicle, err := h.vehicles.Add(c.Request.Context(), request.ID, request.Name, request.Plate)
	if err != nil {
		h.respondError(c, "vehicles.add", err)
		return
	}
	c.JSON(http.StatusCreated, vehicle)
}

func (h *httpHandler) handleRenameVehicle(c *gin.Context) {
	var request vehicleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	vehicle, err := h.vehicles.Rename(c.Request.Context(), c.Param("id"), request.Name)
	if err != nil {
		h.respondError(c, "vehicles.rename", err)
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

func (h *httpHandler) handleActiveVehicle(c *gin.Context) {
	vehicleID, err := h.activeVehicle(c)
	if err != nil {
		h.respondError(c, "vehicles.active", err)
		return
	}
	vehicle, err := h.vehicles.Get(c.Request.Context(), vehicleID)
	if err != nil {
		h.respondError(c, "vehicles.active", err)
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

func (h *httpHandler) handleSelectVehicle(c *gin.Context) {
	var request activeVehiclePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.VehicleID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()
	vehicle, err := h.vehicles.Get(ctx, request.VehicleID)
	if err != nil {
		h.respondError(c, "vehicles.select", err)
		return
	}
	if err := h.prefs.SetActiveVehicleID(ctx, vehicle.ID); err != nil {
		h.respondError(c, "vehicles.select", err)
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

// activeVehicle resolves the vehicle a request is scoped to: the vehicle_id query
// parameter, else the selected vehicle, else the default one.
func (h *httpHandler) activeVehicle(c *gin.Context) (string, error) {
	if requested := strings.TrimSpace(c.Query("vehicle_id")); requested != "" {
		return requested, nil
	}
	return h.prefs.ActiveVehicleID(c.Request.Context(), entries.DefaultVehicleID)
}

type fuelPricePayload struct {
	Price float64 `json:"price"`
}

func (h *httpHandler) handleFuelPrice(c *gin.Context) {
	price, ok, err := h.prefs.FuelPrice(c.Request.Context())
	if err != nil {
		h.respondError(c, "prefs.fuel_price", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_set"})
		return
	}
	c.JSON(http.StatusOK, fuelPricePayload{Price: price})
}

func (h *httpHandler) handleSetFuelPrice(c *gin.Context) {
	var request fuelPricePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.prefs.SetFuelPrice(c.Request.Context(), request.Price); err != nil {
		h.respondError(c, "prefs.set_fuel_price", err)
		return
	}
	c.JSON(http.StatusOK, request)
}
