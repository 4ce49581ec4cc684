package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// statusOf builds the today response for a (possibly missing) row.
func statusOf(row *checkinRow) checkinStatus {
	if row == nil {
		return checkinStatus{Missing: missingCheckinFields(checkinRow{})}
	}
	return checkinStatus{
		Checkin:  row,
		Complete: isCheckinComplete(*row),
		Missing:  missingCheckinFields(*row),
	}
}

// listCheckins returns check-ins for the authenticated user within [start, end].
// GET /api/checkins?start=YYYY-MM-DD&end=YYYY-MM-DD. Both params required.
// Returns an empty array (not null) if no rows exist in the range.
func (h *Handler) listCheckins(c *gin.Context) {
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}
	rows, err := h.store.ListCheckins(c, c.GetInt("user_id"), start, end)
	if err != nil {
		h.storeError(c, err, "check-ins not found", "failed to fetch check-ins")
		return
	}
	c.JSON(http.StatusOK, rows)
}

// getTodayCheckin returns today's row (or null) with completeness info.
// GET /api/checkins/today.
func (h *Handler) getTodayCheckin(c *gin.Context) {
	start := startOfUTCDay(h.now())
	row, err := h.store.FindCheckinBetween(c, c.GetInt("user_id"), start, start.AddDate(0, 0, 1))
	if err != nil {
		h.storeError(c, err, "check-in not found", "failed to fetch today's check-in")
		return
	}
	c.JSON(http.StatusOK, statusOf(row))
}

// patchTodayCheckin merges the supplied fields into today's check-in.
// PATCH /api/checkins/today. Body: any subset of check-in fields; values may be
// numbers, numeric strings, "" or null.
func (h *Handler) patchTodayCheckin(c *gin.Context) {
	var body checkinPartial
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) == 0 {
		apiError(c, http.StatusBadRequest, "no fields to update")
		return
	}
	if msg := validatePartialLevels(body); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	row, err := saveCheckinPartial(c, h.store, c.GetInt("user_id"), body, h.now())
	if err != nil {
		h.storeError(c, err, "check-in not found", "failed to save check-in")
		return
	}
	c.JSON(http.StatusOK, statusOf(&row))
}

// createCheckin stores a full check-in from the daily form. Every field is
// written, so omitted fields are cleared on today's row.
// POST /api/checkins.
func (h *Handler) createCheckin(c *gin.Context) {
	var body createCheckinRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateCheckin(body); msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	activityType := body.ActivityType
	if !body.Trained {
		rest := activityRestDay
		activityType = &rest
	}
	fields := checkinPartial{
		fieldWeight:             nilIfNil(body.WeightKG),
		fieldHunger:             nilIfNil(body.HungerLevel),
		fieldEnergy:             nilIfNil(body.EnergyLevel),
		fieldTrained:            body.Trained,
		"activity_type":         nilIfNil(activityType),
		"activity_duration_min": nilIfNil(body.ActivityDurationMin),
		"activity_calories":     nilIfNil(body.ActivityCalories),
		fieldCalories:           nilIfNil(body.CaloriesIntake),
		fieldProtein:            nilIfNil(body.ProteinIntake),
		fieldCarbs:              nilIfNil(body.CarbsIntake),
		fieldFat:                nilIfNil(body.FatIntake),
		"notes":                 nilIfNil(body.Notes),
	}

	row, err := saveCheckinPartial(c, h.store, c.GetInt("user_id"), fields, h.now())
	if err != nil {
		h.storeError(c, err, "check-in not found", "failed to save check-in")
		return
	}
	c.JSON(http.StatusCreated, statusOf(&row))
}

// nilIfNil turns a typed nil pointer into an untyped nil and dereferences the rest,
// so the coercion helpers see plain values.
func nilIfNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func validateCheckin(b createCheckinRequest) string {
	if b.WeightKG != nil && (*b.WeightKG < 20 || *b.WeightKG > 400) {
		return "weight_kg must be between 20 and 400"
	}
	if b.HungerLevel != nil && (*b.HungerLevel < 1 || *b.HungerLevel > 5) {
		return "hunger_level must be between 1 and 5"
	}
	if b.EnergyLevel != nil && (*b.EnergyLevel < 1 || *b.EnergyLevel > 5) {
		return "energy_level must be between 1 and 5"
	}
	for name, v := range map[string]*int{
		"calories_intake":       b.CaloriesIntake,
		"protein_intake":        b.ProteinIntake,
		"carbs_intake":          b.CarbsIntake,
		"fat_intake":            b.FatIntake,
		"activity_duration_min": b.ActivityDurationMin,
		"activity_calories":     b.ActivityCalories,
	} {
		if v != nil && *v < 0 {
			return name + " must not be negative"
		}
	}
	return ""
}

// validatePartialLevels rejects hunger/energy values outside 1–5. Blank and
// non-numeric values pass; they clear the field.
func validatePartialLevels(fields checkinPartial) string {
	for _, key := range []string{fieldHunger, fieldEnergy} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if i := coerceInt(v); i != nil && (*i < 1 || *i > 5) {
			return key + " must be between 1 and 5"
		}
	}
	return ""
}

// deleteCheckin removes a check-in by ID.
// DELETE /api/checkins/:id. Returns 204 on success, 404 if not found.
// Ownership is enforced by requiring both id and user_id to match.
func (h *Handler) deleteCheckin(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteCheckin(c, c.GetInt("user_id"), id); err != nil {
		h.storeError(c, err, "check-in not found", "failed to delete check-in")
		return
	}
	c.Status(http.StatusNoContent)
}
