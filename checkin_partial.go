package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// checkinPartial is the body of a partial save: only keys present in the map
// are written. Values arrive untyped from the form ("72.5", 72.5, "", null) and
// are coerced field by field.
type checkinPartial map[string]any

// Field tokens reported by missingCheckinFields, in display order.
const (
	fieldWeight   = "weight_kg"
	fieldHunger   = "hunger_level"
	fieldEnergy   = "energy_level"
	fieldTrained  = "trained"
	fieldCalories = "calories_intake"
	fieldProtein  = "protein_intake"
	fieldCarbs    = "carbs_intake"
	fieldFat      = "fat_intake"
)

// isCheckinComplete reports whether the day has weight, all four nutrition
// fields, energy and hunger. Training fields are not required.
func isCheckinComplete(row checkinRow) bool {
	return row.WeightKG != nil &&
		row.CaloriesIntake != nil &&
		row.ProteinIntake != nil &&
		row.CarbsIntake != nil &&
		row.FatIntake != nil &&
		row.EnergyLevel != nil &&
		row.HungerLevel != nil
}

// missingCheckinFields lists the unset fields the check-in form asks for.
// Unlike isCheckinComplete it includes "trained".
func missingCheckinFields(row checkinRow) []string {
	missing := []string{}
	if row.WeightKG == nil {
		missing = append(missing, fieldWeight)
	}
	if row.HungerLevel == nil {
		missing = append(missing, fieldHunger)
	}
	if row.EnergyLevel == nil {
		missing = append(missing, fieldEnergy)
	}
	if row.Trained == nil {
		missing = append(missing, fieldTrained)
	}
	if row.CaloriesIntake == nil {
		missing = append(missing, fieldCalories)
	}
	if row.ProteinIntake == nil {
		missing = append(missing, fieldProtein)
	}
	if row.CarbsIntake == nil {
		missing = append(missing, fieldCarbs)
	}
	if row.FatIntake == nil {
		missing = append(missing, fieldFat)
	}
	return missing
}

// saveCheckinPartial merges the supplied fields into today's check-in (UTC day
// window), inserting a new row with defaults when none exists yet. Exactly one
// write happens per call; store errors are returned wrapped and not retried.
func saveCheckinPartial(ctx context.Context, store checkinStore, userID int, fields checkinPartial, now time.Time) (checkinRow, error) {
	start := startOfUTCDay(now)
	end := start.AddDate(0, 0, 1)

	existing, err := store.FindCheckinBetween(ctx, userID, start, end)
	if err != nil {
		return checkinRow{}, fmt.Errorf("find today's check-in: %w", err)
	}

	if existing != nil {
		row := *existing
		applyPartial(&row, fields)
		saved, err := store.UpdateCheckin(ctx, row)
		if err != nil {
			return checkinRow{}, fmt.Errorf("update check-in %d: %w", row.ID, err)
		}
		return saved, nil
	}

	trained := false
	restDay := activityRestDay
	row := checkinRow{
		UserID:       userID,
		CreatedAt:    now.UTC(),
		Trained:      &trained,
		ActivityType: &restDay,
	}
	applyPartial(&row, fields)
	saved, err := store.InsertCheckin(ctx, row)
	if err != nil {
		return checkinRow{}, fmt.Errorf("insert check-in: %w", err)
	}
	return saved, nil
}

// applyPartial overwrites each field whose key is present in fields. Absent
// keys keep the row's current value.
func applyPartial(row *checkinRow, fields checkinPartial) {
	if v, ok := fields[fieldWeight]; ok {
		row.WeightKG = coerceNumber(v)
	}
	if v, ok := fields[fieldHunger]; ok {
		row.HungerLevel = coerceInt(v)
	}
	if v, ok := fields[fieldEnergy]; ok {
		row.EnergyLevel = coerceInt(v)
	}
	if v, ok := fields[fieldTrained]; ok {
		b := coerceBool(v)
		row.Trained = &b
	}
	if v, ok := fields["activity_type"]; ok {
		row.ActivityType = coerceString(v)
	}
	if v, ok := fields["activity_duration_min"]; ok {
		row.ActivityDurationMin = coerceInt(v)
	}
	if v, ok := fields["activity_calories"]; ok {
		row.ActivityCalories = coerceInt(v)
	}
	if v, ok := fields[fieldCalories]; ok {
		row.CaloriesIntake = coerceInt(v)
	}
	if v, ok := fields[fieldProtein]; ok {
		row.ProteinIntake = coerceInt(v)
	}
	if v, ok := fields[fieldCarbs]; ok {
		row.CarbsIntake = coerceInt(v)
	}
	if v, ok := fields[fieldFat]; ok {
		row.FatIntake = coerceInt(v)
	}
	if v, ok := fields["notes"]; ok {
		row.Notes = coerceString(v)
	}
}

/* ─── Coercion ───────────────────────────────────────────────────────── */

// coerceNumber maps form input to a number: nil and "" become nil, strings are
// parsed, and anything non-numeric (including NaN and ±Inf) becomes nil.
func coerceNumber(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case bool:
		if n {
			f = 1
		}
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// coerceInt is coerceNumber rounded to whole units (kcal, grams, minutes).
func coerceInt(v any) *int {
	f := coerceNumber(v)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// coerceBool accepts true, "true", "ja" (any case) and 1.
func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "ja"
	case float64:
		return b == 1
	case int:
		return b == 1
	case int64:
		return b == 1
	case json.Number:
		return b.String() == "1"
	}
	return false
}

// coerceString trims strings; nil and blank become nil.
func coerceString(v any) *string {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
