package main

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultDashboardDays = 30
	maxDashboardDays     = 60
)

// dashboardDay is one point of the chart series. Days without a check-in are
// included with has_data=false.
type dashboardDay struct {
	Date           DateOnly `json:"date"`
	HasData        bool     `json:"has_data"`
	Complete       bool     `json:"complete"`
	WeightKG       *float64 `json:"weight_kg"`
	CaloriesIntake *int     `json:"calories_intake"`
	ProteinIntake  *int     `json:"protein_intake"`
	EnergyLevel    *int     `json:"energy_level"`
	Trained        *bool    `json:"trained"`
}

// dashboardAverages are means over the most recent check-ins; nil when no row
// has the field.
type dashboardAverages struct {
	Checkins    int      `json:"checkins"`
	WeightKG    *float64 `json:"weight_kg"`
	Calories    *float64 `json:"calories"`
	Protein     *float64 `json:"protein"`
	Carbs       *float64 `json:"carbs"`
	Fat         *float64 `json:"fat"`
	EnergyLevel *float64 `json:"energy_level"`
	HungerLevel *float64 `json:"hunger_level"`
}

type dashboardStats struct {
	DaysTracked        int `json:"days_tracked"`
	DaysComplete       int `json:"days_complete"`
	DaysInCalorieRange int `json:"days_in_calorie_range"`
	TrainingDays       int `json:"training_days"`
}

type dashboardResponse struct {
	Days     []dashboardDay    `json:"days"`
	Stats    dashboardStats    `json:"stats"`
	Averages dashboardAverages `json:"averages"`
	Targets  coachTargets      `json:"targets"`
	Context  coachContext      `json:"context"`
	Analysis signalAnalysis    `json:"analysis"`
	Today    checkinStatus     `json:"today"`
}

// getDashboard returns chart data, stats and the current signal analysis.
// GET /api/dashboard?days=N (default 30, max 60). The series ends today (UTC).
func (h *Handler) getDashboard(c *gin.Context) {
	userID := c.GetInt("user_id")

	days := defaultDashboardDays
	if s := c.Query("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			apiError(c, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = min(n, maxDashboardDays)
	}

	p, err := h.store.GetProfile(c, userID)
	if err != nil {
		h.storeError(c, err, "profile not found", "failed to fetch profile")
		return
	}

	now := h.now()
	end := startOfUTCDay(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)
	rows, err := h.store.ListCheckins(c, userID, start, end)
	if err != nil {
		h.storeError(c, err, "check-ins not found", "failed to fetch check-ins")
		return
	}

	recent := rows
	if len(recent) > maxAnalyzedCheckins {
		recent = recent[len(recent)-maxAnalyzedCheckins:]
	}
	cc := buildCoachContext(p, recent, now)

	resp := dashboardResponse{
		Days:     buildDashboardSeries(rows, start, days),
		Averages: averageCheckins(recent),
		Targets:  cc.Targets,
		Context:  cc,
		Analysis: analyzeSignals(recent, p, cc.Targets),
		Today:    statusOf(nil),
	}
	for i := range rows {
		r := rows[i]
		resp.Stats.DaysTracked++
		if isCheckinComplete(r) {
			resp.Stats.DaysComplete++
		}
		if r.CaloriesIntake != nil && cc.Targets.Calories.contains(float64(*r.CaloriesIntake)) {
			resp.Stats.DaysInCalorieRange++
		}
		if isTrainingDay(r) {
			resp.Stats.TrainingDays++
		}
		if !r.CreatedAt.Before(startOfUTCDay(now)) {
			resp.Today = statusOf(&rows[i])
		}
	}

	c.JSON(http.StatusOK, resp)
}

// buildDashboardSeries returns one entry per UTC day from start, filling gaps.
// When a day has several rows the latest wins, matching the partial-save window.
func buildDashboardSeries(rows []checkinRow, start time.Time, days int) []dashboardDay {
	byDate := make(map[string]checkinRow, len(rows))
	for _, r := range rows {
		byDate[r.CreatedAt.UTC().Format("2006-01-02")] = r
	}

	series := make([]dashboardDay, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		day := dashboardDay{Date: DateOnly{d}}
		if r, ok := byDate[d.Format("2006-01-02")]; ok {
			day.HasData = true
			day.Complete = isCheckinComplete(r)
			day.WeightKG = r.WeightKG
			day.CaloriesIntake = r.CaloriesIntake
			day.ProteinIntake = r.ProteinIntake
			day.EnergyLevel = r.EnergyLevel
			day.Trained = r.Trained
		}
		series[i] = day
	}
	return series
}

func averageCheckins(rows []checkinRow) dashboardAverages {
	var w, cal, prot, carbs, fat, energy, hunger []float64
	for _, r := range rows {
		if r.WeightKG != nil {
			w = append(w, *r.WeightKG)
		}
		if r.CaloriesIntake != nil {
			cal = append(cal, float64(*r.CaloriesIntake))
		}
		if r.ProteinIntake != nil {
			prot = append(prot, float64(*r.ProteinIntake))
		}
		if r.CarbsIntake != nil {
			carbs = append(carbs, float64(*r.CarbsIntake))
		}
		if r.FatIntake != nil {
			fat = append(fat, float64(*r.FatIntake))
		}
		if r.EnergyLevel != nil {
			energy = append(energy, float64(*r.EnergyLevel))
		}
		if r.HungerLevel != nil {
			hunger = append(hunger, float64(*r.HungerLevel))
		}
	}
	return dashboardAverages{
		Checkins:    len(rows),
		WeightKG:    meanPtr(w, 100),
		Calories:    meanPtr(cal, 1),
		Protein:     meanPtr(prot, 1),
		Carbs:       meanPtr(carbs, 1),
		Fat:         meanPtr(fat, 1),
		EnergyLevel: meanPtr(energy, 10),
		HungerLevel: meanPtr(hunger, 10),
	}
}

// meanPtr returns the mean rounded to 1/scale, or nil for no values.
func meanPtr(vs []float64, scale float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	m := math.Round(mean(vs)*scale) / scale
	return &m
}
