package main

import (
	"math"
	"strings"
	"time"
)

// activityFactors maps activity level strings to their TDEE multiplier.
// It is also the set of valid activity levels for profile validation. Unknown levels fall back to 1.2.
var activityFactors = map[string]float64{
	"sitzend":      1.2,
	"leicht-aktiv": 1.375,
	"aktiv":        1.55,
}

// validGoals is the set of allowed values for profiles.goal.
var validGoals = map[string]bool{
	goalCut:      true,
	goalLeanBulk: true,
	goalRecomp:   true,
	goalMaintain: true,
}

// goalLabels are the user-facing names used in coach prompts.
var goalLabels = map[string]string{
	goalCut:      "Fettabbau (Cut)",
	goalLeanBulk: "Muskelaufbau (Lean Bulk)",
	goalRecomp:   "Rekomposition",
	goalMaintain: "Gewicht halten",
}

// strengthActivities and cardioActivities classify check-in activity types for
// the macro adjustments after training.
var strengthActivities = map[string]bool{
	"kraft":         true,
	"krafttraining": true,
	"hypertrophie":  true,
	"strength":      true,
}

var cardioActivities = map[string]bool{
	"cardio":     true,
	"laufen":     true,
	"radfahren":  true,
	"schwimmen":  true,
	"rudern":     true,
	"wandern":    true,
	"run":        true,
	"ride":       true,
	"swim":       true,
	"hiit":       true,
	"ausdauer":   true,
	"spazieren":  true,
	"crosstrain": true,
}

// longCardioMinutes is the session length from which a cardio day earns extra carbs.
const longCardioMinutes = 45

// bmr estimates basal metabolic rate (kcal/day) with Mifflin-St Jeor.
func bmr(weightKG, heightCM float64, age int, isFemale bool) float64 {
	v := 10*weightKG + 6.25*heightCM - 5*float64(age)
	if isFemale {
		return v - 161
	}
	return v + 5
}

// estimateTdee multiplies BMR by the activity factor and rounds to whole kcal.
func estimateTdee(weightKG, heightCM float64, age int, isFemale bool, activityLevel string) int {
	factor, ok := activityFactors[activityLevel]
	if !ok {
		factor = 1.2
	}
	return int(math.Round(bmr(weightKG, heightCM, age, isFemale) * factor))
}

// isFemaleGender accepts the short and long spellings the onboarding form sends.
func isFemaleGender(gender string) bool {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "w", "f", "female", "weiblich", "frau":
		return true
	}
	return false
}

// targetCaloriesFromTdee applies the fixed per-goal offset used for daily coaching.
func targetCaloriesFromTdee(tdee int, goal string) int {
	switch goal {
	case goalLeanBulk:
		return tdee + 300
	case goalCut:
		return tdee - 400
	default:
		return tdee
	}
}

// macroOptions carries training context that shifts the daily macro split.
type macroOptions struct {
	RecentStrength   bool // strength session in the last two days: protein 2.2 g/kg
	RecentLongCardio bool // cardio of 45+ minutes in the last two days: +30 g carbs
}

// macroSplit is a point estimate of daily calories and macros in grams.
type macroSplit struct {
	Calories int `json:"calories"`
	ProteinG int `json:"protein_g"`
	CarbsG   int `json:"carbs_g"`
	FatG     int `json:"fat_g"`
}

// macrosSimple derives protein and fat from body weight and gives carbs the
// remaining calorie budget (4/4/9 kcal per gram). Carbs are floored so the
// split never exceeds targetCalories, and never go below zero.
func macrosSimple(targetCalories int, weightKG float64, opts macroOptions) macroSplit {
	proteinPerKG := 2.0
	if opts.RecentStrength {
		proteinPerKG = 2.2
	}
	protein := int(math.Round(weightKG * proteinPerKG))
	fat := int(math.Round(weightKG * 0.9))

	remaining := float64(targetCalories - protein*4 - fat*9)
	carbs := int(math.Floor(math.Max(0, remaining) / 4))
	if opts.RecentLongCardio {
		carbs += 30
	}
	return macroSplit{Calories: targetCalories, ProteinG: protein, CarbsG: carbs, FatG: fat}
}

// intRange is an inclusive [Min, Max] target.
type intRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r intRange) contains(v float64) bool {
	return v >= float64(r.Min) && v <= float64(r.Max)
}

// calorieRange is the profile-level target band. It shares the TDEE basis with
// targetCaloriesFromTdee but the offsets differ on purpose.
func calorieRange(tdee int, goal string) intRange {
	switch goal {
	case goalCut:
		return intRange{Min: tdee - 400, Max: tdee - 200}
	case goalLeanBulk:
		return intRange{Min: tdee + 200, Max: tdee + 400}
	default:
		return intRange{Min: tdee - 100, Max: tdee + 100}
	}
}

// proteinRange is 1.8–2.2 g per kg body weight.
func proteinRange(weightKG float64) intRange {
	return intRange{
		Min: int(math.Round(weightKG * 1.8)),
		Max: int(math.Round(weightKG * 2.2)),
	}
}

// targetRanges returns the computed calorie and protein bands for a profile.
func targetRanges(tdee int, weightKG float64, goal string) (calories, protein intRange) {
	return calorieRange(tdee, goal), proteinRange(weightKG)
}

// coachTargets bundles everything derived from a profile: the point estimate for
// daily coaching and the ranges used for adherence checks.
type coachTargets struct {
	BMR              int        `json:"bmr"`
	TDEE             int        `json:"tdee"`
	TargetCalories   int        `json:"target_calories"`
	Macros           macroSplit `json:"macros"`
	Calories         intRange   `json:"calorie_range"`
	Protein          intRange   `json:"protein_range"`
	CaloriesExplicit bool       `json:"calories_explicit"`
	ProteinExplicit  bool       `json:"protein_explicit"`
}

// resolveTargets computes targets from the profile. Explicit ranges stored on
// the profile win over the computed ones when both bounds are set.
func resolveTargets(p profile, opts macroOptions) coachTargets {
	female := isFemaleGender(p.Gender)
	tdee := estimateTdee(p.WeightKG, p.HeightCM, p.Age, female, p.ActivityLevel)
	target := targetCaloriesFromTdee(tdee, p.Goal)

	calories, protein := targetRanges(tdee, p.WeightKG, p.Goal)
	t := coachTargets{
		BMR:            int(math.Round(bmr(p.WeightKG, p.HeightCM, p.Age, female))),
		TDEE:           tdee,
		TargetCalories: target,
		Macros:         macrosSimple(target, p.WeightKG, opts),
		Calories:       calories,
		Protein:        protein,
	}
	if p.TargetCaloriesMin != nil && p.TargetCaloriesMax != nil {
		t.Calories = intRange{Min: *p.TargetCaloriesMin, Max: *p.TargetCaloriesMax}
		t.CaloriesExplicit = true
	}
	if p.TargetProteinMin != nil && p.TargetProteinMax != nil {
		t.Protein = intRange{Min: *p.TargetProteinMin, Max: *p.TargetProteinMax}
		t.ProteinExplicit = true
	}
	return t
}

// macroOptionsFromCheckins looks at check-ins from the last two UTC days for a
// strength session or a long cardio session.
func macroOptionsFromCheckins(rows []checkinRow, now time.Time) macroOptions {
	var opts macroOptions
	cutoff := startOfUTCDay(now).AddDate(0, 0, -1)
	for _, r := range rows {
		if r.CreatedAt.Before(cutoff) || r.Trained == nil || !*r.Trained || r.ActivityType == nil {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(*r.ActivityType))
		if strengthActivities[kind] {
			opts.RecentStrength = true
		}
		if cardioActivities[kind] && r.ActivityDurationMin != nil && *r.ActivityDurationMin >= longCardioMinutes {
			opts.RecentLongCardio = true
		}
	}
	return opts
}

// startOfUTCDay truncates t to midnight UTC of its calendar day.
func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
