package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Signal types, one per detectable pattern.
const (
	signalWeightTrend   = "weight_trend"
	signalWeightPlateau = "weight_plateau"
	signalCalories      = "calories"
	signalOvertraining  = "overtraining"
	signalProtein       = "protein"
	signalCarbs         = "carbs"
	signalFat           = "fat"
	signalEnergy        = "energy"
	signalRegeneration  = "regeneration"
)

// Confidence tiers by number of analyzed check-ins.
const (
	confidenceLow    = "low"
	confidenceMedium = "medium"
	confidenceHigh   = "high"
)

// Weight trend labels.
const (
	trendUnknown = "unknown"
	trendUp      = "up"
	trendDown    = "down"
	trendStable  = "stable"
	trendPlateau = "plateau"
)

const (
	maxAnalyzedCheckins = 7
	maxTopPriorities    = 2

	// minActionableScore: below it the coach gives brief praise instead of analysis.
	minActionableScore = 1.5
	// strongSignalScore lifts the positive-only default of medium confidence.
	strongSignalScore = 3.0

	weightTrendThresholdKG = 0.2
	overtrainingStreak     = 5
)

// signal is one scored observation about recent check-ins.
type signal struct {
	Type        string  `json:"type"`
	Intensity   int     `json:"intensity"`
	GoalWeight  float64 `json:"goal_weight"`
	HealthBonus float64 `json:"health_bonus"`
	Score       float64 `json:"score"`
	Observation string  `json:"observation"`
	Diff        float64 `json:"diff,omitempty"`
}

// signalAnalysis is the result of one analyzer pass. It is recomputed on every
// request and never stored.
type signalAnalysis struct {
	Confidence           string   `json:"confidence"`
	CheckinCount         int      `json:"checkin_count"`
	ShouldStaySilent     bool     `json:"should_stay_silent"`
	PositiveFeedbackOnly bool     `json:"positive_feedback_only"`
	HealthOverride       bool     `json:"health_override"`
	WeightTrend          string   `json:"weight_trend"`
	Signals              []signal `json:"signals"`
	TopPriorities        []signal `json:"top_priorities"`
}

// analyzeSignals scores the most recent check-ins (at most seven) against the
// profile's goal and targets. Thresholds on the number of usable rows guard
// every rule, so sparse data yields fewer signals rather than an error.
func analyzeSignals(checkins []checkinRow, p profile, targets coachTargets) signalAnalysis {
	rows := make([]checkinRow, len(checkins))
	copy(rows, checkins)
	sortCheckins(rows)
	if len(rows) > maxAnalyzedCheckins {
		rows = rows[len(rows)-maxAnalyzedCheckins:]
	}
	n := len(rows)

	a := signalAnalysis{
		CheckinCount: n,
		WeightTrend:  trendUnknown,
		Signals:      []signal{},
	}
	switch {
	case n < 3:
		a.Confidence = confidenceLow
		a.ShouldStaySilent = true
	case n <= 6:
		a.Confidence = confidenceMedium
		a.PositiveFeedbackOnly = true
	default:
		a.Confidence = confidenceHigh
	}
	a.HealthOverride = detectHealthOverride(rows)

	var trendSignal *signal
	a.WeightTrend, trendSignal = weightTrendSignal(rows, p.Goal)
	if trendSignal != nil {
		a.Signals = append(a.Signals, *trendSignal)
	}
	if s := calorieSignal(rows, p.Goal, targets); s != nil {
		a.Signals = append(a.Signals, *s)
	}
	if s := overtrainingSignal(rows, a.HealthOverride); s != nil {
		a.Signals = append(a.Signals, *s)
	}
	if s := proteinSignal(rows, p.Goal, targets); s != nil {
		a.Signals = append(a.Signals, *s)
	}
	if s := carbsSignal(rows, targets); s != nil {
		a.Signals = append(a.Signals, *s)
	}
	if s := fatSignal(rows, p.WeightKG); s != nil {
		a.Signals = append(a.Signals, *s)
	}
	if s := energySignal(rows, a.HealthOverride); s != nil {
		a.Signals = append(a.Signals, *s)
	}
	if s := regenerationSignal(rows, a.HealthOverride); s != nil {
		a.Signals = append(a.Signals, *s)
	}

	finalizeSignals(&a)
	return a
}

// finalizeSignals recomputes scores, ranks them and picks the top priorities.
func finalizeSignals(a *signalAnalysis) {
	for i := range a.Signals {
		s := &a.Signals[i]
		s.Score = round1(float64(s.Intensity)*s.GoalWeight + s.HealthBonus)
	}
	sort.SliceStable(a.Signals, func(i, j int) bool {
		return a.Signals[i].Score > a.Signals[j].Score
	})

	top := len(a.Signals)
	if top > maxTopPriorities {
		top = maxTopPriorities
	}
	a.TopPriorities = append([]signal{}, a.Signals[:top]...)

	strongest := 0.0
	if len(a.Signals) > 0 {
		strongest = a.Signals[0].Score
	}
	if a.Confidence == confidenceMedium && strongest >= strongSignalScore {
		a.PositiveFeedbackOnly = false
	}
	if strongest < minActionableScore {
		a.PositiveFeedbackOnly = true
	}
}

// detectHealthOverride is true after two or more low-energy days (≤2) or when
// the most recent day was very low (1).
func detectHealthOverride(rows []checkinRow) bool {
	if len(rows) == 0 {
		return false
	}
	if last := rows[len(rows)-1].EnergyLevel; last != nil && *last <= 1 {
		return true
	}
	return countLowEnergy(rows) >= 2
}

func countLowEnergy(rows []checkinRow) int {
	low := 0
	for _, r := range rows {
		if r.EnergyLevel != nil && *r.EnergyLevel <= 2 {
			low++
		}
	}
	return low
}

/* ─── Rules ──────────────────────────────────────────────────────────── */

// weightTrendSignal compares the last three weigh-ins and detects a plateau over
// five or more. Only up/down trends and plateaus produce a signal.
func weightTrendSignal(rows []checkinRow, goal string) (string, *signal) {
	var weights []float64
	for _, r := range rows {
		if r.WeightKG != nil {
			weights = append(weights, *r.WeightKG)
		}
	}
	if len(weights) < 3 {
		return trendUnknown, nil
	}

	delta := round2(weights[len(weights)-1] - weights[len(weights)-3])
	trend := trendStable
	switch {
	case delta >= weightTrendThresholdKG:
		trend = trendUp
	case delta <= -weightTrendThresholdKG:
		trend = trendDown
	}

	if len(weights) >= 5 {
		lo, hi := weights[0], weights[0]
		for _, w := range weights {
			lo = math.Min(lo, w)
			hi = math.Max(hi, w)
		}
		if round2(hi-lo) <= weightTrendThresholdKG {
			trend = trendPlateau
		}
	}

	switch trend {
	case trendPlateau:
		if goal == goalMaintain {
			return trend, nil
		}
		return trend, &signal{
			Type:        signalWeightPlateau,
			Intensity:   2,
			GoalWeight:  1,
			Observation: fmt.Sprintf("Gewicht stagniert über %d Messungen", len(weights)),
		}
	case trendUp, trendDown:
		s := &signal{Type: signalWeightTrend, Diff: delta}
		switch weightAlignment(goal, trend) {
		case "against":
			s.Intensity, s.GoalWeight = 4, 1.5
		case "with":
			s.Intensity, s.GoalWeight = 1, 0.3
		default:
			s.Intensity, s.GoalWeight = 2, 1
		}
		verb := "steigt"
		if trend == trendDown {
			verb = "sinkt"
		}
		s.Observation = fmt.Sprintf("Gewicht %s (%+.1f kg über die letzten 3 Messungen)", verb, delta)
		return trend, s
	}
	return trend, nil
}

// weightAlignment classifies a trend relative to the goal: "with", "against"
// or "neutral" (recomp and maintain).
func weightAlignment(goal, trend string) string {
	switch goal {
	case goalCut:
		if trend == trendDown {
			return "with"
		}
		return "against"
	case goalLeanBulk:
		if trend == trendUp {
			return "with"
		}
		return "against"
	}
	return "neutral"
}

// calorieSignal compares mean intake with the explicit range when the profile
// has one, otherwise with the point target.
func calorieSignal(rows []checkinRow, goal string, targets coachTargets) *signal {
	var intakes []float64
	for _, r := range rows {
		if r.CaloriesIntake != nil && *r.CaloriesIntake > 0 {
			intakes = append(intakes, float64(*r.CaloriesIntake))
		}
	}
	if len(intakes) < 3 {
		return nil
	}
	avg := mean(intakes)
	directional := goal == goalCut || goal == goalLeanBulk

	var diff float64
	var observation string
	var wrongDirection bool
	if targets.CaloriesExplicit {
		r := targets.Calories
		switch {
		case avg < float64(r.Min):
			diff = avg - float64(r.Min)
			observation = "unter Zielbereich"
		case avg > float64(r.Max):
			diff = avg - float64(r.Max)
			observation = "über Zielbereich"
		default:
			return nil
		}
		// Leaving an explicit corridor counts against cut and lean-bulk on either side.
		wrongDirection = directional
	} else {
		diff = avg - float64(targets.TargetCalories)
		observation = "über Ziel"
		if diff < 0 {
			observation = "unter Ziel"
		}
		wrongDirection = (goal == goalCut && diff > 0) || (goal == goalLeanBulk && diff < 0)
	}
	diff = math.Round(diff)

	intensity := 1
	switch {
	case wrongDirection && math.Abs(diff) > 200:
		intensity = 4
	case wrongDirection && diff != 0:
		intensity = 2
	case math.Abs(diff) > 300:
		intensity = 3
	}

	goalWeight := 1.0
	if directional {
		goalWeight = 1.2
	}
	return &signal{
		Type:        signalCalories,
		Intensity:   intensity,
		GoalWeight:  goalWeight,
		Diff:        diff,
		Observation: fmt.Sprintf("Kalorien %s: Ø %.0f kcal (%+.0f kcal)", observation, avg, diff),
	}
}

// overtrainingSignal fires after five or more consecutive training days,
// counted backwards from the most recent check-in.
func overtrainingSignal(rows []checkinRow, healthOverride bool) *signal {
	if len(rows) < overtrainingStreak {
		return nil
	}
	streak := 0
	for i := len(rows) - 1; i >= 0; i-- {
		if !isTrainingDay(rows[i]) {
			break
		}
		streak++
	}
	if streak < overtrainingStreak {
		return nil
	}
	s := &signal{
		Type:        signalOvertraining,
		Intensity:   4,
		GoalWeight:  1.2,
		Observation: fmt.Sprintf("%d Trainingstage in Folge ohne Ruhetag", streak),
	}
	if healthOverride {
		s.HealthBonus = 1
	}
	return s
}

func isTrainingDay(r checkinRow) bool {
	if r.Trained == nil || !*r.Trained {
		return false
	}
	return r.ActivityType == nil || !strings.EqualFold(strings.TrimSpace(*r.ActivityType), activityRestDay)
}

// proteinSignal counts days under the protein floor; with an explicit range it
// also flags days over the ceiling, more mildly.
func proteinSignal(rows []checkinRow, goal string, targets coachTargets) *signal {
	var proteins []float64
	for _, r := range rows {
		if r.ProteinIntake != nil {
			proteins = append(proteins, float64(*r.ProteinIntake))
		}
	}
	if len(proteins) < 3 {
		return nil
	}

	rng := targets.Protein
	if !targets.ProteinExplicit {
		pt := targets.Macros.ProteinG
		rng = intRange{Min: pt - 15, Max: pt + 15}
	}

	var under, over int
	var deficit float64
	for _, p := range proteins {
		switch {
		case p < float64(rng.Min):
			under++
			deficit += float64(rng.Min) - p
		case p > float64(rng.Max):
			over++
		}
	}

	goalWeight := 1.1
	if goal == goalCut || goal == goalRecomp {
		goalWeight = 1.3
	}

	if under >= 3 {
		avgDeficit := deficit / float64(under)
		intensity := 2
		switch {
		case avgDeficit > 40:
			intensity = 4
		case avgDeficit > 25:
			intensity = 3
		}
		return &signal{
			Type:        signalProtein,
			Intensity:   intensity,
			GoalWeight:  goalWeight,
			Diff:        -math.Round(avgDeficit),
			Observation: fmt.Sprintf("Protein an %d von %d Tagen unter %d g (Ø %.0f g zu wenig)", under, len(proteins), rng.Min, avgDeficit),
		}
	}
	if targets.ProteinExplicit && over >= 3 {
		return &signal{
			Type:        signalProtein,
			Intensity:   2,
			GoalWeight:  goalWeight,
			Observation: fmt.Sprintf("Protein an %d von %d Tagen über %d g", over, len(proteins), rng.Max),
		}
	}
	return nil
}

// carbsSignal flags a mean carb intake far from the point target. Small carb
// budgets (aggressive cuts) are not checked.
func carbsSignal(rows []checkinRow, targets coachTargets) *signal {
	var carbs []float64
	for _, r := range rows {
		if r.CarbsIntake != nil {
			carbs = append(carbs, float64(*r.CarbsIntake))
		}
	}
	target := float64(targets.Macros.CarbsG)
	if len(carbs) < 3 || target < 50 {
		return nil
	}
	avg := mean(carbs)
	switch {
	case avg < target*0.7:
		return &signal{Type: signalCarbs, Intensity: 2, GoalWeight: 0.8, Diff: math.Round(avg - target),
			Observation: fmt.Sprintf("Kohlenhydrate deutlich unter Ziel: Ø %.0f g statt %.0f g", avg, target)}
	case avg > target*1.4:
		return &signal{Type: signalCarbs, Intensity: 2, GoalWeight: 0.8, Diff: math.Round(avg - target),
			Observation: fmt.Sprintf("Kohlenhydrate deutlich über Ziel: Ø %.0f g statt %.0f g", avg, target)}
	}
	return nil
}

// fatSignal flags a mean fat intake below 0.6 g per kg body weight.
func fatSignal(rows []checkinRow, weightKG float64) *signal {
	var fats []float64
	for _, r := range rows {
		if r.FatIntake != nil {
			fats = append(fats, float64(*r.FatIntake))
		}
	}
	if len(fats) < 3 || weightKG <= 0 {
		return nil
	}
	floor := weightKG * 0.6
	avg := mean(fats)
	if avg >= floor {
		return nil
	}
	return &signal{
		Type:        signalFat,
		Intensity:   3,
		GoalWeight:  1,
		HealthBonus: 0.5,
		Diff:        math.Round(avg - floor),
		Observation: fmt.Sprintf("Fett sehr niedrig: Ø %.0f g (Minimum %.0f g)", avg, floor),
	}
}

// energySignal is only evaluated under a health override.
func energySignal(rows []checkinRow, healthOverride bool) *signal {
	if !healthOverride || len(rows) < 3 {
		return nil
	}
	low := countLowEnergy(rows)
	if low < 2 {
		return nil
	}
	return &signal{
		Type:        signalEnergy,
		Intensity:   3,
		GoalWeight:  1,
		HealthBonus: 1,
		Observation: fmt.Sprintf("Energie an %d Tagen niedrig (≤2/5)", low),
	}
}

// regenerationSignal suggests recovery after three training days in a row when
// the latest energy is middling. The energy rule takes over under a health override.
func regenerationSignal(rows []checkinRow, healthOverride bool) *signal {
	if healthOverride || len(rows) < 3 {
		return nil
	}
	for _, r := range rows[len(rows)-3:] {
		if !isTrainingDay(r) {
			return nil
		}
	}
	last := rows[len(rows)-1].EnergyLevel
	if last == nil || *last > 3 {
		return nil
	}
	return &signal{
		Type:        signalRegeneration,
		Intensity:   2,
		GoalWeight:  1,
		Observation: fmt.Sprintf("3 Trainingstage in Folge, Energie zuletzt %d/5", *last),
	}
}

/* ─── Helpers ────────────────────────────────────────────────────────── */

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
