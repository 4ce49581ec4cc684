package main

import (
	"strings"
	"testing"
	"time"
)

func TestBuildCoachContext_WeekdayFocus(t *testing.T) {
	cases := []struct {
		date    time.Time
		weekday string
		focus   string
	}{
		{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), "Montag", focusTrainingBefore},
		{time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), "Mittwoch", focusNeutral},
		{time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC), "Samstag", focusRegeneration},
		{time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), "Sonntag", focusPlanning},
	}
	for _, tc := range cases {
		cc := buildCoachContext(cutProfile(), nil, tc.date)
		if cc.Weekday != tc.weekday || cc.Focus != tc.focus {
			t.Errorf("%s: got %s/%s, want %s/%s", tc.date.Format("2006-01-02"), cc.Weekday, cc.Focus, tc.weekday, tc.focus)
		}
	}
}

func TestBuildCoachContext_TargetsFollowRecentTraining(t *testing.T) {
	now := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	rows := []checkinRow{{CreatedAt: now.Add(-2 * time.Hour), Trained: boolPtr(true), ActivityType: strPtr("kraft")}}

	cc := buildCoachContext(cutProfile(), rows, now)
	if cc.GoalLabel != "Fettabbau (Cut)" {
		t.Errorf("goal label = %q", cc.GoalLabel)
	}
	if cc.Targets.Macros.ProteinG != 176 {
		t.Errorf("protein = %d, want 176 after a strength session", cc.Targets.Macros.ProteinG)
	}
}

func TestBuildCoachPrompt_Priorities(t *testing.T) {
	p := cutProfile()
	p.TargetCaloriesMin = intPtr(1505)
	p.TargetCaloriesMax = intPtr(1705)
	rows := series(7, func(_ int, r *checkinRow) {
		r.CaloriesIntake = intPtr(1000)
		r.WeightKG = floatPtr(80)
	})
	now := analyzeBase.AddDate(0, 0, 7)
	cc := buildCoachContext(p, rows, now)

	prompt := buildCoachPrompt(promptInput{
		Context:  cc,
		Analysis: analyzeSignals(rows, p, cc.Targets),
		Checkins: rows,
		Memories: []coachMemory{{Content: "trainiert morgens"}},
		Activities: []activity{{
			Name: "Morgenlauf", StartDate: analyzeBase, DurationMin: 42, DistanceKM: 7.5,
		}},
	})

	for _, want := range []string{
		"Fettabbau (Cut)",
		"Montag",
		"1. Kalorien unter Zielbereich",
		"2. Gewicht stagniert",
		"- Mo 02.03.: Gewicht 80.0 kg, 1000 kcal",
		"- trainiert morgens",
		"Morgenlauf, 42 min, 7.5 km",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n%s", want, prompt)
		}
	}
}

func TestBuildCoachPrompt_SilentWithFewCheckins(t *testing.T) {
	rows := series(2, nil)
	cc := buildCoachContext(cutProfile(), rows, analyzeBase)
	prompt := buildCoachPrompt(promptInput{Context: cc, Analysis: analyzeSignals(rows, cutProfile(), cc.Targets), Checkins: rows})

	if !strings.Contains(prompt, "erst 2 Check-ins") {
		t.Errorf("expected silent instruction, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "höchstens diese Punkte") {
		t.Error("silent prompt must not list priorities")
	}
	if !strings.Contains(prompt, "keine Angaben") {
		t.Error("empty check-ins should render as 'keine Angaben'")
	}
}

func TestBuildCoachPrompt_HealthOverride(t *testing.T) {
	rows := series(3, func(_ int, r *checkinRow) { r.EnergyLevel = intPtr(2) })
	cc := buildCoachContext(cutProfile(), rows, analyzeBase)
	prompt := buildCoachPrompt(promptInput{Context: cc, Analysis: analyzeSignals(rows, cutProfile(), cc.Targets)})

	if !strings.Contains(prompt, "Gesundheit geht vor") {
		t.Errorf("expected health instruction, got:\n%s", prompt)
	}
}
