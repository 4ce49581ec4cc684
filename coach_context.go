package main

import (
	"fmt"
	"strings"
	"time"
)

// Weekday focus values steer the tone of the daily coaching message.
const (
	focusTrainingBefore = "training_vorher"
	focusRegeneration   = "regeneration"
	focusPlanning       = "planung"
	focusNeutral        = "neutral"
)

// weekdayFocus maps each weekday to a coaching focus. Days not listed are neutral.
var weekdayFocus = map[time.Weekday]string{
	time.Monday:   focusTrainingBefore,
	time.Thursday: focusTrainingBefore,
	time.Saturday: focusRegeneration,
	time.Sunday:   focusPlanning,
}

var weekdayNames = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

var weekdayShort = [...]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"}

var focusInstructions = map[string]string{
	focusTrainingBefore: "Heute steht Training an: gib einen konkreten Tipp für Ernährung rund ums Training.",
	focusRegeneration:   "Heute ist ein guter Tag für Regeneration: sprich Schlaf, Erholung und Ruhetage an.",
	focusPlanning:       "Heute ist Planungstag: hilf bei der Planung von Mahlzeiten und Training für die neue Woche.",
	focusNeutral:        "Kein besonderer Fokus heute.",
}

// coachContext is derived per request from the profile and recent check-ins.
type coachContext struct {
	Goal      string       `json:"goal"`
	GoalLabel string       `json:"goal_label"`
	Weekday   string       `json:"weekday"`
	Focus     string       `json:"focus"`
	Targets   coachTargets `json:"targets"`
}

// buildCoachContext resolves goal label, weekday focus and targets. Recent
// training in rows adjusts the macro split.
func buildCoachContext(p profile, rows []checkinRow, now time.Time) coachContext {
	day := now.UTC().Weekday()
	focus, ok := weekdayFocus[day]
	if !ok {
		focus = focusNeutral
	}
	label, ok := goalLabels[p.Goal]
	if !ok {
		label = p.Goal
	}
	return coachContext{
		Goal:      p.Goal,
		GoalLabel: label,
		Weekday:   weekdayNames[day],
		Focus:     focus,
		Targets:   resolveTargets(p, macroOptionsFromCheckins(rows, now)),
	}
}

// promptInput is everything the coach system prompt is built from.
type promptInput struct {
	Context    coachContext
	Analysis   signalAnalysis
	Checkins   []checkinRow
	Memories   []coachMemory
	Activities []activity
}

// buildCoachPrompt renders the system prompt: plain-language instructions for
// the LLM followed by the user's data.
func buildCoachPrompt(in promptInput) string {
	var b strings.Builder
	cc, a := in.Context, in.Analysis

	b.WriteString("Du bist ein persönlicher Fitness- und Ernährungscoach. Antworte auf Deutsch, ")
	b.WriteString("duze den Nutzer, bleib kurz und konkret und beziehe dich auf seine Daten.\n\n")

	fmt.Fprintf(&b, "Ziel: %s\n", cc.GoalLabel)
	fmt.Fprintf(&b, "Heute: %s. %s\n", cc.Weekday, focusInstructions[cc.Focus])

	t := cc.Targets
	fmt.Fprintf(&b, "Kalorienziel: %d kcal (Bereich %d–%d kcal), Protein %d g (Bereich %d–%d g), Kohlenhydrate %d g, Fett %d g\n\n",
		t.TargetCalories, t.Calories.Min, t.Calories.Max,
		t.Macros.ProteinG, t.Protein.Min, t.Protein.Max,
		t.Macros.CarbsG, t.Macros.FatG)

	switch {
	case a.ShouldStaySilent:
		fmt.Fprintf(&b, "Es liegen erst %d Check-ins vor. Beantworte die Frage, aber ziehe keine Schlüsse aus den Daten und gib keine Empfehlungen zu Trends.\n", a.CheckinCount)
	case a.PositiveFeedbackOnly:
		b.WriteString("Die Daten zeigen nichts, was dringend angesprochen werden muss. Gib kurzes, ehrliches Lob und erfinde keine Probleme.\n")
	default:
		b.WriteString("Sprich höchstens diese Punkte an, in dieser Reihenfolge:\n")
		for i, s := range a.TopPriorities {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s.Observation)
		}
	}
	if a.HealthOverride {
		b.WriteString("Gesundheit geht vor: die Energie war zuletzt niedrig. Frag nach Schlaf, Stress und Krankheit, bevor du Leistung einforderst.\n")
	}

	if len(in.Checkins) > 0 {
		b.WriteString("\nLetzte Check-ins:\n")
		b.WriteString(formatCheckinSummary(in.Checkins))
	}

	if len(in.Memories) > 0 {
		b.WriteString("\nWas du über den Nutzer weißt:\n")
		for _, m := range in.Memories {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}

	if len(in.Activities) > 0 {
		b.WriteString("\nStrava-Aktivitäten:\n")
		for _, act := range in.Activities {
			fmt.Fprintf(&b, "- %s %s: %s, %d min", weekdayShort[act.StartDate.Weekday()], act.StartDate.Format("02.01."), act.Name, act.DurationMin)
			if act.DistanceKM > 0 {
				fmt.Fprintf(&b, ", %.1f km", act.DistanceKM)
			}
			if act.Calories != nil {
				fmt.Fprintf(&b, ", %d kcal", *act.Calories)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// formatCheckinSummary renders one line per check-in, skipping unset fields.
func formatCheckinSummary(rows []checkinRow) string {
	var b strings.Builder
	for _, r := range rows {
		parts := []string{}
		if r.WeightKG != nil {
			parts = append(parts, fmt.Sprintf("Gewicht %.1f kg", *r.WeightKG))
		}
		if r.HungerLevel != nil {
			parts = append(parts, fmt.Sprintf("Hunger %d/5", *r.HungerLevel))
		}
		if r.EnergyLevel != nil {
			parts = append(parts, fmt.Sprintf("Energie %d/5", *r.EnergyLevel))
		}
		if r.Trained != nil {
			parts = append(parts, trainingSummary(r))
		}
		if r.CaloriesIntake != nil {
			parts = append(parts, fmt.Sprintf("%d kcal", *r.CaloriesIntake))
		}
		if r.ProteinIntake != nil {
			parts = append(parts, fmt.Sprintf("P %d g", *r.ProteinIntake))
		}
		if r.CarbsIntake != nil {
			parts = append(parts, fmt.Sprintf("K %d g", *r.CarbsIntake))
		}
		if r.FatIntake != nil {
			parts = append(parts, fmt.Sprintf("F %d g", *r.FatIntake))
		}
		if r.Notes != nil {
			parts = append(parts, fmt.Sprintf("Notiz: %q", *r.Notes))
		}
		if len(parts) == 0 {
			parts = append(parts, "keine Angaben")
		}
		d := r.CreatedAt.UTC()
		fmt.Fprintf(&b, "- %s %s: %s\n", weekdayShort[d.Weekday()], d.Format("02.01."), strings.Join(parts, ", "))
	}
	return b.String()
}

func trainingSummary(r checkinRow) string {
	if !isTrainingDay(r) {
		return "Ruhetag"
	}
	s := "Training"
	if r.ActivityType != nil {
		s += " " + *r.ActivityType
	}
	if r.ActivityDurationMin != nil {
		s += fmt.Sprintf(" %d min", *r.ActivityDurationMin)
	}
	return s
}
