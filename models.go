package main

import "time"

// DateOnly wraps time.Time to serialize as "YYYY-MM-DD" in JSON.
type DateOnly struct{ time.Time }

func (d DateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON reads the "YYYY-MM-DD" form back. Without it the promoted
// time.Time decoder would reject DateOnly's own output.
func (d *DateOnly) UnmarshalJSON(b []byte) error {
	t, err := time.Parse(`"2006-01-02"`, string(b))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

/* ─── Domain structs ─────────────────────────────────────────────────── */

// Goals and activity levels as stored in profiles.
const (
	goalCut      = "cut"
	goalLeanBulk = "lean-bulk"
	goalRecomp   = "recomp"
	goalMaintain = "maintain"

	activityRestDay = "ruhetag"
)

// user maps to the users table. AuthToken and Password are hidden from JSON responses.
// ExternalID is the identity-provider subject for users that sign in through the
// hosted IdP; local users have it NULL.
type user struct {
	ID         int        `json:"id" db:"id"`
	Username   string     `json:"username" db:"username"`
	Email      string     `json:"email" db:"email"`
	AuthToken  string     `json:"-" db:"auth_token"`
	Password   string     `json:"-" db:"password"`
	ExternalID *string    `json:"-" db:"external_id"`
	CreatedAt  *time.Time `json:"created_at" db:"created_at"`
}

// profile maps to the profiles table. One row per user, written at onboarding.
// The target ranges are optional explicit overrides; when nil the coach derives
// them from TDEE.
type profile struct {
	UserID              int     `json:"user_id"                db:"user_id"`
	Goal                string  `json:"goal"                   db:"goal"`
	Age                 int     `json:"age"                    db:"age"`
	Gender              string  `json:"gender"                 db:"gender"`
	HeightCM            float64 `json:"height_cm"              db:"height_cm"`
	WeightKG            float64 `json:"weight_kg"              db:"weight_kg"`
	ActivityLevel       string  `json:"activity_level"         db:"activity_level"`
	TrainingDaysPerWeek int     `json:"training_days_per_week" db:"training_days_per_week"`

	TargetCaloriesMin *int `json:"target_calories_min" db:"target_calories_min"`
	TargetCaloriesMax *int `json:"target_calories_max" db:"target_calories_max"`
	TargetProteinMin  *int `json:"target_protein_min"  db:"target_protein_min"`
	TargetProteinMax  *int `json:"target_protein_max"  db:"target_protein_max"`

	ReminderOptIn      bool       `json:"reminder_opt_in"     db:"reminder_opt_in"`
	OnboardingComplete bool       `json:"onboarding_complete" db:"onboarding_complete"`
	CreatedAt          *time.Time `json:"created_at"          db:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at"          db:"updated_at"`
}

// checkinRow maps to the checkins table. Every measured field is nullable so a
// day can be filled in over several partial saves.
type checkinRow struct {
	ID                  int        `json:"id"                    db:"id"`
	UserID              int        `json:"user_id"               db:"user_id"`
	CreatedAt           time.Time  `json:"created_at"            db:"created_at"`
	WeightKG            *float64   `json:"weight_kg"             db:"weight_kg"`
	HungerLevel         *int       `json:"hunger_level"          db:"hunger_level"`
	EnergyLevel         *int       `json:"energy_level"          db:"energy_level"`
	Trained             *bool      `json:"trained"               db:"trained"`
	ActivityType        *string    `json:"activity_type"         db:"activity_type"`
	ActivityDurationMin *int       `json:"activity_duration_min" db:"activity_duration_min"`
	ActivityCalories    *int       `json:"activity_calories"     db:"activity_calories"`
	CaloriesIntake      *int       `json:"calories_intake"       db:"calories_intake"`
	ProteinIntake       *int       `json:"protein_intake"        db:"protein_intake"`
	CarbsIntake         *int       `json:"carbs_intake"          db:"carbs_intake"`
	FatIntake           *int       `json:"fat_intake"            db:"fat_intake"`
	Notes               *string    `json:"notes"                 db:"notes"`
	UpdatedAt           *time.Time `json:"updated_at"            db:"updated_at"`
}

// coachMessage maps to coach_messages: one turn of the coach conversation.
type coachMessage struct {
	ID        int       `json:"id"         db:"id"`
	UserID    int       `json:"user_id"    db:"user_id"`
	Role      string    `json:"role"       db:"role"`
	Content   string    `json:"content"    db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// coachMemory maps to coach_memories: a durable fact about the user that the
// coach should keep in mind across conversations.
type coachMemory struct {
	ID        int       `json:"id"         db:"id"`
	UserID    int       `json:"user_id"    db:"user_id"`
	Content   string    `json:"content"    db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// stravaToken maps to strava_tokens. One row per connected user.
type stravaToken struct {
	UserID       int       `db:"user_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	AthleteID    *int64    `db:"athlete_id"`
}

// activity is a normalized training session from an activity provider.
type activity struct {
	Name        string    `json:"name"`
	SportType   string    `json:"sport_type"`
	StartDate   time.Time `json:"start_date"`
	DurationMin int       `json:"duration_min"`
	DistanceKM  float64   `json:"distance_km"`
	Calories    *int      `json:"calories"`
}

// reminderRecipient is a user that opted into check-in reminder emails.
type reminderRecipient struct {
	UserID   int    `db:"user_id"`
	Username string `db:"username"`
	Email    string `db:"email"`
}

/* ─── Request / response shapes ──────────────────────────────────────── */

// profileRequest is the request body for PUT /api/profile (onboarding).
type profileRequest struct {
	Goal                string  `json:"goal"`
	Age                 int     `json:"age"`
	Gender              string  `json:"gender"`
	HeightCM            float64 `json:"height_cm"`
	WeightKG            float64 `json:"weight_kg"`
	ActivityLevel       string  `json:"activity_level"`
	TrainingDaysPerWeek int     `json:"training_days_per_week"`
	TargetCaloriesMin   *int    `json:"target_calories_min"`
	TargetCaloriesMax   *int    `json:"target_calories_max"`
	TargetProteinMin    *int    `json:"target_protein_min"`
	TargetProteinMax    *int    `json:"target_protein_max"`
	ReminderOptIn       bool    `json:"reminder_opt_in"`
}

// profilePatch is the request body for PATCH /api/profile.
// All fields are pointers — only non-nil fields get written to the database.
type profilePatch struct {
	Goal                *string  `json:"goal"`
	Age                 *int     `json:"age"`
	Gender              *string  `json:"gender"`
	HeightCM            *float64 `json:"height_cm"`
	WeightKG            *float64 `json:"weight_kg"`
	ActivityLevel       *string  `json:"activity_level"`
	TrainingDaysPerWeek *int     `json:"training_days_per_week"`
	TargetCaloriesMin   *int     `json:"target_calories_min"`
	TargetCaloriesMax   *int     `json:"target_calories_max"`
	TargetProteinMin    *int     `json:"target_protein_min"`
	TargetProteinMax    *int     `json:"target_protein_max"`
	ReminderOptIn       *bool    `json:"reminder_opt_in"`
}

// empty reports whether the patch carries no fields at all.
func (p profilePatch) empty() bool {
	return p.Goal == nil && p.Age == nil && p.Gender == nil && p.HeightCM == nil &&
		p.WeightKG == nil && p.ActivityLevel == nil && p.TrainingDaysPerWeek == nil &&
		p.TargetCaloriesMin == nil && p.TargetCaloriesMax == nil &&
		p.TargetProteinMin == nil && p.TargetProteinMax == nil && p.ReminderOptIn == nil
}

// profileResponse is a profile plus the targets derived from it.
type profileResponse struct {
	profile
	Targets coachTargets `json:"targets"`
}

// createCheckinRequest is the request body for POST /api/checkins.
type createCheckinRequest struct {
	WeightKG            *float64 `json:"weight_kg"`
	HungerLevel         *int     `json:"hunger_level"`
	EnergyLevel         *int     `json:"energy_level"`
	Trained             bool     `json:"trained"`
	ActivityType        *string  `json:"activity_type"`
	ActivityDurationMin *int     `json:"activity_duration_min"`
	ActivityCalories    *int     `json:"activity_calories"`
	CaloriesIntake      *int     `json:"calories_intake"`
	ProteinIntake       *int     `json:"protein_intake"`
	CarbsIntake         *int     `json:"carbs_intake"`
	FatIntake           *int     `json:"fat_intake"`
	Notes               *string  `json:"notes"`
}

// checkinStatus is the response shape for the today endpoints.
type checkinStatus struct {
	Checkin  *checkinRow `json:"checkin"`
	Complete bool        `json:"complete"`
	Missing  []string    `json:"missing"`
}
