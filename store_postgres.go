package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore is the Postgres-backed dataStore.
type pgStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ dataStore = (*pgStore)(nil)

func newPGStore(pool *pgxpool.Pool, log *zap.Logger) *pgStore {
	return &pgStore{pool: pool, log: log.Named("pgstore")}
}

// openPool creates a connection pool. We use a pool (not a single conn) because
// Neon closes idle connections after ~5 minutes.
func openPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse DB URL: %w", err)
	}
	// Use simple query protocol to avoid "cached plan must not change result type"
	// errors from Neon's server-side prepared statement cache after schema changes.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

/* ─── Query helpers ──────────────────────────────────────────────────── */

// queryOne runs a query and scans the first row into T using RowToStructByName.
// Logs query and scan errors for debugging (e.g. struct/column mismatches).
// pgx.ErrNoRows is returned as errNotFound.
func queryOne[T any](ctx context.Context, s *pgStore, sql string, args pgx.NamedArgs) (T, error) {
	var zero T
	rows, err := s.pool.Query(ctx, sql, args)
	if err != nil {
		s.log.Error("query failed", zap.Error(err))
		return zero, err
	}
	result, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, errNotFound
	}
	if err != nil {
		s.log.Error("scan failed", zap.Error(err))
		return zero, err
	}
	return result, nil
}

// queryMany runs a query and scans all rows into []T using RowToStructByName.
// An empty result is an empty slice, never nil.
func queryMany[T any](ctx context.Context, s *pgStore, sql string, args pgx.NamedArgs) ([]T, error) {
	rows, err := s.pool.Query(ctx, sql, args)
	if err != nil {
		s.log.Error("query failed", zap.Error(err))
		return nil, err
	}
	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		s.log.Error("scan failed", zap.Error(err))
		return nil, err
	}
	if results == nil {
		results = []T{}
	}
	return results, nil
}

/* ─── Users ──────────────────────────────────────────────────────────── */

func (s *pgStore) UserByUsername(ctx context.Context, username string) (user, error) {
	return queryOne[user](ctx, s, "SELECT * FROM users WHERE username = @username",
		pgx.NamedArgs{"username": username})
}

func (s *pgStore) UserByToken(ctx context.Context, token string) (user, error) {
	return queryOne[user](ctx, s, "SELECT * FROM users WHERE auth_token = @token",
		pgx.NamedArgs{"token": token})
}

// UserByExternalID links an IdP subject to a users row, inserting it on first
// sight. The subject doubles as username; the auth token is random and unused
// by IdP sessions.
func (s *pgStore) UserByExternalID(ctx context.Context, externalID, email string) (user, error) {
	u, err := queryOne[user](ctx, s,
		`INSERT INTO users (username, email, auth_token, external_id)
		 VALUES (@externalID, @email, gen_random_uuid()::text, @externalID)
		 ON CONFLICT (external_id) DO UPDATE SET email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)
		 RETURNING *`,
		pgx.NamedArgs{"externalID": externalID, "email": email})
	if err != nil {
		return user{}, fmt.Errorf("upsert external user: %w", err)
	}
	return u, nil
}

/* ─── Profiles ───────────────────────────────────────────────────────── */

func (s *pgStore) GetProfile(ctx context.Context, userID int) (profile, error) {
	return queryOne[profile](ctx, s, "SELECT * FROM profiles WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID})
}

func (s *pgStore) UpsertProfile(ctx context.Context, p profile) (profile, error) {
	saved, err := queryOne[profile](ctx, s,
		`INSERT INTO profiles (user_id, goal, age, gender, height_cm, weight_kg, activity_level,
			training_days_per_week, target_calories_min, target_calories_max,
			target_protein_min, target_protein_max, reminder_opt_in, onboarding_complete)
		 VALUES (@userID, @goal, @age, @gender, @heightCM, @weightKG, @activityLevel,
			@trainingDays, @calMin, @calMax, @protMin, @protMax, @reminderOptIn, @onboardingComplete)
		 ON CONFLICT (user_id) DO UPDATE SET
			goal                   = EXCLUDED.goal,
			age                    = EXCLUDED.age,
			gender                 = EXCLUDED.gender,
			height_cm              = EXCLUDED.height_cm,
			weight_kg              = EXCLUDED.weight_kg,
			activity_level         = EXCLUDED.activity_level,
			training_days_per_week = EXCLUDED.training_days_per_week,
			target_calories_min    = EXCLUDED.target_calories_min,
			target_calories_max    = EXCLUDED.target_calories_max,
			target_protein_min     = EXCLUDED.target_protein_min,
			target_protein_max     = EXCLUDED.target_protein_max,
			reminder_opt_in        = EXCLUDED.reminder_opt_in,
			onboarding_complete    = EXCLUDED.onboarding_complete,
			updated_at             = now()
		 RETURNING *`,
		pgx.NamedArgs{
			"userID":             p.UserID,
			"goal":               p.Goal,
			"age":                p.Age,
			"gender":             p.Gender,
			"heightCM":           p.HeightCM,
			"weightKG":           p.WeightKG,
			"activityLevel":      p.ActivityLevel,
			"trainingDays":       p.TrainingDaysPerWeek,
			"calMin":             p.TargetCaloriesMin,
			"calMax":             p.TargetCaloriesMax,
			"protMin":            p.TargetProteinMin,
			"protMax":            p.TargetProteinMax,
			"reminderOptIn":      p.ReminderOptIn,
			"onboardingComplete": p.OnboardingComplete,
		})
	if err != nil {
		return profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return saved, nil
}

// PatchProfile builds the SET clause dynamically so only fields the client
// actually sent are written.
func (s *pgStore) PatchProfile(ctx context.Context, userID int, patch profilePatch) (profile, error) {
	setClauses := []string{}
	args := pgx.NamedArgs{"userID": userID}
	set := func(column, arg string, value any) {
		setClauses = append(setClauses, column+" = @"+arg)
		args[arg] = value
	}

	if patch.Goal != nil {
		set("goal", "goal", *patch.Goal)
	}
	if patch.Age != nil {
		set("age", "age", *patch.Age)
	}
	if patch.Gender != nil {
		set("gender", "gender", *patch.Gender)
	}
	if patch.HeightCM != nil {
		set("height_cm", "heightCM", *patch.HeightCM)
	}
	if patch.WeightKG != nil {
		set("weight_kg", "weightKG", *patch.WeightKG)
	}
	if patch.ActivityLevel != nil {
		set("activity_level", "activityLevel", *patch.ActivityLevel)
	}
	if patch.TrainingDaysPerWeek != nil {
		set("training_days_per_week", "trainingDays", *patch.TrainingDaysPerWeek)
	}
	if patch.TargetCaloriesMin != nil {
		set("target_calories_min", "calMin", *patch.TargetCaloriesMin)
	}
	if patch.TargetCaloriesMax != nil {
		set("target_calories_max", "calMax", *patch.TargetCaloriesMax)
	}
	if patch.TargetProteinMin != nil {
		set("target_protein_min", "protMin", *patch.TargetProteinMin)
	}
	if patch.TargetProteinMax != nil {
		set("target_protein_max", "protMax", *patch.TargetProteinMax)
	}
	if patch.ReminderOptIn != nil {
		set("reminder_opt_in", "reminderOptIn", *patch.ReminderOptIn)
	}

	if len(setClauses) == 0 {
		return s.GetProfile(ctx, userID)
	}
	setClauses = append(setClauses, "updated_at = now()")

	query := "UPDATE profiles SET " + strings.Join(setClauses, ", ") +
		" WHERE user_id = @userID RETURNING *"
	p, err := queryOne[profile](ctx, s, query, args)
	if err != nil {
		return profile{}, fmt.Errorf("patch profile: %w", err)
	}
	return p, nil
}

func (s *pgStore) ReminderRecipients(ctx context.Context) ([]reminderRecipient, error) {
	return queryMany[reminderRecipient](ctx, s,
		`SELECT u.id AS user_id, u.username, u.email
		 FROM users u JOIN profiles p ON p.user_id = u.id
		 WHERE p.reminder_opt_in AND u.email <> ''
		 ORDER BY u.id`, pgx.NamedArgs{})
}

/* ─── Check-ins ──────────────────────────────────────────────────────── */

func (s *pgStore) FindCheckinBetween(ctx context.Context, userID int, start, end time.Time) (*checkinRow, error) {
	row, err := queryOne[checkinRow](ctx, s,
		`SELECT * FROM checkins
		 WHERE user_id = @userID AND created_at >= @start AND created_at < @end
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		pgx.NamedArgs{"userID": userID, "start": start, "end": end})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *pgStore) InsertCheckin(ctx context.Context, r checkinRow) (checkinRow, error) {
	args := checkinArgs(r)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	args["createdAt"] = r.CreatedAt
	return queryOne[checkinRow](ctx, s,
		`INSERT INTO checkins (user_id, created_at, weight_kg, hunger_level, energy_level, trained,
			activity_type, activity_duration_min, activity_calories, calories_intake,
			protein_intake, carbs_intake, fat_intake, notes)
		 VALUES (@userID, @createdAt, @weightKG, @hunger, @energy, @trained,
			@activityType, @activityDuration, @activityCalories, @calories,
			@protein, @carbs, @fat, @notes)
		 RETURNING *`, args)
}

// UpdateCheckin overwrites every measured column of the row. Callers merge
// partial input into the current row first.
func (s *pgStore) UpdateCheckin(ctx context.Context, r checkinRow) (checkinRow, error) {
	args := checkinArgs(r)
	args["id"] = r.ID
	return queryOne[checkinRow](ctx, s,
		`UPDATE checkins SET
			weight_kg             = @weightKG,
			hunger_level          = @hunger,
			energy_level          = @energy,
			trained               = @trained,
			activity_type         = @activityType,
			activity_duration_min = @activityDuration,
			activity_calories     = @activityCalories,
			calories_intake       = @calories,
			protein_intake        = @protein,
			carbs_intake          = @carbs,
			fat_intake            = @fat,
			notes                 = @notes,
			updated_at            = now()
		 WHERE id = @id AND user_id = @userID
		 RETURNING *`, args)
}

func checkinArgs(r checkinRow) pgx.NamedArgs {
	return pgx.NamedArgs{
		"userID":           r.UserID,
		"weightKG":         r.WeightKG,
		"hunger":           r.HungerLevel,
		"energy":           r.EnergyLevel,
		"trained":          r.Trained,
		"activityType":     r.ActivityType,
		"activityDuration": r.ActivityDurationMin,
		"activityCalories": r.ActivityCalories,
		"calories":         r.CaloriesIntake,
		"protein":          r.ProteinIntake,
		"carbs":            r.CarbsIntake,
		"fat":              r.FatIntake,
		"notes":            r.Notes,
	}
}

func (s *pgStore) ListCheckins(ctx context.Context, userID int, start, end time.Time) ([]checkinRow, error) {
	return queryMany[checkinRow](ctx, s,
		`SELECT * FROM checkins
		 WHERE user_id = @userID AND created_at >= @start AND created_at < @end
		 ORDER BY created_at ASC, id ASC`,
		pgx.NamedArgs{"userID": userID, "start": start, "end": end})
}

func (s *pgStore) RecentCheckins(ctx context.Context, userID int, limit int) ([]checkinRow, error) {
	return queryMany[checkinRow](ctx, s,
		`SELECT * FROM (
			SELECT * FROM checkins WHERE user_id = @userID
			ORDER BY created_at DESC, id DESC LIMIT @limit
		 ) recent ORDER BY created_at ASC, id ASC`,
		pgx.NamedArgs{"userID": userID, "limit": limit})
}

func (s *pgStore) DeleteCheckin(ctx context.Context, userID, id int) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM checkins WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": id, "userID": userID})
	if err != nil {
		return fmt.Errorf("delete check-in: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errNotFound
	}
	return nil
}

/* ─── Coach memories / messages ──────────────────────────────────────── */

func (s *pgStore) ListMemories(ctx context.Context, userID int, limit int) ([]coachMemory, error) {
	return queryMany[coachMemory](ctx, s,
		`SELECT * FROM coach_memories WHERE user_id = @userID
		 ORDER BY created_at DESC, id DESC LIMIT @limit`,
		pgx.NamedArgs{"userID": userID, "limit": limit})
}

// AddMemories inserts all contents in one transaction.
func (s *pgStore) AddMemories(ctx context.Context, userID int, contents []string) error {
	if len(contents) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range contents {
		if _, err := tx.Exec(ctx,
			"INSERT INTO coach_memories (user_id, content) VALUES (@userID, @content)",
			pgx.NamedArgs{"userID": userID, "content": c}); err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *pgStore) DeleteMemory(ctx context.Context, userID, id int) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM coach_memories WHERE id = @id AND user_id = @userID",
		pgx.NamedArgs{"id": id, "userID": userID})
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errNotFound
	}
	return nil
}

func (s *pgStore) RecentMessages(ctx context.Context, userID int, limit int) ([]coachMessage, error) {
	return queryMany[coachMessage](ctx, s,
		`SELECT * FROM (
			SELECT * FROM coach_messages WHERE user_id = @userID
			ORDER BY id DESC LIMIT @limit
		 ) recent ORDER BY id ASC`,
		pgx.NamedArgs{"userID": userID, "limit": limit})
}

func (s *pgStore) AppendMessages(ctx context.Context, userID int, msgs ...coachMessage) error {
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue("INSERT INTO coach_messages (user_id, role, content) VALUES ($1, $2, $3)",
			userID, m.Role, m.Content)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

/* ─── Strava tokens ──────────────────────────────────────────────────── */

func (s *pgStore) StravaToken(ctx context.Context, userID int) (stravaToken, error) {
	return queryOne[stravaToken](ctx, s, "SELECT * FROM strava_tokens WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID})
}

func (s *pgStore) SaveStravaToken(ctx context.Context, t stravaToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO strava_tokens (user_id, access_token, refresh_token, expires_at, athlete_id)
		 VALUES (@userID, @access, @refresh, @expiresAt, @athleteID)
		 ON CONFLICT (user_id) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at    = EXCLUDED.expires_at,
			athlete_id    = COALESCE(EXCLUDED.athlete_id, strava_tokens.athlete_id)`,
		pgx.NamedArgs{
			"userID":    t.UserID,
			"access":    t.AccessToken,
			"refresh":   t.RefreshToken,
			"expiresAt": t.ExpiresAt,
			"athleteID": t.AthleteID,
		})
	if err != nil {
		return fmt.Errorf("save strava token: %w", err)
	}
	return nil
}
