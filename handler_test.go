package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// testNow is a Thursday.
var testNow = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

// fakeCoach stands in for the OpenAI client. Chat calls get reply, JSON-mode
// calls get jsonReply.
type fakeCoach struct {
	mu         sync.Mutex
	reply      string
	jsonReply  string
	transcript string
	err        error
	calls      [][]openAIMessage
}

func (f *fakeCoach) Complete(_ context.Context, msgs []openAIMessage, jsonMode bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	if f.err != nil {
		return "", f.err
	}
	if jsonMode {
		return f.jsonReply, nil
	}
	return f.reply, nil
}

func (f *fakeCoach) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	if _, err := io.ReadAll(audio); err != nil {
		return "", err
	}
	return f.transcript, f.err
}

type testEnv struct {
	h      *Handler
	store  *memStore
	coach  *fakeCoach
	router *gin.Engine
	token  string
	userID int
}

// newTestEnv builds a handler over a memStore with one admin user "alice"
// (password "secret") and a clock fixed at testNow.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	store.now = func() time.Time { return testNow }
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	u := store.addUser("alice", "alice@example.com", string(hash))

	coach := &fakeCoach{}
	h := &Handler{
		store:   store,
		coach:   coach,
		voice:   coach,
		limiter: newUserLimiter(100),
		admins:  map[string]bool{"alice": true},
		log:     zap.NewNop(),
		now:     func() time.Time { return testNow },
	}
	router := gin.New()
	h.registerRoutes(router)
	return &testEnv{h: h, store: store, coach: coach, router: router, token: u.AuthToken, userID: u.ID}
}

// do sends an authenticated JSON request.
func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	return e.doAs(e.token, method, path, body)
}

func (e *testEnv) doAs(token, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// onboard stores a cut profile with an explicit calorie range.
func (e *testEnv) onboard(t *testing.T) {
	t.Helper()
	w := e.do(http.MethodPut, "/api/profile", `{
		"goal": "cut", "age": 30, "gender": "male", "height_cm": 180, "weight_kg": 80,
		"activity_level": "aktiv", "training_days_per_week": 4,
		"target_calories_min": 1505, "target_calories_max": 1705, "reminder_opt_in": true
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// seed inserts a check-in daysAgo days before testNow.
func (e *testEnv) seed(t *testing.T, daysAgo int, row checkinRow) checkinRow {
	t.Helper()
	row.UserID = e.userID
	row.CreatedAt = testNow.AddDate(0, 0, -daysAgo)
	saved, err := e.store.InsertCheckin(context.Background(), row)
	require.NoError(t, err)
	return saved
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

/* ─── Auth ───────────────────────────────────────────────────────────── */

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"username":"alice","password":"secret"}`, http.StatusOK},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"bob","password":"secret"}`, http.StatusUnauthorized},
		{"bad body", `not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.doAs("", http.MethodPost, "/api/login", tt.body)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				resp := decode[map[string]any](t, w)
				assert.Equal(t, e.token, resp["token"])
			}
		})
	}
}

func TestLogin_TokenOnlyUserCannotUsePassword(t *testing.T) {
	e := newTestEnv(t)
	e.store.addUser("demo", "", "")

	w := e.doAs("", http.MethodPost, "/api/login", `{"username":"demo","password":""}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.doAs("", http.MethodGet, "/api/profile", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.doAs("bogus", http.MethodGet, "/api/profile", "").Code)
	// Authenticated but not onboarded yet.
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/profile", "").Code)
}

type fakeSessions struct {
	id  identity
	err error
}

func (f fakeSessions) Verify(context.Context, string) (identity, error) { return f.id, f.err }

func TestAuthMiddleware_SessionTokenCreatesUser(t *testing.T) {
	e := newTestEnv(t)
	e.h.sessions = fakeSessions{id: identity{Subject: "user_2abc", Email: "clerk@example.com"}}

	w := e.doAs("header.payload.signature", http.MethodGet, "/api/checkins/today", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u, err := e.store.UserByExternalID(context.Background(), "user_2abc", "")
	require.NoError(t, err)
	assert.Equal(t, "clerk@example.com", u.Email)
	assert.NotEqual(t, e.userID, u.ID)

	// Opaque tokens keep working next to session tokens.
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/checkins/today", "").Code)
}

func TestAuthMiddleware_RejectedSessionToken(t *testing.T) {
	e := newTestEnv(t)
	e.h.sessions = fakeSessions{err: assert.AnError}

	w := e.doAs("header.payload.signature", http.MethodGet, "/api/checkins/today", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

/* ─── Profile ────────────────────────────────────────────────────────── */

func TestProfile_OnboardingAndTargets(t *testing.T) {
	e := newTestEnv(t)
	e.onboard(t)

	w := e.do(http.MethodGet, "/api/profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[profileResponse](t, w)
	assert.True(t, resp.OnboardingComplete)
	assert.Equal(t, goalCut, resp.Goal)
	assert.Equal(t, intRange{Min: 1505, Max: 1705}, resp.Targets.Calories)
	assert.True(t, resp.Targets.CaloriesExplicit)
	assert.False(t, resp.Targets.ProteinExplicit)
	assert.Equal(t, intRange{Min: 144, Max: 176}, resp.Targets.Protein)
	assert.Positive(t, resp.Targets.TDEE)
}

func TestProfile_PutValidation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown goal", `{"goal":"bulk","age":30,"gender":"male","height_cm":180,"weight_kg":80,"activity_level":"aktiv"}`},
		{"unknown activity", `{"goal":"cut","age":30,"gender":"male","height_cm":180,"weight_kg":80,"activity_level":"couch"}`},
		{"age too low", `{"goal":"cut","age":5,"gender":"male","height_cm":180,"weight_kg":80,"activity_level":"aktiv"}`},
		{"missing gender", `{"goal":"cut","age":30,"height_cm":180,"weight_kg":80,"activity_level":"aktiv"}`},
		{"inverted range", `{"goal":"cut","age":30,"gender":"male","height_cm":180,"weight_kg":80,"activity_level":"aktiv","target_calories_min":2000,"target_calories_max":1800}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(http.MethodPut, "/api/profile", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestProfile_Patch(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPatch, "/api/profile", `{"weight_kg":78}`).Code)

	e.onboard(t)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/api/profile", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/api/profile", `{"age":200}`).Code)

	w := e.do(http.MethodPatch, "/api/profile", `{"weight_kg":78,"goal":"maintain"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[profileResponse](t, w)
	assert.InDelta(t, 78, resp.WeightKG, 0.001)
	assert.Equal(t, goalMaintain, resp.Goal)
	assert.Equal(t, 30, resp.Age)
}

/* ─── Check-ins ──────────────────────────────────────────────────────── */

func TestCheckins_PartialSaveFlow(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodGet, "/api/checkins/today", "")
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[checkinStatus](t, w)
	assert.Nil(t, empty.Checkin)
	assert.False(t, empty.Complete)
	assert.Len(t, empty.Missing, 8)

	w = e.do(http.MethodPatch, "/api/checkins/today", `{"weight_kg":"80.5","energy_level":4}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[checkinStatus](t, w)
	require.NotNil(t, st.Checkin)
	assert.InDelta(t, 80.5, *st.Checkin.WeightKG, 0.001)
	assert.False(t, st.Complete)
	assert.Contains(t, st.Missing, fieldHunger)
	assert.NotContains(t, st.Missing, fieldWeight)
	assert.NotContains(t, st.Missing, fieldTrained)

	w = e.do(http.MethodPatch, "/api/checkins/today",
		`{"hunger_level":2,"calories_intake":1600,"protein_intake":150,"carbs_intake":140,"fat_intake":55}`)
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[checkinStatus](t, w)
	assert.True(t, st.Complete)
	assert.InDelta(t, 80.5, *st.Checkin.WeightKG, 0.001)

	rows, err := e.store.RecentCheckins(context.Background(), e.userID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCheckins_PatchRejectsEmptyBody(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/api/checkins/today", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/api/checkins/today", `[1]`).Code)
}

func TestCheckins_PatchRejectsOutOfRangeLevel(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPatch, "/api/checkins/today", `{"hunger_level":3}`).Code)

	w := e.do(http.MethodPatch, "/api/checkins/today", `{"hunger_level":"7"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "hunger_level")
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/api/checkins/today", `{"energy_level":0}`).Code)

	st := decode[checkinStatus](t, e.do(http.MethodGet, "/api/checkins/today", ""))
	require.NotNil(t, st.Checkin)
	require.NotNil(t, st.Checkin.HungerLevel)
	assert.Equal(t, 3, *st.Checkin.HungerLevel)

	// A blank value still clears the field.
	st = decode[checkinStatus](t, e.do(http.MethodPatch, "/api/checkins/today", `{"hunger_level":""}`))
	assert.Nil(t, st.Checkin.HungerLevel)
}

func TestCheckins_CreateFullSubmission(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodPost, "/api/checkins", `{
		"weight_kg": 80.2, "hunger_level": 3, "energy_level": 4, "trained": true,
		"activity_type": "kraft", "activity_duration_min": 60,
		"calories_intake": 1650, "protein_intake": 160, "carbs_intake": 150, "fat_intake": 60
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	st := decode[checkinStatus](t, w)
	assert.True(t, st.Complete)
	assert.Empty(t, st.Missing)
	assert.Equal(t, "kraft", *st.Checkin.ActivityType)

	// A second submission the same day replaces the row instead of adding one.
	w = e.do(http.MethodPost, "/api/checkins", `{"weight_kg": 80.0, "trained": false}`)
	require.Equal(t, http.StatusCreated, w.Code)
	st = decode[checkinStatus](t, w)
	assert.Equal(t, activityRestDay, *st.Checkin.ActivityType)
	assert.Nil(t, st.Checkin.CaloriesIntake)

	rows, err := e.store.RecentCheckins(context.Background(), e.userID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCheckins_CreateValidation(t *testing.T) {
	e := newTestEnv(t)
	for _, body := range []string{
		`{"weight_kg": 5}`,
		`{"hunger_level": 6}`,
		`{"energy_level": 0}`,
		`{"calories_intake": -10}`,
	} {
		assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/checkins", body).Code, body)
	}
}

func TestCheckins_ListAndDelete(t *testing.T) {
	e := newTestEnv(t)
	w80 := 80.0
	old := e.seed(t, 10, checkinRow{WeightKG: &w80})
	recent := e.seed(t, 1, checkinRow{WeightKG: &w80})

	w := e.do(http.MethodGet, "/api/checkins?start=2026-03-01&end=2026-03-05", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]checkinRow](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, recent.ID, rows[0].ID)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/checkins?start=2026-03-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/checkins?start=2026-03-05&end=2026-03-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/checkins?start=03/01/2026&end=2026-03-05", "").Code)

	path := "/api/checkins/" + strconv.Itoa(old.ID)
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodDelete, "/api/checkins/abc", "").Code)
}

/* ─── Dashboard ──────────────────────────────────────────────────────── */

func TestDashboard(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/dashboard", "").Code)

	e.onboard(t)
	for i, kcal := range []int{1000, 1200, 1100} {
		w := 80.0 - float64(i)*0.1
		k := kcal
		e.seed(t, 3-i, checkinRow{WeightKG: &w, CaloriesIntake: &k})
	}
	e.seed(t, 0, checkinRow{})

	w := e.do(http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dashboardResponse](t, w)

	require.Len(t, resp.Days, defaultDashboardDays)
	last := resp.Days[len(resp.Days)-1]
	assert.Equal(t, "2026-03-05", last.Date.Format("2006-01-02"))
	assert.True(t, last.HasData)
	assert.False(t, resp.Days[0].HasData)

	assert.Equal(t, 4, resp.Stats.DaysTracked)
	assert.Equal(t, 0, resp.Stats.DaysInCalorieRange)
	assert.Equal(t, 4, resp.Averages.Checkins)
	require.NotNil(t, resp.Averages.Calories)
	assert.InDelta(t, 1100, *resp.Averages.Calories, 0.001)
	assert.Nil(t, resp.Averages.Protein)

	assert.Equal(t, intRange{Min: 1505, Max: 1705}, resp.Targets.Calories)
	assert.Equal(t, 4, resp.Analysis.CheckinCount)
	assert.Equal(t, "Donnerstag", resp.Context.Weekday)
	require.NotNil(t, resp.Today.Checkin)
	assert.False(t, resp.Today.Complete)
}

func TestDashboard_DaysParam(t *testing.T) {
	e := newTestEnv(t)
	e.onboard(t)

	w := e.do(http.MethodGet, "/api/dashboard?days=90", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dashboardResponse](t, w).Days, maxDashboardDays)

	w = e.do(http.MethodGet, "/api/dashboard?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dashboardResponse](t, w).Days, 7)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/dashboard?days=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/dashboard?days=0", "").Code)
}

func TestBuildDashboardSeries_LatestRowPerDayWins(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a, b := 80.0, 79.5
	rows := []checkinRow{
		{ID: 1, CreatedAt: start.Add(8 * time.Hour), WeightKG: &a},
		{ID: 2, CreatedAt: start.Add(20 * time.Hour), WeightKG: &b},
	}

	series := buildDashboardSeries(rows, start, 3)
	require.Len(t, series, 3)
	require.NotNil(t, series[0].WeightKG)
	assert.InDelta(t, 79.5, *series[0].WeightKG, 0.001)
	assert.False(t, series[1].HasData)
	assert.Equal(t, "2026-03-03", series[2].Date.Format("2006-01-02"))
}

func TestDashboardDay_DateRoundTrip(t *testing.T) {
	day := dashboardDay{Date: DateOnly{time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)}}
	b, err := json.Marshal(day)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"date":"2026-03-05"`)

	var back dashboardDay
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, day.Date.Equal(back.Date.Time))
	assert.Error(t, json.Unmarshal([]byte(`{"date":"05.03.2026"}`), &back))
}

func TestAverageCheckins_Rounding(t *testing.T) {
	w1, w2, w3 := 80.0, 80.1, 80.15
	e1, e2 := 3, 4
	avg := averageCheckins([]checkinRow{
		{WeightKG: &w1, EnergyLevel: &e1},
		{WeightKG: &w2, EnergyLevel: &e2},
		{WeightKG: &w3},
	})
	require.NotNil(t, avg.WeightKG)
	assert.InDelta(t, 80.08, *avg.WeightKG, 0.0001)
	assert.InDelta(t, 3.5, *avg.EnergyLevel, 0.0001)
	assert.Nil(t, avg.Fat)
}

/* ─── Coach ──────────────────────────────────────────────────────────── */

func TestCoachChat(t *testing.T) {
	e := newTestEnv(t)
	e.onboard(t)
	e.coach.reply = "  Weiter so!  "
	e.coach.jsonReply = `{"memories": ["Trainiert morgens", ""]}`
	require.NoError(t, e.store.AddMemories(context.Background(), e.userID, []string{"Isst vegetarisch"}))

	w := e.do(http.MethodPost, "/api/coach/chat", `{"message":"Wie läuft es?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[coachReply](t, w)
	assert.Equal(t, "Weiter so!", resp.Reply)
	assert.Equal(t, []string{"Trainiert morgens"}, resp.Memories)
	assert.True(t, resp.Analysis.ShouldStaySilent)

	require.Len(t, e.coach.calls, 2)
	chat := e.coach.calls[0]
	assert.Equal(t, "system", chat[0].Role)
	assert.Contains(t, chat[0].Content, "Isst vegetarisch")
	assert.Equal(t, openAIMessage{Role: "user", Content: "Wie läuft es?"}, chat[len(chat)-1])

	msgs, err := e.store.RecentMessages(context.Background(), e.userID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)

	// The next turn carries the stored history.
	w = e.do(http.MethodPost, "/api/coach/chat", `{"message":"Und jetzt?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, e.coach.calls[2], 4)

	mems, err := e.store.ListMemories(context.Background(), e.userID, 10)
	require.NoError(t, err)
	assert.Len(t, mems, 2)
}

func TestCoachChat_Errors(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/coach/chat", `{"message":"  "}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/coach/chat", `{"message":"Hallo"}`).Code)

	e.onboard(t)
	e.coach.err = errLLMNotConfigured
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodPost, "/api/coach/chat", `{"message":"Hallo"}`).Code)

	e.coach.err = assert.AnError
	assert.Equal(t, http.StatusBadGateway, e.do(http.MethodPost, "/api/coach/chat", `{"message":"Hallo"}`).Code)

	msgs, err := e.store.RecentMessages(context.Background(), e.userID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCoachChat_RateLimited(t *testing.T) {
	e := newTestEnv(t)
	e.h.limiter = newUserLimiter(1)
	e.router = gin.New()
	e.h.registerRoutes(e.router)
	e.onboard(t)
	e.coach.reply = "ok"

	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/api/coach/chat", `{"message":"a"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/api/coach/chat", `{"message":"b"}`).Code)
}

func TestCoachVoice(t *testing.T) {
	e := newTestEnv(t)
	e.onboard(t)
	e.coach.transcript = " Was soll ich heute essen? "
	e.coach.reply = "Viel Protein."

	body, contentType := multipartAudio(t, "audio", []byte("fake-audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/coach/voice", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[coachReply](t, w)
	assert.Equal(t, "Was soll ich heute essen?", resp.Transcript)
	assert.Equal(t, "Viel Protein.", resp.Reply)

	body, contentType = multipartAudio(t, "file", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/api/coach/voice", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.token)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCoachMemories(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.AddMemories(context.Background(), e.userID, []string{"Laktoseintolerant"}))

	w := e.do(http.MethodGet, "/api/coach/memories", "")
	require.Equal(t, http.StatusOK, w.Code)
	mems := decode[[]coachMemory](t, w)
	require.Len(t, mems, 1)

	path := "/api/coach/memories/" + strconv.Itoa(mems[0].ID)
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, path, "").Code)

	w = e.do(http.MethodGet, "/api/coach/messages?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(http.MethodGet, "/api/coach/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestParseMemories(t *testing.T) {
	known := []coachMemory{{Content: "Trainiert morgens"}}
	got := parseMemories(`{"memories": ["trainiert MORGENS", " Mag Haferflocken ", "Mag Haferflocken", ""]}`, known)
	assert.Equal(t, []string{"Mag Haferflocken"}, got)
	assert.Nil(t, parseMemories("not json", known))
}

func TestEstimateMeal(t *testing.T) {
	e := newTestEnv(t)

	e.coach.jsonReply = `{"description":"Haferflocken mit Milch","calories":420,"protein_g":18,"carbs_g":60,"fat_g":11,"confidence":4}`
	w := e.do(http.MethodPost, "/api/checkins/estimate", `{"description":"80g Haferflocken mit 300ml Milch"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	est := decode[mealEstimate](t, w)
	assert.Equal(t, 420, est.Calories)
	assert.Equal(t, 18, est.ProteinG)

	e.coach.jsonReply = `{"error":"unrecognized"}`
	w = e.do(http.MethodPost, "/api/checkins/estimate", `{"description":"asdf"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"error":"unrecognized"}`, w.Body.String())

	e.coach.jsonReply = `not json`
	assert.Equal(t, http.StatusInternalServerError, e.do(http.MethodPost, "/api/checkins/estimate", `{"description":"Apfel"}`).Code)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/checkins/estimate", `{"description":" "}`).Code)
}

/* ─── Optional integrations ──────────────────────────────────────────── */

func TestOptionalIntegrationsDisabled(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/strava/connect", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/strava/activities", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/admin/reminders/run", "").Code)
}

func TestAdminMiddleware(t *testing.T) {
	e := newTestEnv(t)
	bob := e.store.addUser("bob", "bob@example.com", "")
	assert.Equal(t, http.StatusForbidden, e.doAs(bob.AuthToken, http.MethodPost, "/api/admin/reminders/run", "").Code)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.doAs("", http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func multipartAudio(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "voice.webm")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
