package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStrava serves the token endpoint and the activities list.
type fakeStrava struct {
	mu         sync.Mutex
	grants     []string
	authHeader string
	after      string
}

func (f *fakeStrava) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.grants = append(f.grants, r.PostForm.Get("grant_type"))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"token_type": "Bearer", "expires_in": 21600}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			resp["access_token"], resp["refresh_token"] = "access-1", "refresh-1"
			resp["athlete"] = map[string]any{"id": 42}
		case "refresh_token":
			resp["access_token"], resp["refresh_token"] = "access-2", "refresh-2"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeader = r.Header.Get("Authorization")
		f.after = r.URL.Query().Get("after")
		f.mu.Unlock()

		// With after set, Strava lists the oldest activity first.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"name":"Rolle","sport_type":"Ride","start_date":"2026-03-03T07:00:00Z","moving_time":3600,"distance":30000,"kilojoules":612.4},
			{"name":"Abendlauf","sport_type":"Run","start_date":"2026-03-04T18:00:00Z","moving_time":2710,"distance":7420.5}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestStrava(t *testing.T, store stravaTokenStore, srv *httptest.Server) *stravaConnector {
	t.Helper()
	s := newStravaConnector(config{
		StravaClientID:     "client",
		StravaClientSecret: "secret",
		StravaRedirectURL:  "https://coach.example.com/strava/callback",
	}, store, zap.NewNop())
	s.oauth.Endpoint.AuthURL = srv.URL + "/oauth/authorize"
	s.oauth.Endpoint.TokenURL = srv.URL + "/oauth/token"
	s.apiBase = srv.URL + "/api/v3"
	s.now = func() time.Time { return testNow }
	return s
}

func TestStrava_ConnectAndExchange(t *testing.T) {
	e := newTestEnv(t)
	fake := &fakeStrava{}
	e.h.strava = newTestStrava(t, e.store, fake.server(t))

	w := e.do(http.MethodGet, "/api/strava/connect", "")
	require.Equal(t, http.StatusOK, w.Code)
	var connect struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &connect))
	u, err := url.Parse(connect.URL)
	require.NoError(t, err)
	assert.Equal(t, connect.State, u.Query().Get("state"))
	assert.Equal(t, "client", u.Query().Get("client_id"))

	w = e.do(http.MethodPost, "/api/strava/exchange", `{"code":"abc","state":"forged"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/strava/exchange", `{"code":"abc","state":"`+connect.State+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"connected":true,"athlete_id":42}`, w.Body.String())

	tok, err := e.store.StravaToken(context.Background(), e.userID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	// States are single use.
	w = e.do(http.MethodPost, "/api/strava/exchange", `{"code":"abc","state":"`+connect.State+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStrava_StateBoundToUser(t *testing.T) {
	s := newStravaConnector(config{StravaClientID: "c"}, newMemStore(), zap.NewNop())
	s.now = func() time.Time { return testNow }

	_, state := s.authURL(1)
	assert.False(t, s.consumeState(2, state))
	assert.False(t, s.consumeState(1, state), "a failed attempt burns the state")

	_, state = s.authURL(1)
	s.now = func() time.Time { return testNow.Add(stravaStateTTL + time.Second) }
	assert.False(t, s.consumeState(1, state))
}

func TestStrava_ActivitiesRefreshExpiredToken(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveStravaToken(context.Background(), stravaToken{
		UserID: 7, AccessToken: "stale", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(-time.Hour),
	}))
	fake := &fakeStrava{}
	s := newTestStrava(t, store, fake.server(t))

	since := testNow.AddDate(0, 0, -7)
	acts, err := s.RecentActivities(context.Background(), 7, since)
	require.NoError(t, err)

	assert.Equal(t, []string{"refresh_token"}, fake.grants)
	assert.Equal(t, "Bearer access-2", fake.authHeader)
	assert.Equal(t, "1772100000", fake.after)

	tok, err := store.StravaToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)

	require.Len(t, acts, 2)
	assert.Equal(t, "Rolle", acts[0].Name)
	assert.Equal(t, 60, acts[0].DurationMin)
	require.NotNil(t, acts[0].Calories)
	assert.Equal(t, 612, *acts[0].Calories)
	assert.Equal(t, "Abendlauf", acts[1].Name)
	assert.Equal(t, 45, acts[1].DurationMin)
	assert.InDelta(t, 7.4, acts[1].DistanceKM, 0.001)
	assert.Nil(t, acts[1].Calories)
}

func TestStrava_ActivitiesNotConnected(t *testing.T) {
	e := newTestEnv(t)
	fake := &fakeStrava{}
	e.h.strava = newTestStrava(t, e.store, fake.server(t))

	w := e.do(http.MethodGet, "/api/strava/activities", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/strava/activities?days=x", "").Code)
}

func TestCoachChat_IncludesStravaActivities(t *testing.T) {
	e := newTestEnv(t)
	e.onboard(t)
	require.NoError(t, e.store.SaveStravaToken(context.Background(), stravaToken{
		UserID: e.userID, AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(time.Hour),
	}))
	fake := &fakeStrava{}
	e.h.strava = newTestStrava(t, e.store, fake.server(t))
	e.h.activities = e.h.strava
	e.coach.reply = "Gute Woche."

	w := e.do(http.MethodPost, "/api/coach/chat", `{"message":"Wie war mein Training?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, e.coach.calls[0][0].Content, "Abendlauf")
	assert.Empty(t, fake.grants)
}
