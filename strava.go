package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// activityProvider supplies recent training sessions from an external tracker.
// Returns errNotFound when the user has not connected one.
type activityProvider interface {
	RecentActivities(ctx context.Context, userID int, since time.Time) ([]activity, error)
}

var stravaEndpoint = oauth2.Endpoint{
	AuthURL:   "https://www.strava.com/oauth/authorize",
	TokenURL:  "https://www.strava.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const (
	stravaAPIBase     = "https://www.strava.com/api/v3"
	stravaStateTTL    = 10 * time.Minute
	stravaPageSize    = 50
	stravaDefaultDays = 14
)

// stravaConnector runs the OAuth flow and reads activities with the stored
// token, persisting refreshed tokens.
type stravaConnector struct {
	oauth   *oauth2.Config
	store   stravaTokenStore
	apiBase string
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]pendingState
}

type pendingState struct {
	userID  int
	expires time.Time
}

var _ activityProvider = (*stravaConnector)(nil)

func newStravaConnector(cfg config, store stravaTokenStore, log *zap.Logger) *stravaConnector {
	return &stravaConnector{
		oauth: &oauth2.Config{
			ClientID:     cfg.StravaClientID,
			ClientSecret: cfg.StravaClientSecret,
			RedirectURL:  cfg.StravaRedirectURL,
			Endpoint:     stravaEndpoint,
			Scopes:       []string{"read,activity:read_all"},
		},
		store:   store,
		apiBase: stravaAPIBase,
		log:     log,
		now:     time.Now,
		states:  make(map[string]pendingState),
	}
}

// authURL returns the Strava consent URL and remembers the state for userID.
func (s *stravaConnector) authURL(userID int) (string, string) {
	state := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	for k, p := range s.states {
		if now.After(p.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = pendingState{userID: userID, expires: now.Add(stravaStateTTL)}
	s.mu.Unlock()

	return s.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto")), state
}

// consumeState reports whether state was issued to userID and is still valid.
// A state can be used once.
func (s *stravaConnector) consumeState(userID int, state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return p.userID == userID && !s.now().After(p.expires)
}

// exchange trades the authorization code for a token and stores it.
func (s *stravaConnector) exchange(ctx context.Context, userID int, code string) (stravaToken, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return stravaToken{}, fmt.Errorf("exchange code: %w", err)
	}
	st := stravaToken{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if athlete, ok := tok.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			aid := int64(id)
			st.AthleteID = &aid
		}
	}
	if err := s.store.SaveStravaToken(ctx, st); err != nil {
		return stravaToken{}, fmt.Errorf("save token: %w", err)
	}
	return st, nil
}

// client returns an HTTP client authorized for userID. An expired access token
// is refreshed once here and the new pair is written back.
func (s *stravaConnector) client(ctx context.Context, userID int) (*http.Client, error) {
	st, err := s.store.StravaToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored := &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		Expiry:       st.ExpiresAt,
		TokenType:    "Bearer",
	}
	tok, err := s.oauth.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.AccessToken != st.AccessToken {
		st.AccessToken, st.RefreshToken, st.ExpiresAt = tok.AccessToken, tok.RefreshToken, tok.Expiry
		if err := s.store.SaveStravaToken(ctx, st); err != nil {
			s.log.Warn("persist refreshed strava token", zap.Error(err), zap.Int("user_id", userID))
		}
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)), nil
}

// stravaActivity is the subset of the SummaryActivity payload we read.
type stravaActivity struct {
	Name       string    `json:"name"`
	SportType  string    `json:"sport_type"`
	StartDate  time.Time `json:"start_date"`
	MovingTime int       `json:"moving_time"`
	Distance   float64   `json:"distance"`
	Kilojoules float64   `json:"kilojoules"`
}

// RecentActivities lists the user's activities that started after since,
// oldest first.
func (s *stravaConnector) RecentActivities(ctx context.Context, userID int, since time.Time) ([]activity, error) {
	client, err := s.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("after", strconv.FormatInt(since.Unix(), 10))
	q.Set("per_page", strconv.Itoa(stravaPageSize))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+"/athlete/activities?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("strava returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw []stravaActivity
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal activities: %w", err)
	}
	out := make([]activity, 0, len(raw))
	for _, a := range raw {
		out = append(out, toActivity(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// toActivity normalizes a Strava activity. Strava reports work in kJ for
// power-metered rides, which is close to kcal burned at typical efficiency.
func toActivity(a stravaActivity) activity {
	act := activity{
		Name:        a.Name,
		SportType:   a.SportType,
		StartDate:   a.StartDate,
		DurationMin: (a.MovingTime + 30) / 60,
		DistanceKM:  round1(a.Distance / 1000),
	}
	if a.Kilojoules > 0 {
		kcal := int(a.Kilojoules + 0.5)
		act.Calories = &kcal
	}
	return act
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

func (h *Handler) requireStrava(c *gin.Context) bool {
	if h.strava == nil {
		apiError(c, http.StatusNotFound, "strava is not configured")
		return false
	}
	return true
}

// stravaConnect returns the consent URL the client should open.
// GET /api/strava/connect.
func (h *Handler) stravaConnect(c *gin.Context) {
	if !h.requireStrava(c) {
		return
	}
	authURL, state := h.strava.authURL(c.GetInt("user_id"))
	c.JSON(http.StatusOK, gin.H{"url": authURL, "state": state})
}

// stravaExchange completes the OAuth flow.
// POST /api/strava/exchange. Body: {"code": "...", "state": "..."}.
func (h *Handler) stravaExchange(c *gin.Context) {
	if !h.requireStrava(c) {
		return
	}
	var body struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Code == "" {
		apiError(c, http.StatusBadRequest, "code is required")
		return
	}
	userID := c.GetInt("user_id")
	if !h.strava.consumeState(userID, body.State) {
		apiError(c, http.StatusBadRequest, "invalid state")
		return
	}

	st, err := h.strava.exchange(c, userID, body.Code)
	if err != nil {
		h.log.Error("strava exchange failed", zap.Error(err), zap.Int("user_id", userID))
		apiError(c, http.StatusBadGateway, "strava exchange failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "athlete_id": st.AthleteID})
}

// stravaActivities lists recent activities.
// GET /api/strava/activities?days=N (default 14, max 60).
func (h *Handler) stravaActivities(c *gin.Context) {
	if !h.requireStrava(c) {
		return
	}
	days := stravaDefaultDays
	if s := c.Query("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			apiError(c, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = min(n, maxDashboardDays)
	}

	userID := c.GetInt("user_id")
	acts, err := h.strava.RecentActivities(c, userID, h.now().AddDate(0, 0, -days))
	if err != nil {
		if errors.Is(err, errNotFound) {
			apiError(c, http.StatusNotFound, "strava is not connected")
			return
		}
		h.log.Error("strava activities failed", zap.Error(err), zap.Int("user_id", userID))
		apiError(c, http.StatusBadGateway, "failed to fetch activities")
		return
	}
	c.JSON(http.StatusOK, acts)
}
