package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler holds shared dependencies for all route handlers. Optional
// integrations (sessions, activities, strava, reminders) are nil when not
// configured.
type Handler struct {
	store      dataStore
	coach      chatCompleter
	voice      transcriber
	sessions   sessionVerifier
	activities activityProvider
	strava     *stravaConnector
	reminders  *reminderJob
	limiter    *userLimiter
	metrics    *metrics
	admins     map[string]bool
	log        *zap.Logger
	now        func() time.Time
}

// apiError returns a consistent JSON error response: {"error": "message"}.
func apiError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// storeError maps errNotFound to 404 and anything else to a logged 500.
func (h *Handler) storeError(c *gin.Context, err error, notFound, failed string) {
	if errors.Is(err, errNotFound) {
		apiError(c, http.StatusNotFound, notFound)
		return
	}
	h.log.Error(failed, zap.Error(err), zap.Int("user_id", c.GetInt("user_id")))
	_ = c.Error(err)
	apiError(c, http.StatusInternalServerError, failed)
}

// parseDateRange reads start/end (YYYY-MM-DD, inclusive) and returns the
// half-open UTC window [start 00:00, end+1 00:00).
func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end := c.Query("start"), c.Query("end")
	if start == "" || end == "" {
		apiError(c, http.StatusBadRequest, "start and end query params are required")
		return time.Time{}, time.Time{}, false
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid start, expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid end, expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	if s.After(e) {
		apiError(c, http.StatusBadRequest, "start must not be after end")
		return time.Time{}, time.Time{}, false
	}
	return s, e.AddDate(0, 0, 1), true
}

/* ─── Routes ─────────────────────────────────────────────────────────── */

// registerRoutes registers all API routes on the router.
func (h *Handler) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.handler()))
	}

	// Public routes
	router.POST("/api/login", h.login)

	// Authenticated routes
	api := router.Group("/api", h.authMiddleware())
	api.GET("/profile", h.getProfile)
	api.PUT("/profile", h.putProfile)
	api.PATCH("/profile", h.patchProfile)

	api.GET("/checkins", h.listCheckins)
	api.POST("/checkins", h.createCheckin)
	api.GET("/checkins/today", h.getTodayCheckin)
	api.PATCH("/checkins/today", h.patchTodayCheckin)
	api.GET("/checkins/export", h.exportCheckins)
	api.POST("/checkins/estimate", h.limiter.middleware(), h.estimateMeal)
	api.DELETE("/checkins/:id", h.deleteCheckin)

	api.GET("/dashboard", h.getDashboard)

	coach := api.Group("/coach")
	coach.GET("/messages", h.getCoachMessages)
	coach.GET("/memories", h.getCoachMemories)
	coach.DELETE("/memories/:id", h.deleteCoachMemory)
	limited := coach.Group("", h.limiter.middleware())
	limited.POST("/chat", h.coachChat)
	limited.POST("/voice", h.coachVoice)

	api.GET("/strava/connect", h.stravaConnect)
	api.POST("/strava/exchange", h.stravaExchange)
	api.GET("/strava/activities", h.stravaActivities)

	admin := api.Group("/admin", h.adminMiddleware())
	admin.POST("/reminders/run", h.runReminders)
}
