package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags each request with an id and logs one line when it completes.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if userID := c.GetInt("user_id"); userID != 0 {
			fields = append(fields, zap.Int("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// userLimiter hands out one token bucket per user. Buckets are dropped every
// hour so the map does not grow without bound.
type userLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[int]*rate.Limiter
	lastCleanup time.Time
}

// newUserLimiter allows perMinute requests per user with a burst of the same size.
func newUserLimiter(perMinute float64) *userLimiter {
	burst := int(perMinute)
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{
		limit:       rate.Limit(perMinute / 60),
		burst:       burst,
		limiters:    make(map[int]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *userLimiter) allow(userID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > time.Hour {
		l.limiters = make(map[int]*rate.Limiter)
		l.lastCleanup = time.Now()
	}
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	return limiter.Allow()
}

// middleware rejects requests over the user's budget with 429. It must run
// after authMiddleware.
func (l *userLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.GetInt("user_id")) {
			apiError(c, http.StatusTooManyRequests, "too many coach requests, try again in a minute")
			c.Abort()
			return
		}
		c.Next()
	}
}
