package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a pre-computed bcrypt hash used when a login username isn't found.
// Running bcrypt against it (instead of returning early) keeps response time
// constant, preventing timing-based username enumeration.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)

// login verifies username/password and returns the user's auth token.
// POST /api/login (public — no auth required).
func (h *Handler) login(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	u, lookupErr := h.store.UserByUsername(c, body.Username)
	if lookupErr != nil && !errors.Is(lookupErr, errNotFound) {
		h.log.Error("login lookup failed", zap.Error(lookupErr))
	}

	// Always run bcrypt to keep response time constant regardless of whether the
	// username was found.
	hashToCheck := string(dummyHash)
	if lookupErr == nil && u.Password != "" {
		hashToCheck = u.Password
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCheck), []byte(body.Password))

	if lookupErr != nil || u.Password == "" || compareErr != nil {
		apiError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": u.AuthToken, "user_id": u.ID})
}

/* ─── Bearer token auth ──────────────────────────────────────────────── */

// identity is the verified subject of a hosted-IdP session token.
type identity struct {
	Subject string
	Email   string
}

// sessionVerifier verifies session JWTs issued by the hosted identity provider.
type sessionVerifier interface {
	Verify(ctx context.Context, rawToken string) (identity, error)
}

// oidcSessionVerifier checks Clerk session tokens against the instance's JWKS.
// Session tokens carry no client audience, so the client id check is skipped.
type oidcSessionVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func newOIDCSessionVerifier(ctx context.Context, issuer, jwksURL string) *oidcSessionVerifier {
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return &oidcSessionVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{SkipClientIDCheck: true}),
	}
}

func (v *oidcSessionVerifier) Verify(ctx context.Context, rawToken string) (identity, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return identity{}, fmt.Errorf("verify session token: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&claims); err != nil {
		return identity{}, fmt.Errorf("parse session claims: %w", err)
	}
	return identity{Subject: tok.Subject, Email: claims.Email}, nil
}

// looksLikeJWT distinguishes IdP session tokens from opaque auth tokens.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// authMiddleware validates the Bearer token and sets user_id and username on
// the context. JWTs go to the IdP verifier when one is configured; everything
// else is looked up as an opaque auth token.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apiError(c, http.StatusUnauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		var u user
		var err error
		if h.sessions != nil && looksLikeJWT(token) {
			var id identity
			id, err = h.sessions.Verify(c, token)
			if err == nil {
				u, err = h.store.UserByExternalID(c, id.Subject, id.Email)
			}
		} else {
			u, err = h.store.UserByToken(c, token)
		}
		if err != nil {
			if !errors.Is(err, errNotFound) {
				h.log.Debug("token rejected", zap.Error(err))
			}
			apiError(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set("user_id", u.ID)
		c.Set("username", u.Username)
		c.Next()
	}
}

// adminMiddleware allows only users listed in ADMIN_USERS. It must run after
// authMiddleware.
func (h *Handler) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.admins[c.GetString("username")] {
			apiError(c, http.StatusForbidden, "admin only")
			c.Abort()
			return
		}
		c.Next()
	}
}
