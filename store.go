package main

import (
	"context"
	"errors"
	"time"
)

// errNotFound is returned by stores when a lookup matches no row. Handlers map
// it to 404; every other store error is a 500.
var errNotFound = errors.New("not found")

// userStore resolves the authenticated user.
type userStore interface {
	UserByUsername(ctx context.Context, username string) (user, error)
	UserByToken(ctx context.Context, token string) (user, error)
	// UserByExternalID returns the user linked to an identity-provider subject,
	// creating the row on first sight.
	UserByExternalID(ctx context.Context, externalID, email string) (user, error)
}

// profileStore owns the one-row-per-user profile written at onboarding.
type profileStore interface {
	GetProfile(ctx context.Context, userID int) (profile, error)
	UpsertProfile(ctx context.Context, p profile) (profile, error)
	PatchProfile(ctx context.Context, userID int, patch profilePatch) (profile, error)
	ReminderRecipients(ctx context.Context) ([]reminderRecipient, error)
}

// checkinStore persists daily check-ins. List methods return rows ascending by
// created_at.
type checkinStore interface {
	// FindCheckinBetween returns the latest row in [start, end), or nil when
	// the window is empty.
	FindCheckinBetween(ctx context.Context, userID int, start, end time.Time) (*checkinRow, error)
	InsertCheckin(ctx context.Context, row checkinRow) (checkinRow, error)
	UpdateCheckin(ctx context.Context, row checkinRow) (checkinRow, error)
	ListCheckins(ctx context.Context, userID int, start, end time.Time) ([]checkinRow, error)
	RecentCheckins(ctx context.Context, userID int, limit int) ([]checkinRow, error)
	DeleteCheckin(ctx context.Context, userID, id int) error
}

// memoryStore keeps long-lived facts the coach extracted from conversations.
type memoryStore interface {
	ListMemories(ctx context.Context, userID int, limit int) ([]coachMemory, error)
	AddMemories(ctx context.Context, userID int, contents []string) error
	DeleteMemory(ctx context.Context, userID, id int) error
}

// conversationStore keeps the coach chat history. RecentMessages returns
// oldest first.
type conversationStore interface {
	RecentMessages(ctx context.Context, userID int, limit int) ([]coachMessage, error)
	AppendMessages(ctx context.Context, userID int, msgs ...coachMessage) error
}

// stravaTokenStore persists OAuth tokens for the Strava activity provider.
type stravaTokenStore interface {
	StravaToken(ctx context.Context, userID int) (stravaToken, error)
	SaveStravaToken(ctx context.Context, t stravaToken) error
}

// dataStore is everything the HTTP handlers need from persistence.
// Implemented by pgStore (production) and memStore (STORE=memory and tests).
type dataStore interface {
	userStore
	profileStore
	checkinStore
	memoryStore
	conversationStore
	stravaTokenStore
}
