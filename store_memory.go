package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory dataStore for development (STORE=memory) and tests.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	users    []user
	profiles map[int]profile
	checkins []checkinRow
	memories []coachMemory
	messages []coachMessage
	strava   map[int]stravaToken

	nextUserID    int
	nextCheckinID int
	nextMemoryID  int
	nextMessageID int
}

var _ dataStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		now:      time.Now,
		profiles: make(map[int]profile),
		strava:   make(map[int]stravaToken),
	}
}

// addUser registers a local user and returns it with a fresh auth token.
// passwordHash is a bcrypt hash, or empty for token-only users.
func (m *memStore) addUser(username, email, passwordHash string) user {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUserID++
	now := m.now().UTC()
	u := user{ID: m.nextUserID, Username: username, Email: email, Password: passwordHash, AuthToken: uuid.New().String(), CreatedAt: &now}
	m.users = append(m.users, u)
	return u
}

/* ─── userStore ──────────────────────────────────────────────────────── */

func (m *memStore) UserByUsername(_ context.Context, username string) (user, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user{}, errNotFound
}

func (m *memStore) UserByToken(_ context.Context, token string) (user, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if token != "" && u.AuthToken == token {
			return u, nil
		}
	}
	return user{}, errNotFound
}

func (m *memStore) UserByExternalID(_ context.Context, externalID, email string) (user, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			return u, nil
		}
	}
	m.nextUserID++
	now := m.now().UTC()
	ext := externalID
	u := user{ID: m.nextUserID, Username: externalID, Email: email, AuthToken: uuid.New().String(), ExternalID: &ext, CreatedAt: &now}
	m.users = append(m.users, u)
	return u, nil
}

/* ─── profileStore ───────────────────────────────────────────────────── */

func (m *memStore) GetProfile(_ context.Context, userID int) (profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return profile{}, errNotFound
	}
	return p, nil
}

func (m *memStore) UpsertProfile(_ context.Context, p profile) (profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if old, ok := m.profiles[p.UserID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = &now
	}
	p.UpdatedAt = &now
	m.profiles[p.UserID] = p
	return p, nil
}

func (m *memStore) PatchProfile(_ context.Context, userID int, patch profilePatch) (profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return profile{}, errNotFound
	}
	if patch.Goal != nil {
		p.Goal = *patch.Goal
	}
	if patch.Age != nil {
		p.Age = *patch.Age
	}
	if patch.Gender != nil {
		p.Gender = *patch.Gender
	}
	if patch.HeightCM != nil {
		p.HeightCM = *patch.HeightCM
	}
	if patch.WeightKG != nil {
		p.WeightKG = *patch.WeightKG
	}
	if patch.ActivityLevel != nil {
		p.ActivityLevel = *patch.ActivityLevel
	}
	if patch.TrainingDaysPerWeek != nil {
		p.TrainingDaysPerWeek = *patch.TrainingDaysPerWeek
	}
	if patch.TargetCaloriesMin != nil {
		p.TargetCaloriesMin = patch.TargetCaloriesMin
	}
	if patch.TargetCaloriesMax != nil {
		p.TargetCaloriesMax = patch.TargetCaloriesMax
	}
	if patch.TargetProteinMin != nil {
		p.TargetProteinMin = patch.TargetProteinMin
	}
	if patch.TargetProteinMax != nil {
		p.TargetProteinMax = patch.TargetProteinMax
	}
	if patch.ReminderOptIn != nil {
		p.ReminderOptIn = *patch.ReminderOptIn
	}
	now := m.now().UTC()
	p.UpdatedAt = &now
	m.profiles[userID] = p
	return p, nil
}

func (m *memStore) ReminderRecipients(_ context.Context) ([]reminderRecipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reminderRecipient
	for _, u := range m.users {
		if p, ok := m.profiles[u.ID]; ok && p.ReminderOptIn && u.Email != "" {
			out = append(out, reminderRecipient{UserID: u.ID, Username: u.Username, Email: u.Email})
		}
	}
	return out, nil
}

/* ─── checkinStore ───────────────────────────────────────────────────── */

func (m *memStore) FindCheckinBetween(_ context.Context, userID int, start, end time.Time) (*checkinRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *checkinRow
	for i := range m.checkins {
		r := m.checkins[i]
		if r.UserID != userID || r.CreatedAt.Before(start) || !r.CreatedAt.Before(end) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) ||
			(r.CreatedAt.Equal(latest.CreatedAt) && r.ID > latest.ID) {
			found := r
			latest = &found
		}
	}
	return latest, nil
}

func (m *memStore) InsertCheckin(_ context.Context, row checkinRow) (checkinRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCheckinID++
	row.ID = m.nextCheckinID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now().UTC()
	}
	m.checkins = append(m.checkins, row)
	return row, nil
}

func (m *memStore) UpdateCheckin(_ context.Context, row checkinRow) (checkinRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.checkins {
		if m.checkins[i].ID == row.ID && m.checkins[i].UserID == row.UserID {
			now := m.now().UTC()
			row.UpdatedAt = &now
			m.checkins[i] = row
			return row, nil
		}
	}
	return checkinRow{}, errNotFound
}

func (m *memStore) ListCheckins(_ context.Context, userID int, start, end time.Time) ([]checkinRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []checkinRow{}
	for _, r := range m.checkins {
		if r.UserID == userID && !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			out = append(out, r)
		}
	}
	sortCheckins(out)
	return out, nil
}

func (m *memStore) RecentCheckins(_ context.Context, userID int, limit int) ([]checkinRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []checkinRow{}
	for _, r := range m.checkins {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sortCheckins(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) DeleteCheckin(_ context.Context, userID, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.checkins {
		if r.ID == id && r.UserID == userID {
			m.checkins = append(m.checkins[:i], m.checkins[i+1:]...)
			return nil
		}
	}
	return errNotFound
}

/* ─── memoryStore / conversationStore ────────────────────────────────── */

func (m *memStore) ListMemories(_ context.Context, userID int, limit int) ([]coachMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []coachMemory{}
	for i := len(m.memories) - 1; i >= 0 && len(out) < limit; i-- {
		if m.memories[i].UserID == userID {
			out = append(out, m.memories[i])
		}
	}
	return out, nil
}

func (m *memStore) AddMemories(_ context.Context, userID int, contents []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.nextMemoryID++
		m.memories = append(m.memories, coachMemory{ID: m.nextMemoryID, UserID: userID, Content: c, CreatedAt: m.now().UTC()})
	}
	return nil
}

func (m *memStore) DeleteMemory(_ context.Context, userID, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, mem := range m.memories {
		if mem.ID == id && mem.UserID == userID {
			m.memories = append(m.memories[:i], m.memories[i+1:]...)
			return nil
		}
	}
	return errNotFound
}

func (m *memStore) RecentMessages(_ context.Context, userID int, limit int) ([]coachMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []coachMessage{}
	for _, msg := range m.messages {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) AppendMessages(_ context.Context, userID int, msgs ...coachMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.nextMessageID++
		msg.ID = m.nextMessageID
		msg.UserID = userID
		msg.CreatedAt = m.now().UTC()
		m.messages = append(m.messages, msg)
	}
	return nil
}

/* ─── stravaTokenStore ───────────────────────────────────────────────── */

func (m *memStore) StravaToken(_ context.Context, userID int) (stravaToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.strava[userID]
	if !ok {
		return stravaToken{}, errNotFound
	}
	return t, nil
}

func (m *memStore) SaveStravaToken(_ context.Context, t stravaToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strava[t.UserID] = t
	return nil
}

// sortCheckins orders rows ascending by created_at, ties by id.
func sortCheckins(rows []checkinRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}
