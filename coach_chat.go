package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	coachHistoryLimit   = 10
	coachMemoryLimit    = 20
	coachActivityDays   = 7
	maxCoachMessageLen  = 2000
	maxVoiceUploadBytes = 10 << 20
	maxListedMemories   = 100
)

// memoryExtractionPrompt asks for durable facts only; day-to-day numbers are
// already in the check-ins.
const memoryExtractionPrompt = `Du extrahierst dauerhafte Fakten über einen Nutzer aus einem Coaching-Gespräch.
Relevant sind z.B. Unverträglichkeiten, Vorlieben, Verletzungen, Trainingsplan, Arbeitszeiten, Ziele.
Keine Tageswerte (Gewicht, Kalorien von heute) und nichts, was schon bekannt ist.
Antworte nur mit JSON: {"memories": ["...", "..."]}. Wenn es nichts Neues gibt: {"memories": []}.`

type coachReply struct {
	Reply      string         `json:"reply"`
	Transcript string         `json:"transcript,omitempty"`
	Analysis   signalAnalysis `json:"analysis"`
	Memories   []string       `json:"new_memories"`
}

// coachChat answers a text message from the user.
// POST /api/coach/chat. Body: {"message": "..."}.
func (h *Handler) coachChat(c *gin.Context) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	msg := strings.TrimSpace(body.Message)
	if msg == "" {
		apiError(c, http.StatusBadRequest, "message is required")
		return
	}
	if len(msg) > maxCoachMessageLen {
		apiError(c, http.StatusBadRequest, "message is too long")
		return
	}

	reply, err := h.runCoach(c, c.GetInt("user_id"), msg)
	if err != nil {
		h.coachError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// coachVoice transcribes an uploaded voice message and answers it like a text
// message. POST /api/coach/voice, multipart field "audio".
func (h *Handler) coachVoice(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxVoiceUploadBytes)
	file, fh, err := c.Request.FormFile("audio")
	if err != nil {
		apiError(c, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	text, err := h.voice.Transcribe(c.Request.Context(), fh.Filename, file)
	if err != nil {
		h.coachError(c, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		apiError(c, http.StatusUnprocessableEntity, "no speech recognized")
		return
	}

	reply, err := h.runCoach(c, c.GetInt("user_id"), text)
	if err != nil {
		h.coachError(c, err)
		return
	}
	reply.Transcript = text
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) coachError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errNotFound):
		apiError(c, http.StatusNotFound, "profile not found")
	case errors.Is(err, errLLMNotConfigured):
		apiError(c, http.StatusServiceUnavailable, "coach is not configured")
	default:
		h.log.Error("coach request failed", zap.Error(err), zap.Int("user_id", c.GetInt("user_id")))
		apiError(c, http.StatusBadGateway, "coach request failed")
	}
}

// runCoach gathers the user's context, asks the LLM and records the turn.
// Only the profile and the LLM call are required; everything else degrades to
// an empty section in the prompt.
func (h *Handler) runCoach(c *gin.Context, userID int, message string) (coachReply, error) {
	ctx := c.Request.Context()
	now := h.now()

	p, err := h.store.GetProfile(ctx, userID)
	if err != nil {
		return coachReply{}, err
	}
	rows, err := h.store.RecentCheckins(ctx, userID, maxAnalyzedCheckins)
	if err != nil {
		return coachReply{}, err
	}
	cc := buildCoachContext(p, rows, now)
	analysis := analyzeSignals(rows, p, cc.Targets)

	memories, err := h.store.ListMemories(ctx, userID, coachMemoryLimit)
	if err != nil {
		h.log.Warn("load coach memories", zap.Error(err), zap.Int("user_id", userID))
	}
	history, err := h.store.RecentMessages(ctx, userID, coachHistoryLimit)
	if err != nil {
		h.log.Warn("load coach history", zap.Error(err), zap.Int("user_id", userID))
	}
	var activities []activity
	if h.activities != nil {
		activities, err = h.activities.RecentActivities(ctx, userID, now.AddDate(0, 0, -coachActivityDays))
		if err != nil && !errors.Is(err, errNotFound) {
			h.log.Warn("load activities", zap.Error(err), zap.Int("user_id", userID))
		}
	}

	system := buildCoachPrompt(promptInput{
		Context:    cc,
		Analysis:   analysis,
		Checkins:   rows,
		Memories:   memories,
		Activities: activities,
	})
	msgs := make([]openAIMessage, 0, len(history)+2)
	msgs = append(msgs, openAIMessage{Role: "system", Content: system})
	for _, m := range history {
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, openAIMessage{Role: "user", Content: message})

	reply, err := h.coach.Complete(ctx, msgs, false)
	if err != nil {
		return coachReply{}, err
	}
	reply = strings.TrimSpace(reply)

	if err := h.store.AppendMessages(ctx, userID,
		coachMessage{UserID: userID, Role: "user", Content: message, CreatedAt: now},
		coachMessage{UserID: userID, Role: "assistant", Content: reply, CreatedAt: now},
	); err != nil {
		h.log.Warn("store coach messages", zap.Error(err), zap.Int("user_id", userID))
	}

	added := h.extractMemories(ctx, userID, memories, message, reply)
	return coachReply{Reply: reply, Analysis: analysis, Memories: added}, nil
}

// extractMemories asks the LLM for new durable facts and stores them. Failures
// are logged and yield no memories.
func (h *Handler) extractMemories(ctx context.Context, userID int, known []coachMemory, message, reply string) []string {
	var b strings.Builder
	if len(known) > 0 {
		b.WriteString("Bereits bekannt:\n")
		for _, m := range known {
			b.WriteString("- " + m.Content + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Nutzer: " + message + "\nCoach: " + reply)

	content, err := h.coach.Complete(ctx, []openAIMessage{
		{Role: "system", Content: memoryExtractionPrompt},
		{Role: "user", Content: b.String()},
	}, true)
	if err != nil {
		h.log.Warn("extract memories", zap.Error(err), zap.Int("user_id", userID))
		return []string{}
	}

	added := parseMemories(content, known)
	if len(added) == 0 {
		return []string{}
	}
	if err := h.store.AddMemories(ctx, userID, added); err != nil {
		h.log.Warn("store memories", zap.Error(err), zap.Int("user_id", userID))
		return []string{}
	}
	return added
}

// parseMemories reads {"memories": [...]} and drops blanks and facts that are
// already known (case-insensitive).
func parseMemories(content string, known []coachMemory) []string {
	var parsed struct {
		Memories []string `json:"memories"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil
	}
	seen := make(map[string]bool, len(known))
	for _, m := range known {
		seen[strings.ToLower(strings.TrimSpace(m.Content))] = true
	}
	var out []string
	for _, m := range parsed.Memories {
		m = strings.TrimSpace(m)
		key := strings.ToLower(m)
		if m == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

/* ─── History and memories ───────────────────────────────────────────── */

// getCoachMessages returns the recent conversation, oldest first.
// GET /api/coach/messages?limit=N (default 50).
func (h *Handler) getCoachMessages(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			apiError(c, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	msgs, err := h.store.RecentMessages(c, c.GetInt("user_id"), limit)
	if err != nil {
		h.storeError(c, err, "messages not found", "failed to fetch messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// getCoachMemories returns what the coach remembers about the user.
// GET /api/coach/memories.
func (h *Handler) getCoachMemories(c *gin.Context) {
	mems, err := h.store.ListMemories(c, c.GetInt("user_id"), maxListedMemories)
	if err != nil {
		h.storeError(c, err, "memories not found", "failed to fetch memories")
		return
	}
	c.JSON(http.StatusOK, mems)
}

// deleteCoachMemory removes one memory. DELETE /api/coach/memories/:id.
func (h *Handler) deleteCoachMemory(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteMemory(c, c.GetInt("user_id"), id); err != nil {
		h.storeError(c, err, "memory not found", "failed to delete memory")
		return
	}
	c.Status(http.StatusNoContent)
}

/* ─── Meal estimate ──────────────────────────────────────────────────── */

const mealEstimatePrompt = `Du bist ein Ernährungsassistent. Der Nutzer beschreibt, was er gegessen hat (Deutsch oder Englisch).
Schätze die Gesamtwerte und antworte mit einem JSON-Objekt:
- "description" (string, kurze bereinigte Beschreibung)
- "calories" (integer, kcal gesamt)
- "protein_g" (integer)
- "carbs_g" (integer)
- "fat_g" (integer)
- "confidence" (integer 1-5: 5=bekannte Nährwerte, 3=vernünftige Schätzung, 1=sehr unsicher)

Gib immer deine beste Schätzung ab. Nur wenn die Eingabe gar kein Essen ist, antworte {"error": "unrecognized"}.
Nur gültiges JSON, keine Erklärung.`

// mealEstimate is the structured nutrition estimate returned by the LLM.
type mealEstimate struct {
	Description string `json:"description"`
	Calories    int    `json:"calories"`
	ProteinG    int    `json:"protein_g"`
	CarbsG      int    `json:"carbs_g"`
	FatG        int    `json:"fat_g"`
	Confidence  int    `json:"confidence"`
}

// estimateMeal turns a free-text meal description into calories and macros so
// the check-in form can prefill its nutrition fields.
// POST /api/checkins/estimate. Body: {"description": "..."}.
func (h *Handler) estimateMeal(c *gin.Context) {
	var req struct {
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		apiError(c, http.StatusBadRequest, "description is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	content, err := h.coach.Complete(ctx, []openAIMessage{
		{Role: "system", Content: mealEstimatePrompt},
		{Role: "user", Content: req.Description},
	}, true)
	if err != nil {
		if errors.Is(err, errLLMNotConfigured) {
			apiError(c, http.StatusServiceUnavailable, "estimates are not configured")
			return
		}
		h.log.Error("meal estimate failed", zap.Error(err))
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}

	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &errorResp); err != nil {
		h.log.Error("parse meal estimate", zap.Error(err))
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}
	if errorResp.Error == "unrecognized" {
		c.JSON(http.StatusOK, gin.H{"error": "unrecognized"})
		return
	}

	var est mealEstimate
	if err := json.Unmarshal([]byte(content), &est); err != nil {
		h.log.Error("parse meal estimate", zap.Error(err))
		apiError(c, http.StatusInternalServerError, "openai request failed")
		return
	}
	if est.Calories <= 0 {
		c.JSON(http.StatusOK, gin.H{"error": "unrecognized"})
		return
	}
	c.JSON(http.StatusOK, est)
}
