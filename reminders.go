package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// mailer sends a plain-text email.
type mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// sesMailer sends through Amazon SES using the default AWS credential chain.
type sesMailer struct {
	client *ses.Client
	from   string
}

func newSESMailer(ctx context.Context, region, from string) (*sesMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &sesMailer{client: ses.NewFromConfig(cfg), from: from}, nil
}

func (m *sesMailer) Send(ctx context.Context, to, subject, body string) error {
	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(m.from),
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

/* ─── Reminder job ───────────────────────────────────────────────────── */

// fieldLabels are the German names of check-in fields used in reminder mails.
var fieldLabels = map[string]string{
	fieldWeight:   "Gewicht",
	fieldHunger:   "Hunger",
	fieldEnergy:   "Energie",
	fieldTrained:  "Training",
	fieldCalories: "Kalorien",
	fieldProtein:  "Protein",
	fieldCarbs:    "Kohlenhydrate",
	fieldFat:      "Fett",
}

type reminderStore interface {
	ReminderRecipients(ctx context.Context) ([]reminderRecipient, error)
	FindCheckinBetween(ctx context.Context, userID int, start, end time.Time) (*checkinRow, error)
}

// reminderJob emails opted-in users whose check-in for the current UTC day is
// missing or incomplete.
type reminderJob struct {
	store   reminderStore
	mailer  mailer
	appURL  string
	log     *zap.Logger
	metrics *metrics
	now     func() time.Time

	running sync.Mutex
	cron    *cron.Cron
}

// reminderResult summarizes one pass.
type reminderResult struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

func newReminderJob(store reminderStore, m mailer, appURL string, log *zap.Logger, met *metrics) *reminderJob {
	return &reminderJob{
		store:   store,
		mailer:  m,
		appURL:  appURL,
		log:     log,
		metrics: met,
		now:     time.Now,
	}
}

// run performs one pass. A failed mail is logged and counted; the pass goes on
// with the next recipient. Overlapping passes are serialized.
func (j *reminderJob) run(ctx context.Context) (reminderResult, error) {
	j.running.Lock()
	defer j.running.Unlock()

	var res reminderResult
	recipients, err := j.store.ReminderRecipients(ctx)
	if err != nil {
		return res, fmt.Errorf("load recipients: %w", err)
	}

	start := startOfUTCDay(j.now())
	end := start.AddDate(0, 0, 1)
	for _, r := range recipients {
		res.Checked++
		row, err := j.store.FindCheckinBetween(ctx, r.UserID, start, end)
		if err != nil {
			j.log.Warn("reminder lookup failed", zap.Error(err), zap.Int("user_id", r.UserID))
			res.Failed++
			continue
		}
		if row != nil && isCheckinComplete(*row) {
			continue
		}

		subject, body := reminderMessage(r, row, j.appURL)
		err = j.mailer.Send(ctx, r.Email, subject, body)
		j.metrics.observeReminder(err)
		if err != nil {
			j.log.Warn("reminder send failed", zap.Error(err), zap.Int("user_id", r.UserID))
			res.Failed++
			continue
		}
		res.Sent++
	}
	j.log.Info("reminder pass done",
		zap.Int("checked", res.Checked), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

// reminderMessage builds the subject and body. row is nil when nothing was
// entered today.
func reminderMessage(r reminderRecipient, row *checkinRow, appURL string) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hallo %s,\n\n", r.Username)
	if row == nil {
		b.WriteString("für heute fehlt dein Check-in noch.\n")
	} else {
		labels := make([]string, 0, 8)
		for _, f := range missingCheckinFields(*row) {
			labels = append(labels, fieldLabels[f])
		}
		fmt.Fprintf(&b, "dein Check-in für heute ist noch nicht vollständig. Es fehlen: %s.\n", strings.Join(labels, ", "))
	}
	b.WriteString("Ein paar Sekunden reichen, damit dein Coach morgen mit aktuellen Daten arbeiten kann.\n")
	if appURL != "" {
		fmt.Fprintf(&b, "\n%s\n", appURL)
	}
	return "Dein Check-in für heute", b.String()
}

// start schedules run on spec (six fields, seconds first) in UTC.
func (j *reminderJob) start(spec string) error {
	c := cron.NewWithLocation(time.UTC)
	if err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := j.run(ctx); err != nil {
			j.log.Error("reminder pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reminders %q: %w", spec, err)
	}
	c.Start()
	j.cron = c
	return nil
}

func (j *reminderJob) stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}

// runReminders triggers one reminder pass on demand.
// POST /api/admin/reminders/run.
func (h *Handler) runReminders(c *gin.Context) {
	if h.reminders == nil {
		apiError(c, http.StatusNotFound, "reminders are not configured")
		return
	}
	res, err := h.reminders.run(c)
	if err != nil {
		h.log.Error("reminder pass failed", zap.Error(err))
		apiError(c, http.StatusInternalServerError, "reminder pass failed")
		return
	}
	c.JSON(http.StatusOK, res)
}
