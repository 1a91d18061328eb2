package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/platform/sendgrid"
	"github.com/compasshq/compass-backend/internal/repos"
	"github.com/compasshq/compass-backend/internal/types"
)

// NudgeEmailService delivers filled reminders over email and flips their
// delivery status. Opted-out users get their notifications marked sent
// without an email: the in-app notification is the product, email is an
// add-on.
type NudgeEmailService struct {
	log *logger.Logger

	userRepo     repos.UserRepo
	settingsRepo repos.CompanionSettingsRepo
	planRepo     repos.PlanRepo
	notifRepo    repos.NotificationRepo

	mailer sendgrid.Client
}

func NewNudgeEmailService(
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	settingsRepo repos.CompanionSettingsRepo,
	planRepo repos.PlanRepo,
	notifRepo repos.NotificationRepo,
	mailer sendgrid.Client,
) *NudgeEmailService {
	return &NudgeEmailService{
		log:          baseLog.With("service", "NudgeEmailService"),
		userRepo:     userRepo,
		settingsRepo: settingsRepo,
		planRepo:     planRepo,
		notifRepo:    notifRepo,
		mailer:       mailer,
	}
}

// SendPending walks filled, undelivered reminders. Each notification ends in
// a terminal delivery status: sent on success or opt-out, failed on a send
// error. Failed rows are retried by the next sweep because the dedupe window
// ignores them.
func (ne *NudgeEmailService) SendPending(ctx context.Context, limit int) (sent int, failed int, err error) {
	pending, err := ne.notifRepo.ListUndelivered(ctx, nil, limit)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	users, settings, err := ne.loadRecipients(ctx, pending)
	if err != nil {
		return 0, 0, err
	}

	for _, notif := range pending {
		ok, sendErr := ne.deliverOne(ctx, notif, users[notif.UserID], settings[notif.UserID])
		if sendErr != nil {
			ne.log.Warn("Nudge email delivery failed", "notification_id", notif.ID, "error", sendErr)
			ne.setDeliveryStatus(ctx, notif.ID, types.DeliveryStatusFailed)
			failed++
			continue
		}
		ne.setDeliveryStatus(ctx, notif.ID, types.DeliveryStatusSent)
		if ok {
			sent++
		}
	}
	return sent, failed, nil
}

// deliverOne returns (emailSent, err). (false, nil) means skipped by opt-out
// and the notification should still be marked sent.
func (ne *NudgeEmailService) deliverOne(ctx context.Context, notif *types.Notification, user *types.User, settings *types.CompanionSettings) (bool, error) {
	if user == nil {
		return false, fmt.Errorf("user %s not found", notif.UserID)
	}
	if settings == nil || !settings.EmailOptIn || ne.mailer == nil {
		return false, nil
	}

	address := strings.TrimSpace(settings.EmailAddress)
	if address == "" {
		address = strings.TrimSpace(user.Email)
	}
	if address == "" {
		return false, fmt.Errorf("no email address for user %s", notif.UserID)
	}

	goalName := ne.goalNameFor(ctx, notif.PlanID)
	subject := "A nudge on your goal"
	if goalName != "" {
		subject = fmt.Sprintf("A nudge on %q", goalName)
	}

	_, err := ne.mailer.Send(ctx, sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: address, Name: strings.TrimSpace(user.FirstName + " " + user.LastName)}},
		Subject: subject,
		Text:    notif.Prompt,
		HTML:    nudgeHTML(user.FirstName, notif.Prompt),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SendPlanReady emails the finalized milestone list. Best-effort: callers log
// and move on when it errors.
func (ne *NudgeEmailService) SendPlanReady(ctx context.Context, address string, plan *types.Plan, milestones []types.Milestone) error {
	if ne.mailer == nil {
		return nil
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("empty recipient address")
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Your plan for %q is ready.\n\n", plan.GoalName)
	for i, m := range milestones {
		fmt.Fprintf(&text, "%d. %s (%s to %s)\n", i+1, m.Title, m.StartDate, m.DueDate)
		if m.Description != "" {
			fmt.Fprintf(&text, "   %s\n", m.Description)
		}
	}
	fmt.Fprintf(&text, "\nTarget date: %s\n", plan.TargetDate)

	_, err := ne.mailer.Send(ctx, sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: address}},
		Subject: fmt.Sprintf("Your plan for %q is ready", plan.GoalName),
		Text:    text.String(),
	})
	return err
}

func (ne *NudgeEmailService) loadRecipients(ctx context.Context, pending []*types.Notification) (map[uuid.UUID]*types.User, map[uuid.UUID]*types.CompanionSettings, error) {
	seen := map[uuid.UUID]bool{}
	userIDs := make([]uuid.UUID, 0, len(pending))
	for _, n := range pending {
		if !seen[n.UserID] {
			seen[n.UserID] = true
			userIDs = append(userIDs, n.UserID)
		}
	}

	userRows, err := ne.userRepo.GetByIDs(ctx, nil, userIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	users := make(map[uuid.UUID]*types.User, len(userRows))
	for _, u := range userRows {
		users[u.ID] = u
	}

	settingsRows, err := ne.settingsRepo.GetByUserIDs(ctx, nil, userIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load companion settings: %w", err)
	}
	settings := make(map[uuid.UUID]*types.CompanionSettings, len(settingsRows))
	for _, s := range settingsRows {
		settings[s.UserID] = s
	}
	return users, settings, nil
}

func (ne *NudgeEmailService) goalNameFor(ctx context.Context, planID uuid.UUID) string {
	plan, err := ne.planRepo.GetByID(ctx, nil, planID)
	if err != nil || plan == nil {
		return ""
	}
	return plan.GoalName
}

func (ne *NudgeEmailService) setDeliveryStatus(ctx context.Context, id uuid.UUID, status string) {
	if err := ne.notifRepo.UpdateFields(ctx, nil, id, map[string]interface{}{
		"delivery_status": status,
	}); err != nil {
		ne.log.Error("Failed to persist delivery status", "notification_id", id, "status", status, "error", err)
	}
}

func nudgeHTML(firstName, prompt string) string {
	greeting := "Hey"
	if strings.TrimSpace(firstName) != "" {
		greeting = "Hey " + html.EscapeString(strings.TrimSpace(firstName))
	}
	return fmt.Sprintf("<p>%s,</p><p>%s</p>", greeting, html.EscapeString(prompt))
}
