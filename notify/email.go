package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/practicehub/timesheet-engine/timesheet"
)

// EmailConfig configures the review emails.
type EmailConfig struct {
	From string

	// AppURL is the base of the links in emails, e.g. https://app.example.com.
	AppURL string
}

// EmailNotifier renders review outcomes as emails and hands them to a
// Provider.
type EmailNotifier struct {
	provider   Provider
	translator *Translator
	cfg        EmailConfig
}

var _ timesheet.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(provider Provider, translator *Translator, cfg EmailConfig) *EmailNotifier {
	if cfg.From == "" {
		cfg.From = "noreply@practicehub.local"
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &EmailNotifier{provider: provider, translator: translator, cfg: cfg}
}

func (n *EmailNotifier) SubmissionApproved(ctx context.Context, notice timesheet.Notice) error {
	msg, ok := n.Render(ctx, notice, true)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *EmailNotifier) SubmissionRejected(ctx context.Context, notice timesheet.Notice) error {
	msg, ok := n.Render(ctx, notice, false)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

// Render builds the message for a notice without sending it. ok is false
// when the user has no email address.
func (n *EmailNotifier) Render(ctx context.Context, notice timesheet.Notice, approved bool) (Message, bool) {
	prefix := "timesheet.rejected"
	if approved {
		prefix = "timesheet.approved"
	}
	if notice.User.Email == "" {
		log.Printf("[Notify] User %s has no email, skipping %s for submission %s",
			notice.User.ID, prefix, notice.Submission.ID)
		return Message{}, false
	}
	if notice.User.Locale != "" {
		ctx = WithLocale(ctx, notice.User.Locale)
	}

	reviewer := notice.Reviewer.FullName()
	if reviewer == "" {
		reviewer = n.translator.T(ctx, "reviewer.unknown", nil)
	}
	data := map[string]any{
		"FirstName":  notice.User.FirstName,
		"WeekStart":  notice.Submission.WeekStart.String(),
		"WeekEnd":    notice.Submission.WeekEnd.String(),
		"Reviewer":   reviewer,
		"TotalHours": notice.Submission.TotalHours.String(),
		"Reason":     notice.Comments,
		"Link":       n.cfg.AppURL + "/client-hub/time/entries",
	}

	var body []string
	if notice.User.FirstName != "" {
		body = append(body, n.translator.T(ctx, "greeting", data))
	} else {
		body = append(body, n.translator.T(ctx, "greeting.anonymous", data))
	}
	body = append(body, n.translator.T(ctx, prefix+".body", data))
	switch prefix {
	case "timesheet.approved":
		body = append(body, n.translator.T(ctx, prefix+".total", data))
	case "timesheet.rejected":
		if notice.Comments != "" {
			body = append(body, n.translator.T(ctx, prefix+".reason", data))
		}
	}
	body = append(body, n.translator.T(ctx, prefix+".cta", data), n.translator.T(ctx, "footer", data))

	return Message{
		From:    n.cfg.From,
		To:      notice.User.Email,
		Subject: n.translator.T(ctx, prefix+".subject", data),
		Body:    strings.Join(body, "\n\n"),
	}, true
}

func (n *EmailNotifier) send(ctx context.Context, msg Message) error {
	if err := n.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	log.Printf("[Notify] Sent %q to %s", msg.Subject, msg.To)
	return nil
}
