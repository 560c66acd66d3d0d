package alerts

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/logger"
)

// RecipientResolver is the external profile lookup: exactly one
// recipient per account.
type RecipientResolver interface {
	RecipientForAccount(ctx context.Context, accountID string) (string, error)
}

// Mailer is the outbound notification channel. Synchronous; the HTTP
// response is the only delivery signal.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// NotificationStore is the alert repository slice the dispatcher uses.
type NotificationStore interface {
	PendingNotification(ctx context.Context, accountID, locationID string, limit int) ([]AlertModel, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Dispatcher flushes queued, unsent alerts to the account's recipient.
// Delivery is at-least-once: a crash between a confirmed send and the
// notified-timestamp write can duplicate one message.
type Dispatcher struct {
	store      NotificationStore
	recipients RecipientResolver
	mailer     Mailer
	batchSize  int
	now        func() time.Time
}

func NewDispatcher(store NotificationStore, recipients RecipientResolver, mailer Mailer, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Dispatcher{
		store:      store,
		recipients: recipients,
		mailer:     mailer,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// FlushPending sends every pending alert for the account/location,
// oldest first. A failed send is logged and skipped; the alert stays
// pending for the next flush. Returns the confirmed-send count.
func (d *Dispatcher) FlushPending(ctx context.Context, accountID, locationID string) (int, error) {
	recipient, err := d.recipients.RecipientForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("resolving recipient for account %s: %w", accountID, err)
	}

	pending, err := d.store.PendingNotification(ctx, accountID, locationID, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("loading pending alerts: %w", err)
	}

	sent := 0
	for i := range pending {
		alert := &pending[i]
		subject, body := RenderSummary(alert)
		if err := d.mailer.Send(ctx, recipient, subject, body); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"alert_id":  alert.ID,
				"rule_code": alert.RuleCode,
			}).Warn("alert notification failed, will retry on next flush")
			continue
		}
		if err := d.store.MarkNotified(ctx, alert.ID, d.now().UTC()); err != nil {
			logger.Log.WithError(err).WithField("alert_id", alert.ID).
				Error("sent alert could not be marked notified")
			continue
		}
		sent++
	}
	return sent, nil
}

// RenderSummary builds the subject and HTML body from the evidence
// payload alone, without re-querying source data.
func RenderSummary(alert *AlertModel) (string, string) {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity), ruleTitle(alert.RuleCode))

	var b strings.Builder
	b.WriteString("<h3>" + html.EscapeString(ruleTitle(alert.RuleCode)) + "</h3>")
	b.WriteString(fmt.Sprintf("<p>Severity: <b>%s</b><br>Triggered: %s</p>",
		html.EscapeString(alert.Severity),
		alert.TriggeredAt.Format(time.RFC1123)))

	switch alert.RuleCode {
	case RuleNegativeNoReply:
		b.WriteString(fmt.Sprintf("<p>A %v-star review has been unanswered for %v hours.</p>",
			alert.Payload["rating"], alert.Payload["hours_unreplied"]))
	case RuleRatingDrop:
		b.WriteString(fmt.Sprintf("<p>7-day average %v vs 30-day average %v (drop of %v).</p>",
			alert.Payload["avg_7d"], alert.Payload["avg_30d"], alert.Payload["delta"]))
	case RuleNegativitySpike:
		b.WriteString(fmt.Sprintf("<p>%v reviews of 2 stars or less in the last 48 hours (threshold %v).</p>",
			alert.Payload["negatives_48h"], alert.Payload["threshold"]))
	case RuleLongNegative:
		b.WriteString(fmt.Sprintf("<p>A detailed %v-star review (%v characters) needs attention.</p>",
			alert.Payload["rating"], alert.Payload["comment_length"]))
	}

	if snip, ok := alert.Payload["snippet"].(string); ok && snip != "" {
		b.WriteString("<blockquote>" + html.EscapeString(snip) + "</blockquote>")
	}
	if reviewer, ok := alert.Payload["reviewer"].(string); ok && reviewer != "" {
		b.WriteString("<p>— " + html.EscapeString(reviewer) + "</p>")
	}

	return subject, b.String()
}

func ruleTitle(code string) string {
	switch code {
	case RuleNegativeNoReply:
		return "Unanswered negative review"
	case RuleRatingDrop:
		return "Rating drop detected"
	case RuleNegativitySpike:
		return "Spike in negative reviews"
	case RuleLongNegative:
		return "Long critical review"
	default:
		return code
	}
}
