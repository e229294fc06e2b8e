package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avickers/a11ypipe/internal/metrics"
	"github.com/avickers/a11ypipe/internal/models"
	"github.com/avickers/a11ypipe/internal/queue"
)

// Store is the slice of the record store the dispatcher needs.
// *db.Client satisfies it.
type Store interface {
	GetScan(ctx context.Context, scanID string) (*models.Scan, error)
	ClearNotifyEmail(ctx context.Context, scanID string) error
	RecordNotificationOutcome(ctx context.Context, out models.NotificationOutcome) error
}

// Dispatcher consumes notification jobs, routes them to a provider and
// performs the terminal bookkeeping. The recipient address is nulled on the
// scan after every terminal outcome, sent, skipped or exhausted alike, so
// the stored PII never outlives the job.
type Dispatcher struct {
	store       Store
	router      *Router
	providers   map[string]Provider
	minDuration time.Duration
	collector   *metrics.Collector
	logger      *slog.Logger
}

// NewDispatcher assembles the notification worker.
func NewDispatcher(st Store, router *Router, providers map[string]Provider, minDuration time.Duration, collector *metrics.Collector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       st,
		router:      router,
		providers:   providers,
		minDuration: minDuration,
		collector:   collector,
		logger:      logger,
	}
}

// Handle processes one delivery of a notification job. It satisfies
// queue.Handler. Returning an error hands the job back to the queue's
// retry policy; on the final attempt the terminal failure is recorded here
// first, because the message will not be redelivered.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, attempt int, final bool) error {
	var job queue.NotificationJob
	if err := json.Unmarshal(data, &job); err != nil {
		// Malformed payloads are never retried.
		d.logger.Error("dropping malformed notification job", "error", err)
		return nil
	}
	if job.SubjectID == "" || job.Recipient == "" {
		d.logger.Error("dropping notification job with missing fields", "job", string(data))
		return nil
	}

	err := d.dispatch(ctx, job, attempt)
	if err != nil && final {
		d.recordExhausted(ctx, job, attempt, err)
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, job queue.NotificationJob, attempt int) error {
	scan, err := d.store.GetScan(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("load subject: %w", err)
	}
	if scan == nil {
		// The subject is gone; there is nothing to send and no address left
		// to null. Terminal, not retryable.
		d.logger.Warn("notification subject not found, dropping",
			"subject_id", job.SubjectID, "kind", job.Kind)
		d.recordOutcome(ctx, job, attempt, models.NotificationOutcome{
			Outcome: "skipped",
			Error:   strPtr("subject not found"),
		})
		return nil
	}

	if d.minDuration > 0 && scan.Duration() < d.minDuration {
		// Not worth a send, but the terminal side effect still happens:
		// skipping must never leave the address behind.
		d.logger.Info("scan finished below notification threshold, skipping send",
			"subject_id", job.SubjectID, "duration", scan.Duration())
		if err := d.store.ClearNotifyEmail(ctx, job.SubjectID); err != nil {
			return fmt.Errorf("clear notify address: %w", err)
		}
		d.recordOutcome(ctx, job, attempt, models.NotificationOutcome{Outcome: "skipped"})
		return nil
	}

	providerID := d.router.Route(job.Recipient)
	provider, ok := d.providers[providerID]
	if !ok {
		// Routing can only name providers the table declared, so a missing
		// instance is a wiring bug, not a delivery failure.
		return fmt.Errorf("routed to unconfigured provider %q", providerID)
	}

	start := time.Now()
	messageID, err := provider.Send(ctx, job.Recipient, buildMessage(job.Kind, scan))
	if d.collector != nil {
		d.collector.RecordTiming(metrics.OpNotifySend, time.Since(start))
	}
	if err != nil {
		// No fallback. The routed provider's failure propagates as-is and
		// consumes a retry attempt.
		return fmt.Errorf("provider %s: %w", providerID, err)
	}

	if err := d.store.ClearNotifyEmail(ctx, job.SubjectID); err != nil {
		return fmt.Errorf("clear notify address after send: %w", err)
	}
	d.recordOutcome(ctx, job, attempt, models.NotificationOutcome{
		Outcome:   "sent",
		Provider:  providerID,
		MessageID: messageID,
	})

	d.logger.Info("notification sent",
		"subject_id", job.SubjectID, "kind", job.Kind, "provider", providerID, "message_id", messageID)
	return nil
}

// recordExhausted runs once, on the last failed attempt. The address is
// nulled even though delivery never happened; retention of recipient PII
// ends with the job either way.
func (d *Dispatcher) recordExhausted(ctx context.Context, job queue.NotificationJob, attempt int, cause error) {
	// The job context is usually already expired here when the last attempt
	// failed by timing out. The terminal bookkeeping must still land, so it
	// runs detached from the job deadline with its own short one.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	d.logger.Error("notification retries exhausted",
		"subject_id", job.SubjectID, "kind", job.Kind, "attempts", attempt, "error", cause)

	if err := d.store.ClearNotifyEmail(ctx, job.SubjectID); err != nil {
		d.logger.Error("failed to clear notify address after exhausted retries",
			"subject_id", job.SubjectID, "error", err)
	}
	d.recordOutcome(ctx, job, attempt, models.NotificationOutcome{
		Outcome: "failed",
		Error:   strPtr(cause.Error()),
	})
}

func (d *Dispatcher) recordOutcome(ctx context.Context, job queue.NotificationJob, attempt int, out models.NotificationOutcome) {
	out.SubjectID = job.SubjectID
	out.Kind = job.Kind
	out.RecipientHash = hashRecipient(job.Recipient)
	out.Attempts = attempt
	if err := d.store.RecordNotificationOutcome(ctx, out); err != nil {
		d.logger.Error("failed to record notification outcome",
			"subject_id", job.SubjectID, "outcome", out.Outcome, "error", err)
	}
}

// hashRecipient keeps the outcome log correlatable without storing the
// address itself.
func hashRecipient(address string) string {
	sum := sha256.Sum256([]byte(normalizeAddress(address)))
	return hex.EncodeToString(sum[:])
}

func buildMessage(kind string, scan *models.Scan) Message {
	msg := Message{
		Subject: fmt.Sprintf("Accessibility scan finished: %s", scan.URL),
	}

	body := fmt.Sprintf("Your accessibility scan of %s (WCAG %s) has finished.\n\nIssues found: %d\n",
		scan.URL, scan.Level, len(scan.Issues))
	if scan.Coverage != nil {
		body += fmt.Sprintf("AI verification: %d criteria checked, %d passed, %d failed.\n",
			scan.Coverage.CriteriaChecked, scan.Coverage.Passed, scan.Coverage.Failed)
	}
	if kind != "" && kind != "scan_complete" {
		msg.Subject = fmt.Sprintf("[%s] %s", kind, msg.Subject)
	}
	msg.Body = body
	return msg
}

func strPtr(s string) *string { return &s }
