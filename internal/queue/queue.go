// Package queue provides the durable JetStream work queues gluing scan
// completion to report generation and notification delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avickers/a11ypipe/internal/models"
)

// Stream and subject names. One stream per queue, work-queue retention:
// a message lives until its consumer acks or terms it.
const (
	ExportStream  = "A11Y_EXPORTS"
	ExportSubject = "a11y.exports.generate"

	NotifyStream  = "A11Y_NOTIFY"
	NotifySubject = "a11y.notify.send"
)

// GenerationJob asks a worker to generate one report for one subject.
type GenerationJob struct {
	SubjectID string              `json:"subject_id"`
	Format    models.ReportFormat `json:"format"`
	ReportID  string              `json:"report_id"`
}

// NotificationJob asks a worker to deliver one notification.
type NotificationJob struct {
	SubjectID string `json:"subject_id"`
	Recipient string `json:"recipient"`
	Kind      string `json:"kind"` // "completion" or "failure"
}

// Queue wraps the NATS connection and JetStream context.
type Queue struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// Connect establishes the NATS connection and makes sure both streams exist.
func Connect(url string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("a11ypipe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	q := &Queue{nc: nc, js: js, logger: logger}
	for _, sc := range []*nats.StreamConfig{
		{
			Name:      ExportStream,
			Subjects:  []string{ExportSubject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		},
		{
			Name:      NotifyStream,
			Subjects:  []string{NotifySubject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		},
	} {
		if err := q.ensureStream(sc); err != nil {
			nc.Close()
			return nil, err
		}
	}

	logger.Info("jetstream queues ready", "url", url)
	return q, nil
}

func (q *Queue) ensureStream(sc *nats.StreamConfig) error {
	_, err := q.js.StreamInfo(sc.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", sc.Name, err)
	}
	if _, err := q.js.AddStream(sc); err != nil {
		return fmt.Errorf("add stream %s: %w", sc.Name, err)
	}
	q.logger.Info("created stream", "stream", sc.Name)
	return nil
}

// PublishGeneration enqueues one report-generation job.
func (q *Queue) PublishGeneration(ctx context.Context, job GenerationJob) error {
	return q.publish(ctx, ExportSubject, job)
}

// PublishNotification enqueues one notification job. The verification
// orchestrator publishes the completion notification once a scan's coverage
// summary is stored; upstream scan controllers use the same entry point for
// other kinds.
func (q *Queue) PublishNotification(ctx context.Context, job NotificationJob) error {
	return q.publish(ctx, NotifySubject, job)
}

func (q *Queue) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := q.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so in-flight acks are flushed.
func (q *Queue) Close() {
	if err := q.nc.Drain(); err != nil {
		q.logger.Warn("nats drain failed", "error", err)
		q.nc.Close()
	}
}
