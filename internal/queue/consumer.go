package queue

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// Retry policy for notification delivery: a fixed attempt budget with
// exponential backoff, 3s base doubling per attempt, capped.
const (
	NotifyMaxAttempts = 5
	backoffBase       = 3 * time.Second
	backoffCap        = 60 * time.Second
)

// RetryDelay returns the redelivery delay after the given failed attempt
// (1-based). Pure, so the schedule is testable without a broker.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}

// Handler processes one delivery of a job. attempt is the 1-based delivery
// count and final reports whether this is the last delivery the retry
// budget allows; a handler receiving final=true must do its own terminal
// bookkeeping before returning an error, because the message will not come
// back.
type Handler func(ctx context.Context, data []byte, attempt int, final bool) error

// ConsumeOpts configures one durable consumer.
type ConsumeOpts struct {
	Stream      string
	Subject     string
	Durable     string
	MaxAttempts int           // 0 means a single delivery
	JobTimeout  time.Duration // wall-clock limit per delivery; an overrun consumes an attempt
}

// Consume binds a durable pull consumer and processes messages one at a
// time until ctx is cancelled. A nil handler error acks the message; an
// error NAKs it with the backoff delay, or terminates it on the final
// attempt.
func (q *Queue) Consume(ctx context.Context, opts ConsumeOpts, handler Handler) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	sub, err := q.js.PullSubscribe(opts.Subject, opts.Durable,
		nats.BindStream(opts.Stream),
		nats.ManualAck(),
		nats.MaxDeliver(maxAttempts),
		nats.AckWait(2*opts.jobTimeout()),
	)
	if err != nil {
		return err
	}

	go q.consumeLoop(ctx, sub, opts, handler, maxAttempts)
	return nil
}

func (q *Queue) consumeLoop(ctx context.Context, sub *nats.Subscription, opts ConsumeOpts, handler Handler, maxAttempts int) {
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			q.logger.Warn("unsubscribe failed", "durable", opts.Durable, "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Fetch times out when the queue is idle; anything else is
			// worth a log line before retrying.
			if !isIdleFetchErr(err) {
				q.logger.Warn("fetch failed", "durable", opts.Durable, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		q.handleMsg(ctx, msgs[0], opts, handler, maxAttempts)
	}
}

func (q *Queue) handleMsg(ctx context.Context, msg *nats.Msg, opts ConsumeOpts, handler Handler, maxAttempts int) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}
	final := attempt >= maxAttempts

	jobCtx, cancel := context.WithTimeout(ctx, opts.jobTimeout())
	err := handler(jobCtx, msg.Data, attempt, final)
	cancel()

	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Warn("ack failed", "durable", opts.Durable, "error", ackErr)
		}
	case final:
		q.logger.Error("job failed terminally",
			"durable", opts.Durable, "attempt", attempt, "error", err)
		if termErr := msg.Term(); termErr != nil {
			q.logger.Warn("term failed", "durable", opts.Durable, "error", termErr)
		}
	default:
		delay := RetryDelay(attempt)
		q.logger.Warn("job failed, scheduling retry",
			"durable", opts.Durable, "attempt", attempt, "delay", delay, "error", err)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			q.logger.Warn("nak failed", "durable", opts.Durable, "error", nakErr)
		}
	}
}

// isIdleFetchErr reports whether a fetch error just means the queue was
// empty for the poll window. Timeouts come back wrapped on some client
// paths, so plain equality is not enough.
func isIdleFetchErr(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func (o ConsumeOpts) jobTimeout() time.Duration {
	if o.JobTimeout > 0 {
		return o.JobTimeout
	}
	return 2 * time.Minute
}
