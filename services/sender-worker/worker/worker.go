package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/Mutter0815/liftsmail/internal/transport"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
	"github.com/Mutter0815/liftsmail/pkg/model"
)

const sendTimeout = 15 * time.Second

type consumer interface {
	Consume() (<-chan amqp.Delivery, error)
}

// Worker delivers one SendJob per queue message. Every message is acked
// once handled, whether or not delivery succeeded.
type Worker struct {
	Cons    consumer
	Mailer  transport.Mailer
	Limiter *rate.Limiter
}

func New(cons consumer, m transport.Mailer, lim *rate.Limiter) *Worker {
	return &Worker{Cons: cons, Mailer: m, Limiter: lim}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Cons.Consume()
	if err != nil {
		return err
	}
	logx.L().Infow("worker_started")

	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("worker_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed")
				return nil
			}
			if err := w.handle(ctx, d); err != nil {
				// only a cancelled throttle wait gets here; the message goes back
				_ = d.Nack(false, true)
				return err
			}
			_ = d.Ack(false)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) error {
	start := time.Now()
	metrics.WorkerJobsConsumed.Inc()
	defer func() { metrics.WorkerProcessDuration.Observe(time.Since(start).Seconds()) }()

	var job model.SendJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		logx.L().Warnw("job_unmarshal_error", "session_id", d.Headers[transport.HeaderSessionID], "error", err)
		return nil
	}
	fields := []any{
		"session_id", job.SessionID,
		"contact_id", job.ContactID,
		"address", logx.RedactEmail(job.Address),
	}
	if strings.TrimSpace(job.Address) == "" {
		logx.L().Warnw("job_invalid", append(fields, "reason", "empty address")...)
		return nil
	}

	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	err := w.Mailer.Send(sctx, transport.Message{To: job.Address, Subject: job.Subject, HTML: job.Body})
	if err != nil {
		metrics.WorkerJobsFailed.Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			fields = append(fields, "timeout", sendTimeout.String())
		}
		logx.L().Infow("send_failed", append(fields, "error", err)...)
		return nil
	}

	metrics.WorkerJobsSent.Inc()
	logx.L().Infow("send_success", fields...)
	return nil
}
