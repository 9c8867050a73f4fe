package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
	"github.com/Mutter0815/liftsmail/pkg/model"
)

// Mode selects how an immediate send leaves the request path.
type Mode string

const (
	ModeQueued Mode = "queued"
	ModeInline Mode = "inline"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeQueued, ModeInline:
		return m, nil
	case "":
		return ModeQueued, nil
	}
	return "", fmt.Errorf("unknown transport mode %q", s)
}

// Sink accepts one dispatch job. An error means the job was not accepted;
// delivery failures after acceptance are never returned.
type Sink interface {
	Submit(ctx context.Context, job model.SendJob) error
}

type publisher interface {
	PublishJSONWithHeaders(ctx context.Context, body []byte, headers amqp.Table) error
}

// HeaderSessionID lets consumers attribute a message whose body they cannot
// decode.
const HeaderSessionID = "x-session-id"

// QueueSink publishes jobs for the sender worker.
type QueueSink struct {
	pub     publisher
	timeout time.Duration
}

func NewQueueSink(pub publisher) *QueueSink {
	return &QueueSink{pub: pub, timeout: 5 * time.Second}
}

func (s *QueueSink) Submit(ctx context.Context, job model.SendJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	headers := amqp.Table{HeaderSessionID: job.SessionID}
	if err := s.pub.PublishJSONWithHeaders(ctx, payload, headers); err != nil {
		return err
	}
	metrics.PublishedJobsTotal.Inc()
	return nil
}

// InlineSink sends on the caller's goroutine. Failures are logged and
// counted, never returned.
type InlineSink struct {
	mailer Mailer
}

func NewInlineSink(m Mailer) *InlineSink {
	return &InlineSink{mailer: m}
}

func (s *InlineSink) Submit(ctx context.Context, job model.SendJob) error {
	err := s.mailer.Send(ctx, Message{To: job.Address, Subject: job.Subject, HTML: job.Body})
	if err != nil {
		metrics.InlineSendsTotal.WithLabelValues("failed").Inc()
		logx.L().Warnw("inline_send_failed",
			"session_id", job.SessionID,
			"contact_id", job.ContactID,
			"address", logx.RedactEmail(job.Address),
			"error", err,
		)
		return nil
	}
	metrics.InlineSendsTotal.WithLabelValues("sent").Inc()
	return nil
}

// NewSink builds the sink for mode. pub may be nil for inline mode and
// mailer may be nil for queued mode.
func NewSink(mode Mode, pub publisher, mailer Mailer) (Sink, error) {
	switch mode {
	case ModeQueued:
		if pub == nil {
			return nil, fmt.Errorf("queued transport needs a publisher")
		}
		return NewQueueSink(pub), nil
	case ModeInline:
		if mailer == nil {
			return nil, fmt.Errorf("inline transport needs a mailer")
		}
		return NewInlineSink(mailer), nil
	}
	return nil, fmt.Errorf("unknown transport mode %q", mode)
}
