package mailing

import (
	"context"
	"fmt"
	"time"

	"github.com/Mutter0815/liftsmail/internal/recurrence"
	"github.com/Mutter0815/liftsmail/internal/render"
	"github.com/Mutter0815/liftsmail/internal/transport"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
)

const guestName = "Guest"

// Ledger persists what an accepted request leaves behind.
type Ledger interface {
	RecordSession(ctx context.Context, s EmailSession) (EmailSession, error)
	// RecordScheduled writes the session and its trigger in one transaction.
	RecordScheduled(ctx context.Context, s EmailSession, t Trigger) (EmailSession, Trigger, error)
}

type Renderer interface {
	Render(body string, c render.Context) (string, error)
}

// Result is the aggregate outcome of one accepted request.
type Result struct {
	Accepted int          `json:"accepted"`
	Session  EmailSession `json:"session"`
	Trigger  *Trigger     `json:"trigger,omitempty"`
}

type Pipeline struct {
	renderer Renderer
	compiler *recurrence.Compiler
	sink     transport.Sink
	ledger   Ledger
	env      Env
}

func NewPipeline(r Renderer, c *recurrence.Compiler, sink transport.Sink, ledger Ledger, env Env) *Pipeline {
	return &Pipeline{renderer: r, compiler: c, sink: sink, ledger: ledger, env: env}
}

// Dispatch accepts a validated request. Every job is rendered before the
// session row is written, so a template that fails to render leaves nothing
// behind. Delivery is not part of acceptance.
func (p *Pipeline) Dispatch(ctx context.Context, req SendRequest) (Result, error) {
	base := req.Base()
	jobs, err := p.Expand(0, base.Template.Subject, base.Template.Body, base.Contacts)
	if err != nil {
		return Result{}, err
	}

	session := EmailSession{
		UserID:  base.UserID,
		Session: base.Session,
		GroupID: base.Group.ID,
		Mode:    req.Mode(),
	}
	if base.Template.ID != 0 {
		id := base.Template.ID
		session.TemplateID = &id
	}

	var res Result
	switch r := req.(type) {
	case NowRequest:
		res, err = p.sendNow(ctx, session, jobs)
	case OnceRequest:
		at := r.At
		session.OneOff = true
		session.ScheduleTime = &at
		trig := p.newTrigger(base, p.compiler.CompileOnce(at))
		trig.OneOff = true
		start := at.Truncate(time.Minute)
		trig.StartTime = &start
		res, err = p.schedule(ctx, session, trig, len(jobs))
	case RecurringRequest:
		spec, cerr := p.compiler.CompileSpec(r.Recurrence)
		if cerr != nil {
			return Result{}, Invalid("granularity", cerr.Error())
		}
		first := r.Recurrence.FirstRun()
		session.ScheduleTime = &first
		trig := p.newTrigger(base, spec)
		trig.StartTime = &first
		if r.Recurrence.End != nil {
			// ends is inclusive: the trigger lapses at the following midnight.
			exp := r.Recurrence.End.AddDate(0, 0, 1)
			trig.Expires = &exp
		}
		res, err = p.schedule(ctx, session, trig, len(jobs))
		if err == nil {
			metrics.TriggersCreated.WithLabelValues(string(r.Recurrence.Granularity)).Inc()
		}
	default:
		return Result{}, Invalid("mode", fmt.Sprintf("unsupported request %T", req))
	}
	if err != nil {
		return res, err
	}
	metrics.SessionsAccepted.WithLabelValues(string(req.Mode())).Inc()
	return res, nil
}

func (p *Pipeline) sendNow(ctx context.Context, session EmailSession, jobs []DispatchJob) (Result, error) {
	session, err := p.ledger.RecordSession(ctx, session)
	if err != nil {
		return Result{}, fmt.Errorf("record session: %w", err)
	}
	res := Result{Session: session}
	for _, job := range jobs {
		job.SessionID = session.ID
		if err := p.sink.Submit(ctx, job); err != nil {
			logx.L().Errorw("submit_job_error",
				"session_id", session.ID,
				"contact_id", job.ContactID,
				"error", err,
			)
			return res, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		res.Accepted++
	}
	logx.L().Infow("send_now_accepted", "session_id", session.ID, "jobs", res.Accepted)
	return res, nil
}

func (p *Pipeline) newTrigger(base Common, spec recurrence.TriggerSpec) Trigger {
	return Trigger{
		Name:    fmt.Sprintf("mail_%d_%s", base.UserID, p.env.NewID()),
		Task:    TaskSendBulk,
		Spec:    spec,
		Enabled: true,
		Payload: TriggerPayload{
			Subject:  base.Template.Subject,
			Body:     base.Template.Body,
			Contacts: base.Contacts,
		},
	}
}

func (p *Pipeline) schedule(ctx context.Context, session EmailSession, trig Trigger, n int) (Result, error) {
	name := trig.Name
	session, trig, err := p.ledger.RecordScheduled(ctx, session, trig)
	if err != nil {
		logx.L().Errorw("record_trigger_error", "trigger", name, "error", err)
		return Result{}, &SchedulerBackendError{Err: err}
	}
	logx.L().Infow("trigger_created",
		"session_id", session.ID,
		"trigger", trig.Name,
		"cron", trig.Spec.Expression(),
		"tz", trig.Spec.Timezone,
		"one_off", trig.OneOff,
		"contacts", n,
	)
	return Result{Accepted: n, Session: session, Trigger: &trig}, nil
}

// Expand renders one job per contact. Missing names fall back to "Guest".
func (p *Pipeline) Expand(sessionID int64, subject, body string, contacts []Contact) ([]DispatchJob, error) {
	jobs := make([]DispatchJob, 0, len(contacts))
	for _, c := range contacts {
		rc := render.Context{
			FirstName: orGuest(c.FirstName),
			LastName:  orGuest(c.LastName),
			Email:     c.Email,
			ContactID: c.ID,
		}
		out, err := p.renderer.Render(body, rc)
		if err != nil {
			return nil, Invalid("template", err.Error())
		}
		jobs = append(jobs, DispatchJob{
			SessionID: sessionID,
			ContactID: c.ID,
			Address:   c.Email,
			Subject:   subject,
			Body:      out,
		})
	}
	return jobs, nil
}

// Fire re-enters the pipeline for a stored trigger, rendering the frozen
// payload and submitting every job. It returns how many were accepted.
func (p *Pipeline) Fire(ctx context.Context, sessionID int64, payload TriggerPayload) (int, error) {
	jobs, err := p.Expand(sessionID, payload.Subject, payload.Body, payload.Contacts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if err := p.sink.Submit(ctx, job); err != nil {
			return n, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		n++
	}
	return n, nil
}

func orGuest(s string) string {
	if s == "" {
		return guestName
	}
	return s
}
