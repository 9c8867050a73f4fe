package mailing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Mutter0815/liftsmail/internal/recurrence"
)

// Directory resolves the references a request names.
type Directory interface {
	GetTemplate(ctx context.Context, id int64) (Template, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListContacts(ctx context.Context, groupID int64) ([]Contact, error)
}

type Validator struct {
	dir Directory
	loc *time.Location
	env Env
}

func NewValidator(dir Directory, loc *time.Location, env Env) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{dir: dir, loc: loc, env: env}
}

// Validate checks session, template, schedule and group in that order and
// stops at the first failure. Group ownership is checked before its contacts
// are counted, so a non-owner never learns whether a group is empty.
func (v *Validator) Validate(ctx context.Context, userID int64, raw RawRequest) (SendRequest, error) {
	switch raw.Mode {
	case ModeNow, ModeOnce, ModeRecurring:
	default:
		return nil, Invalid("mode", "unknown send mode")
	}

	session := strings.TrimSpace(raw.Session)
	if session == "" {
		return nil, Invalid("session", "session is required")
	}

	tpl, err := v.template(ctx, userID, raw)
	if err != nil {
		return nil, err
	}

	var (
		at  time.Time
		rec recurrence.Spec
	)
	switch raw.Mode {
	case ModeOnce:
		if at, err = v.scheduleTime(raw.ScheduleTime); err != nil {
			return nil, err
		}
	case ModeRecurring:
		if rec, err = v.recurrence(raw); err != nil {
			return nil, err
		}
	}

	group, contacts, err := v.group(ctx, userID, raw.GroupID)
	if err != nil {
		return nil, err
	}

	base := Common{UserID: userID, Session: session, Template: tpl, Group: group, Contacts: contacts}
	switch raw.Mode {
	case ModeOnce:
		return OnceRequest{Common: base, At: at}, nil
	case ModeRecurring:
		return RecurringRequest{Common: base, Recurrence: rec}, nil
	}
	return NowRequest{Common: base}, nil
}

func (v *Validator) template(ctx context.Context, userID int64, raw RawRequest) (Template, error) {
	if raw.TemplateID == nil {
		if raw.Mode == ModeNow && raw.Inline != nil {
			if strings.TrimSpace(raw.Inline.Subject) == "" || strings.TrimSpace(raw.Inline.Body) == "" {
				return Template{}, Invalid("template", "template subject and body are required")
			}
			return Template{UserID: userID, Subject: raw.Inline.Subject, Body: raw.Inline.Body}, nil
		}
		return Template{}, Invalid("template", "template is required")
	}
	id := *raw.TemplateID
	tpl, err := v.dir.GetTemplate(ctx, id)
	if err != nil {
		return Template{}, Lookup(err, "template", id)
	}
	if err := Authorize(tpl.UserID, userID, "template", id); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (v *Validator) scheduleTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, Invalid("schedule_time", "you need to set schedule time")
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, Invalid("schedule_time", "schedule time must be RFC3339")
	}
	if !at.After(v.env.Now()) {
		return time.Time{}, Invalid("schedule_time", "schedule time must be in the future")
	}
	return at.In(v.loc), nil
}

func (v *Validator) recurrence(raw RawRequest) (recurrence.Spec, error) {
	g, err := recurrence.ParseGranularity(raw.Granularity)
	if err != nil {
		return recurrence.Spec{}, Invalid("granularity", err.Error())
	}
	// omitted means every period
	interval := 1
	if raw.Interval != nil {
		interval = *raw.Interval
	}
	if interval < 1 {
		return recurrence.Spec{}, Invalid("interval", recurrence.ErrInterval.Error())
	}
	at, err := recurrence.ParseTimeOfDay(raw.Time)
	if err != nil {
		return recurrence.Spec{}, Invalid("time", err.Error())
	}
	if strings.TrimSpace(raw.Starts) == "" {
		return recurrence.Spec{}, Invalid("starts", "starts is required")
	}
	start, err := recurrence.ParseDate(raw.Starts, v.loc)
	if err != nil {
		return recurrence.Spec{}, Invalid("starts", err.Error())
	}
	spec := recurrence.Spec{Granularity: g, Interval: interval, At: at, Start: start}
	if strings.TrimSpace(raw.Ends) != "" {
		end, err := recurrence.ParseDate(raw.Ends, v.loc)
		if err != nil {
			return recurrence.Spec{}, Invalid("ends", err.Error())
		}
		spec.End = &end
	}
	if err := spec.Validate(); err != nil {
		if errors.Is(err, recurrence.ErrEndsBefore) {
			return recurrence.Spec{}, Invalid("ends", err.Error())
		}
		return recurrence.Spec{}, Invalid("recurrence", err.Error())
	}
	return spec, nil
}

func (v *Validator) group(ctx context.Context, userID int64, id *int64) (Group, []Contact, error) {
	if id == nil {
		return Group{}, nil, Invalid("group", "group is required")
	}
	g, err := v.dir.GetGroup(ctx, *id)
	if err != nil {
		return Group{}, nil, Lookup(err, "group", *id)
	}
	if err := Authorize(g.UserID, userID, "group", *id); err != nil {
		return Group{}, nil, err
	}
	contacts, err := v.dir.ListContacts(ctx, g.ID)
	if err != nil {
		return Group{}, nil, err
	}
	if len(contacts) == 0 {
		return Group{}, nil, Invalid("group", "This group has no contacts")
	}
	return g, contacts, nil
}
