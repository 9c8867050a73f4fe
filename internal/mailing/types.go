// Package mailing holds the send/schedule core: request validation and the
// bulk dispatch pipeline that turns one (template, group) pair into one job
// per contact or into a single stored trigger.
package mailing

import (
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/liftsmail/internal/recurrence"
	"github.com/Mutter0815/liftsmail/pkg/model"
)

type Mode string

const (
	ModeNow       Mode = "now"
	ModeOnce      Mode = "once"
	ModeRecurring Mode = "recurring"
)

// TaskSendBulk is the task name stored on every periodic trigger.
const TaskSendBulk = "mailing.send_bulk"

type Contact struct {
	ID        int64  `json:"id"`
	GroupID   int64  `json:"group_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type Group struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Template struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailSession is the audit row written once per accepted request.
type EmailSession struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Session      string     `json:"session"`
	GroupID      int64      `json:"group_id"`
	TemplateID   *int64     `json:"template_id"`
	Mode         Mode       `json:"mode"`
	OneOff       bool       `json:"one_off"`
	ScheduleTime *time.Time `json:"schedule_time"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DispatchJob is one rendered, addressed email. It is also the queue message.
type DispatchJob = model.SendJob

// TriggerPayload is frozen when the trigger is created: later changes to the
// group or template do not reach future fires.
type TriggerPayload struct {
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Contacts []Contact `json:"contacts"`
}

// Trigger is a Scheduler Backend row.
type Trigger struct {
	ID            int64                  `json:"id"`
	Name          string                 `json:"name"`
	Task          string                 `json:"task"`
	Spec          recurrence.TriggerSpec `json:"spec"`
	Payload       TriggerPayload         `json:"-"`
	OneOff        bool                   `json:"one_off"`
	Enabled       bool                   `json:"enabled"`
	StartTime     *time.Time             `json:"start_time"`
	Expires       *time.Time             `json:"expires"`
	LastRunAt     *time.Time             `json:"last_run_at"`
	TotalRunCount int                    `json:"total_run_count"`
	SessionID     int64                  `json:"session_id"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Env carries the ambient inputs a pipeline call may depend on.
type Env struct {
	Now   func() time.Time
	NewID func() string
}

func DefaultEnv() Env {
	return Env{Now: time.Now, NewID: uuid.NewString}
}
