package server

import "github.com/Mutter0815/liftsmail/internal/mailing"

type groupReq struct {
	Name string `json:"name" binding:"required,max=255"`
}

type groupDetail struct {
	mailing.Group
	Contacts []mailing.Contact `json:"contacts"`
}

type contactReq struct {
	FirstName string `json:"first_name" binding:"max=255"`
	LastName  string `json:"last_name" binding:"max=255"`
	Email     string `json:"email" binding:"required,email,max=254"`
}

type templateReq struct {
	Name    string `json:"name" binding:"required,max=255"`
	Subject string `json:"subject" binding:"required,max=255"`
	Body    string `json:"body" binding:"required"`
}

// templatePatch updates only the fields present in the body.
type templatePatch struct {
	Name    *string `json:"name" binding:"omitempty,min=1,max=255"`
	Subject *string `json:"subject" binding:"omitempty,min=1,max=255"`
	Body    *string `json:"body" binding:"omitempty,min=1"`
}

// sendReq may name a stored template or carry one inline.
type sendReq struct {
	Session    string                  `json:"session"`
	GroupID    *int64                  `json:"group_id"`
	TemplateID *int64                  `json:"template_id"`
	Template   *mailing.InlineTemplate `json:"template"`
}

type scheduleReq struct {
	Session      string `json:"session"`
	GroupID      *int64 `json:"group_id"`
	TemplateID   *int64 `json:"template_id"`
	ScheduleTime string `json:"schedule_time"`
}

type recurringReq struct {
	Session     string `json:"session"`
	GroupID     *int64 `json:"group_id"`
	TemplateID  *int64 `json:"template_id"`
	Granularity string `json:"granularity"`
	Interval    *int   `json:"interval"`
	Time        string `json:"time"`
	Starts      string `json:"starts"`
	Ends        string `json:"ends"`
}

type sendResp struct {
	Message   string           `json:"message"`
	Accepted  int              `json:"accepted"`
	SessionID int64            `json:"session_id"`
	Trigger   *mailing.Trigger `json:"trigger,omitempty"`
}
