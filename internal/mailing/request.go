package mailing

import (
	"time"

	"github.com/Mutter0815/liftsmail/internal/recurrence"
)

// InlineTemplate lets a send-now request carry its own subject and body.
type InlineTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RawRequest is what the HTTP layer hands over, unchecked.
type RawRequest struct {
	Mode         Mode
	Session      string
	TemplateID   *int64
	Inline       *InlineTemplate
	GroupID      *int64
	ScheduleTime string
	Granularity  string
	Interval     *int
	Time         string
	Starts       string
	Ends         string
}

// SendRequest is one of NowRequest, OnceRequest or RecurringRequest.
type SendRequest interface {
	Mode() Mode
	Base() Common
	isSendRequest()
}

// Common is shared by every validated request. Contacts is the group
// snapshot taken during validation.
type Common struct {
	UserID   int64
	Session  string
	Template Template
	Group    Group
	Contacts []Contact
}

func (c Common) Base() Common { return c }
func (Common) isSendRequest() {}

type NowRequest struct {
	Common
}

func (NowRequest) Mode() Mode { return ModeNow }

type OnceRequest struct {
	Common
	At time.Time
}

func (OnceRequest) Mode() Mode { return ModeOnce }

type RecurringRequest struct {
	Common
	Recurrence recurrence.Spec
}

func (RecurringRequest) Mode() Mode { return ModeRecurring }
