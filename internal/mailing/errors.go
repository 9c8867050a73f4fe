package mailing

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrDuplicate        = errors.New("record already exists")
	ErrQueueUnavailable = errors.New("queue unavailable")
)

// ValidationError is a user-input failure tied to one request field.
type ValidationError struct {
	Field   string
	Message string
}

func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type AuthorizationError struct {
	Resource string
	ID       int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %d: not owned by requester", e.Resource, e.ID)
}

type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d: not found", e.Resource, e.ID)
}

// SchedulerBackendError wraps a failed trigger insert.
type SchedulerBackendError struct {
	Err error
}

func (e *SchedulerBackendError) Error() string {
	return "scheduler backend: " + e.Err.Error()
}

func (e *SchedulerBackendError) Unwrap() error { return e.Err }

// Authorize fails unless owner is the requesting user.
func Authorize(owner, user int64, resource string, id int64) error {
	if owner != user {
		return &AuthorizationError{Resource: resource, ID: id}
	}
	return nil
}

// Lookup maps a store miss onto NotFoundError and passes other errors through.
func Lookup(err error, resource string, id int64) error {
	if errors.Is(err, ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}
