package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/internal/mailing"
)

// dispatch runs the validator and pipeline for one request and writes the
// response with status on success.
func (h *Handlers) dispatch(c *gin.Context, raw mailing.RawRequest, status int, msg string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	req, err := h.Validator.Validate(ctx, auth.UserID(c), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.Pipeline.Dispatch(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, sendResp{
		Message:   msg,
		Accepted:  res.Accepted,
		SessionID: res.Session.ID,
		Trigger:   res.Trigger,
	})
}

func (h *Handlers) SendNow(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	h.dispatch(c, mailing.RawRequest{
		Mode:       mailing.ModeNow,
		Session:    req.Session,
		TemplateID: req.TemplateID,
		Inline:     req.Template,
		GroupID:    req.GroupID,
	}, http.StatusOK, "Emails sent successfully")
}

func (h *Handlers) Schedule(c *gin.Context) {
	var req scheduleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	h.dispatch(c, mailing.RawRequest{
		Mode:         mailing.ModeOnce,
		Session:      req.Session,
		TemplateID:   req.TemplateID,
		GroupID:      req.GroupID,
		ScheduleTime: req.ScheduleTime,
	}, http.StatusCreated, "Emails scheduled successfully")
}

func (h *Handlers) ScheduleRecurring(c *gin.Context) {
	var req recurringReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	h.dispatch(c, mailing.RawRequest{
		Mode:        mailing.ModeRecurring,
		Session:     req.Session,
		TemplateID:  req.TemplateID,
		GroupID:     req.GroupID,
		Granularity: req.Granularity,
		Interval:    req.Interval,
		Time:        req.Time,
		Starts:      req.Starts,
		Ends:        req.Ends,
	}, http.StatusCreated, "Recurring emails scheduled successfully")
}

func (h *Handlers) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	sessions, err := h.Store.ListSessions(ctx, auth.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handlers) ListSchedules(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	triggers, err := h.Store.ListTriggers(ctx, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, triggers)
}

// CancelSchedule stops future fires. Jobs already queued still go out.
func (h *Handlers) CancelSchedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.DeleteTrigger(ctx, auth.UserID(c), id); err != nil {
		writeError(c, mailing.Lookup(err, "schedule", id))
		return
	}
	c.Status(http.StatusNoContent)
}
