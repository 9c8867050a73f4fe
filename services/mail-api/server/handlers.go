package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/internal/render"
	"github.com/Mutter0815/liftsmail/internal/store"
)

type storeAPI interface {
	Ping(ctx context.Context) error

	CreateGroup(ctx context.Context, userID int64, name string) (mailing.Group, error)
	GetGroup(ctx context.Context, id int64) (mailing.Group, error)
	ListGroups(ctx context.Context, userID int64) ([]mailing.Group, error)
	DeleteGroup(ctx context.Context, id int64) error
	AddContact(ctx context.Context, groupID int64, c mailing.Contact) (mailing.Contact, error)
	ListContacts(ctx context.Context, groupID int64) ([]mailing.Contact, error)
	DeleteContact(ctx context.Context, groupID, contactID int64) error

	CreateTemplate(ctx context.Context, t mailing.Template) (mailing.Template, error)
	GetTemplate(ctx context.Context, id int64) (mailing.Template, error)
	ListTemplates(ctx context.Context, userID int64) ([]mailing.Template, error)
	UpdateTemplate(ctx context.Context, t mailing.Template) (mailing.Template, error)
	DeleteTemplate(ctx context.Context, id int64) error

	ListSessions(ctx context.Context, userID int64, limit, offset int) ([]mailing.EmailSession, error)
	ListTriggers(ctx context.Context, userID int64) ([]mailing.Trigger, error)
	DeleteTrigger(ctx context.Context, userID, id int64) error
}

type validatorAPI interface {
	Validate(ctx context.Context, userID int64, raw mailing.RawRequest) (mailing.SendRequest, error)
}

type pipelineAPI interface {
	Dispatch(ctx context.Context, req mailing.SendRequest) (mailing.Result, error)
}

type templateChecker interface {
	Check(body string) error
}

type Handlers struct {
	Store     storeAPI
	Validator validatorAPI
	Pipeline  pipelineAPI
	Templates templateChecker
}

func NewHandlers(s *store.Store, v *mailing.Validator, p *mailing.Pipeline, r *render.Renderer) *Handlers {
	return &Handlers{Store: s, Validator: v, Pipeline: p, Templates: r}
}

func (h *Handlers) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		c.String(http.StatusServiceUnavailable, "db unavailable")
		return
	}
	c.String(http.StatusOK, "ok")
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// ownedGroup loads the group named by :id and checks the caller owns it.
func (h *Handlers) ownedGroup(ctx context.Context, c *gin.Context) (mailing.Group, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return mailing.Group{}, false
	}
	g, err := h.Store.GetGroup(ctx, id)
	if err != nil {
		writeError(c, mailing.Lookup(err, "group", id))
		return mailing.Group{}, false
	}
	if err := mailing.Authorize(g.UserID, auth.UserID(c), "group", id); err != nil {
		writeError(c, err)
		return mailing.Group{}, false
	}
	return g, true
}

func (h *Handlers) ownedTemplate(ctx context.Context, c *gin.Context) (mailing.Template, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return mailing.Template{}, false
	}
	t, err := h.Store.GetTemplate(ctx, id)
	if err != nil {
		writeError(c, mailing.Lookup(err, "template", id))
		return mailing.Template{}, false
	}
	if err := mailing.Authorize(t.UserID, auth.UserID(c), "template", id); err != nil {
		writeError(c, err)
		return mailing.Template{}, false
	}
	return t, true
}
