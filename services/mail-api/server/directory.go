package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/pkg/logx"
)

func (h *Handlers) ListGroups(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	groups, err := h.Store.ListGroups(ctx, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handlers) CreateGroup(c *gin.Context) {
	var req groupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	g, err := h.Store.CreateGroup(ctx, auth.UserID(c), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	logx.L().Infow("group_created", "group_id", g.ID, "user_id", g.UserID)
	c.JSON(http.StatusCreated, g)
}

func (h *Handlers) GetGroup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	g, ok := h.ownedGroup(ctx, c)
	if !ok {
		return
	}
	contacts, err := h.Store.ListContacts(ctx, g.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if contacts == nil {
		contacts = []mailing.Contact{}
	}
	c.JSON(http.StatusOK, groupDetail{Group: g, Contacts: contacts})
}

func (h *Handlers) DeleteGroup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	g, ok := h.ownedGroup(ctx, c)
	if !ok {
		return
	}
	if err := h.Store.DeleteGroup(ctx, g.ID); err != nil {
		writeError(c, err)
		return
	}
	logx.L().Infow("group_deleted", "group_id", g.ID, "user_id", g.UserID)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListContacts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	g, ok := h.ownedGroup(ctx, c)
	if !ok {
		return
	}
	contacts, err := h.Store.ListContacts(ctx, g.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if contacts == nil {
		contacts = []mailing.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *Handlers) AddContact(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	g, ok := h.ownedGroup(ctx, c)
	if !ok {
		return
	}
	var req contactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	ct, err := h.Store.AddContact(ctx, g.ID, mailing.Contact{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if errors.Is(err, mailing.ErrDuplicate) {
		writeError(c, mailing.Invalid("email", "a contact with this email already exists in this group"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ct)
}

func (h *Handlers) DeleteContact(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	g, ok := h.ownedGroup(ctx, c)
	if !ok {
		return
	}
	cid, ok := pathID(c, "cid")
	if !ok {
		return
	}
	if err := h.Store.DeleteContact(ctx, g.ID, cid); err != nil {
		writeError(c, mailing.Lookup(err, "contact", cid))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListTemplates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ts, err := h.Store.ListTemplates(ctx, auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req templateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	if err := h.Templates.Check(req.Body); err != nil {
		writeError(c, mailing.Invalid("body", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, err := h.Store.CreateTemplate(ctx, mailing.Template{
		UserID:  auth.UserID(c),
		Name:    req.Name,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if errors.Is(err, mailing.ErrDuplicate) {
		writeError(c, mailing.Invalid("name", "you already have a template with this name"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handlers) GetTemplate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, ok := h.ownedTemplate(ctx, c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) UpdateTemplate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, ok := h.ownedTemplate(ctx, c)
	if !ok {
		return
	}
	var req templatePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Subject != nil {
		t.Subject = *req.Subject
	}
	if req.Body != nil {
		if err := h.Templates.Check(*req.Body); err != nil {
			writeError(c, mailing.Invalid("body", err.Error()))
			return
		}
		t.Body = *req.Body
	}
	t, err := h.Store.UpdateTemplate(ctx, t)
	if errors.Is(err, mailing.ErrDuplicate) {
		writeError(c, mailing.Invalid("name", "you already have a template with this name"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) DeleteTemplate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, ok := h.ownedTemplate(ctx, c)
	if !ok {
		return
	}
	if err := h.Store.DeleteTemplate(ctx, t.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
