package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/liftsmail/docs"
	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers, v auth.Verifier) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs", serveDocsHTML)
	r.GET("/docs/mail-api/openapi.yaml", serveOpenAPI)

	api := r.Group("/api/v1", auth.Required(v))

	groups := api.Group("/groups")
	groups.GET("", h.ListGroups)
	groups.POST("", h.CreateGroup)
	groups.GET("/:id", h.GetGroup)
	groups.DELETE("/:id", h.DeleteGroup)
	groups.GET("/:id/contacts", h.ListContacts)
	groups.POST("/:id/contacts", h.AddContact)
	groups.DELETE("/:id/contacts/:cid", h.DeleteContact)

	email := api.Group("/email")
	email.GET("/templates", h.ListTemplates)
	email.POST("/templates", h.CreateTemplate)
	email.GET("/templates/:id", h.GetTemplate)
	email.PATCH("/templates/:id", h.UpdateTemplate)
	email.DELETE("/templates/:id", h.DeleteTemplate)

	email.POST("/send", h.SendNow)
	email.POST("/schedule", h.Schedule)
	email.POST("/schedule/recurring", h.ScheduleRecurring)
	email.GET("/sessions", h.ListSessions)
	email.GET("/schedules", h.ListSchedules)
	email.DELETE("/schedules/:id", h.CancelSchedule)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}

func serveDocsHTML(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", docs.SwaggerHTML)
}

func serveOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", docs.MailAPIOpenAPI)
}
