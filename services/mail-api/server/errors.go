package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/pkg/logx"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// bindError turns a gin binding failure into a field-tagged validation error.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return mailing.Invalid(fe.Field(), fe.Field()+" is required")
		case "email":
			return mailing.Invalid(fe.Field(), "enter a valid email address")
		case "max", "min":
			return mailing.Invalid(fe.Field(), fmt.Sprintf("length must satisfy %s=%s", fe.Tag(), fe.Param()))
		}
		return mailing.Invalid(fe.Field(), "invalid value")
	}
	return mailing.Invalid("body", "malformed JSON body")
}

// writeError is the single place domain errors become HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		ve *mailing.ValidationError
		ae *mailing.AuthorizationError
		nf *mailing.NotFoundError
		se *mailing.SchedulerBackendError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.As(err, &ae):
		c.JSON(http.StatusForbidden, gin.H{"error": "you do not have permission to use this " + ae.Resource})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Resource + " not found"})
	case errors.Is(err, mailing.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &se):
		logx.L().Errorw("scheduler_backend_error", "rid", c.GetString("request_id"), "error", se.Err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not schedule emails: " + se.Err.Error()})
	case errors.Is(err, mailing.ErrQueueUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue unavailable"})
	default:
		logx.L().Errorw("request_error",
			"rid", c.GetString("request_id"),
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
