package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/pkg/apperror"
)

// RequestIDKey is where the request logger stores the request id.
const RequestIDKey = "request_id"

// respondError writes {success:false,error} using the AppError status, or a
// logged 500 for anything unexpected.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	if appErr, ok := apperror.As(err); ok && appErr.Code != apperror.CodeInternal {
		c.JSON(appErr.Status(), gin.H{"success": false, "error": appErr.Message})
		return
	}

	log.WithError(err).WithFields(logrus.Fields{
		"request_id": c.GetString(RequestIDKey),
		"method":     c.Request.Method,
		"path":       c.FullPath(),
	}).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
