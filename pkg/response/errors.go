package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/backend/internal/models"
)

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, models.ErrChannel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error sends the status StatusFor(err) picks. Internal errors are not echoed to the client.
func Error(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	Fail(c, status, msg)
}
