package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrTicketNotFound), errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrTicketClosed):
		return http.StatusGone
	case errors.Is(err, errs.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds {"error": msg}. On 5xx the client only sees fallback and
// the cause is logged.
func writeError(c *gin.Context, log *slog.Logger, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(fallback, "error", err, "path", c.FullPath(), "request_id", c.GetString(RequestIDKey))
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	if status == http.StatusConflict {
		c.JSON(status, gin.H{"error": "Ticket was modified concurrently, please retry"})
		return
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}

// publicMessage turns "forbidden: admin only" into "Admin only".
func publicMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{errs.ErrValidation, errs.ErrUnauthorized, errs.ErrForbidden, errs.ErrLocked} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			msg = rest
			break
		}
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
