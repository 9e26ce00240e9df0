package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/credential"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

const (
	HeaderAdminKey = "x-admin-key"
	HeaderStaffKey = "x-staff-key"
	HeaderUsername = "username"
	HeaderPassword = "password"

	RequestIDKey = "request_id"
)

// TokenVerifier checks a staff bearer token.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Secrets are the shared keys that grant staff and admin capability. Tokens,
// when set, also admits per-identity bearer tokens.
type Secrets struct {
	Admin  string
	Staff  string
	Tokens TokenVerifier
}

// callerFrom resolves the capability of the request. A valid bearer token
// wins; a wrong key or token is the same as none.
func (s Secrets) callerFrom(c *gin.Context) service.Caller {
	if s.Tokens != nil {
		if raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && raw != "" {
			if id, err := s.Tokens.Verify(raw); err == nil {
				return service.Caller{Role: id.Role, Identity: id.Subject}
			}
		}
	}
	if credential.SecretEqual(s.Admin, c.GetHeader(HeaderAdminKey)) {
		return service.Caller{Role: model.RoleAdmin}
	}
	if credential.SecretEqual(s.Staff, c.GetHeader(HeaderStaffKey)) {
		return service.Caller{Role: model.RoleStaff}
	}
	return service.Caller{}
}

func ownerFromHeaders(c *gin.Context) service.OwnerCredentials {
	return service.OwnerCredentials{
		Username: c.GetHeader(HeaderUsername),
		Password: c.GetHeader(HeaderPassword),
	}
}

// RequireStaff turns away callers without a staff or admin role before the
// handler reads the request body.
func RequireStaff(s Secrets, log *slog.Logger) gin.HandlerFunc {
	return s.gate(log, service.StaffOnly)
}

// RequireAdmin is RequireStaff for admin-only routes.
func RequireAdmin(s Secrets, log *slog.Logger) gin.HandlerFunc {
	return s.gate(log, service.AdminOnly)
}

func (s Secrets) gate(log *slog.Logger, check func(service.Caller) error) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		if err := check(s.callerFrom(c)); err != nil {
			writeError(c, log, err, "Forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}
