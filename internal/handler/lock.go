package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

type LockHandler struct {
	svc     service.LockServicer
	secrets Secrets
	log     *slog.Logger
}

func NewLockHandler(svc service.LockServicer, secrets Secrets, log *slog.Logger) *LockHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LockHandler{svc: svc, secrets: secrets, log: log}
}

// Get is public: the ticket form needs it before the user has any key.
func (h *LockHandler) Get(c *gin.Context) {
	ls, err := h.svc.Get(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err, "Failed to fetch lock status")
		return
	}
	c.JSON(http.StatusOK, ls)
}

type lockStatusRequest struct {
	TicketSiteLocked  *bool `json:"ticket_site_locked"`
	StaffPortalLocked *bool `json:"staff_portal_locked"`
}

func (h *LockHandler) Update(c *gin.Context) {
	var req lockStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lock status values"})
		return
	}
	if _, err := h.svc.Update(c.Request.Context(), h.secrets.callerFrom(c), req.TicketSiteLocked, req.StaffPortalLocked); err != nil {
		writeError(c, h.log, err, "Failed to update lock status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lock status updated"})
}
