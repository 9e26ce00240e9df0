package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

type TicketHandler struct {
	svc     service.TicketServicer
	secrets Secrets
	log     *slog.Logger
}

func NewTicketHandler(svc service.TicketServicer, secrets Secrets, log *slog.Logger) *TicketHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TicketHandler{svc: svc, secrets: secrets, log: log}
}

type createTicketRequest struct {
	CreatorEmail string `json:"creator_email"`
	CreatorName  string `json:"creator_name"`
	Subject      string `json:"subject"`
	Description  string `json:"description"`
	Priority     string `json:"priority"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := h.svc.Create(c.Request.Context(), service.CreateTicketInput{
		CreatorEmail: req.CreatorEmail,
		CreatorName:  req.CreatorName,
		Subject:      req.Subject,
		Description:  req.Description,
		Priority:     req.Priority,
	})
	if err != nil {
		writeError(c, h.log, err, "Failed to create ticket")
		return
	}
	// Portals expect 200 here, not 201.
	c.JSON(http.StatusOK, gin.H{"message": "Ticket created", "ticketId": t.ID})
}

func (h *TicketHandler) ListOpen(c *gin.Context) {
	h.list(c, model.TicketStatusOpen)
}

func (h *TicketHandler) ListClosed(c *gin.Context) {
	h.list(c, model.TicketStatusClosed)
}

func (h *TicketHandler) list(c *gin.Context, status model.TicketStatus) {
	tickets, err := h.svc.List(c.Request.Context(), h.secrets.callerFrom(c), status)
	if err != nil {
		writeError(c, h.log, err, "Failed to fetch tickets")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *TicketHandler) Get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), c.Param("id"), h.secrets.callerFrom(c), ownerFromHeaders(c))
	if err != nil {
		writeError(c, h.log, err, "Failed to fetch ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

type replyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Message  string `json:"message"`
}

// Reply accepts owner credentials in the body; headers are a fallback.
func (h *TicketHandler) Reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	owner := service.OwnerCredentials{Username: req.Username, Password: req.Password}
	if owner.Username == "" && owner.Password == "" {
		owner = ownerFromHeaders(c)
	}
	err := h.svc.Reply(c.Request.Context(), c.Param("id"), h.secrets.callerFrom(c), service.ReplyInput{
		From:    model.Role(req.From),
		Message: req.Message,
		Owner:   owner,
	})
	if err != nil {
		writeError(c, h.log, err, "Failed to add reply")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reply added"})
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *TicketHandler) AddNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.svc.AddNote(c.Request.Context(), c.Param("id"), h.secrets.callerFrom(c), req.Note); err != nil {
		writeError(c, h.log, err, "Failed to add note")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Note added"})
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

func (h *TicketHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := h.svc.Assign(c.Request.Context(), c.Param("id"), h.secrets.callerFrom(c), req.AssignedTo)
	if err != nil {
		writeError(c, h.log, err, "Failed to assign ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ticket assigned to " + *t.AssignedTo})
}

type closeRequest struct {
	ClosedBy string `json:"closed_by"`
}

// Close tolerates an empty body; closed_by defaults to "admin".
func (h *TicketHandler) Close(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if _, err := h.svc.Close(c.Request.Context(), c.Param("id"), h.secrets.callerFrom(c), req.ClosedBy); err != nil {
		writeError(c, h.log, err, "Failed to close ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ticket closed"})
}

func (h *TicketHandler) Reopen(c *gin.Context) {
	if _, err := h.svc.Reopen(c.Request.Context(), c.Param("id"), h.secrets.callerFrom(c)); err != nil {
		writeError(c, h.log, err, "Failed to reopen ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ticket reopened"})
}
