package repository

import (
	"context"
	"regexp"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

// Store holds tickets and the lock gate. Every call reads the source afresh;
// there is no cache. Writes check the revision read earlier.
type Store interface {
	// GetTicket returns errs.ErrTicketNotFound for unknown ids and sets Revision.
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	// SaveTicket creates the ticket when t.Revision is empty, otherwise updates
	// it only if the stored revision still equals t.Revision. On success
	// t.Revision holds the new marker.
	SaveTicket(ctx context.Context, t *model.Ticket, message string) error
	// ListTickets returns tickets with the given status, newest first.
	ListTickets(ctx context.Context, status model.TicketStatus) ([]model.Ticket, error)

	GetLockStatus(ctx context.Context) (*model.LockStatus, error)
	SaveLockStatus(ctx context.Context, ls *model.LockStatus) error
}

var ticketIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidTicketID reports whether id is safe to use as a storage key.
func ValidTicketID(id string) bool {
	return ticketIDPattern.MatchString(id)
}
