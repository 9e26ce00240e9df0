package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/repository"
)

// LockGate is the read side of the global lock used by TicketService.
type LockGate interface {
	Get(ctx context.Context) (*model.LockStatus, error)
}

// LockServicer is what the lock handler needs.
type LockServicer interface {
	LockGate
	Update(ctx context.Context, caller Caller, ticketSiteLocked, staffPortalLocked *bool) (*model.LockStatus, error)
}

type LockService struct {
	store repository.Store
	log   *slog.Logger
}

func NewLockService(store repository.Store, log *slog.Logger) *LockService {
	if log == nil {
		log = slog.Default()
	}
	return &LockService{store: store, log: log}
}

func (s *LockService) Get(ctx context.Context) (*model.LockStatus, error) {
	return s.store.GetLockStatus(ctx)
}

// Update replaces both flags. Admin only; both values are required.
func (s *LockService) Update(ctx context.Context, caller Caller, ticketSiteLocked, staffPortalLocked *bool) (*model.LockStatus, error) {
	if err := AdminOnly(caller); err != nil {
		return nil, err
	}
	if ticketSiteLocked == nil || staffPortalLocked == nil {
		return nil, fmt.Errorf("%w: invalid lock status values", errs.ErrValidation)
	}
	for attempt := 1; ; attempt++ {
		ls, err := s.store.GetLockStatus(ctx)
		if err != nil {
			return nil, err
		}
		ls.TicketSiteLocked = *ticketSiteLocked
		ls.StaffPortalLocked = *staffPortalLocked
		err = s.store.SaveLockStatus(ctx, ls)
		if err == nil {
			s.log.Info("lock status updated",
				"ticket_site_locked", ls.TicketSiteLocked,
				"staff_portal_locked", ls.StaffPortalLocked)
			return ls, nil
		}
		if !errors.Is(err, errs.ErrConflict) || attempt >= maxWriteAttempts {
			return nil, err
		}
		s.log.Warn("lock status changed concurrently, retrying", "attempt", attempt)
	}
}
