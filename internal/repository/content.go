package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/psds-microservice/helpdesk-service/internal/contentstore"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

const (
	ticketsDir     = "tickets"
	lockStatusPath = "lock-status.json"
)

func ticketPath(id string) string {
	return ticketsDir + "/" + id + "/data.json"
}

// ContentStore maps tickets onto JSON documents in a contentstore.Backend:
// tickets/<id>/data.json and lock-status.json.
type ContentStore struct {
	backend contentstore.Backend
	log     *slog.Logger
}

func NewContentStore(backend contentstore.Backend, log *slog.Logger) *ContentStore {
	if log == nil {
		log = slog.Default()
	}
	return &ContentStore{backend: backend, log: log}
}

func (s *ContentStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	if !ValidTicketID(id) {
		return nil, errs.ErrTicketNotFound
	}
	obj, err := s.backend.Get(ctx, ticketPath(id))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	var t model.Ticket
	if err := json.Unmarshal(obj.Data, &t); err != nil {
		return nil, fmt.Errorf("corrupted ticket data %s: %w", id, err)
	}
	t.Revision = obj.SHA
	return &t, nil
}

func (s *ContentStore) SaveTicket(ctx context.Context, t *model.Ticket, message string) error {
	if !ValidTicketID(t.ID) {
		return fmt.Errorf("%w: invalid ticket id %q", errs.ErrValidation, t.ID)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", t.ID, err)
	}
	sha, err := s.backend.Put(ctx, ticketPath(t.ID), data, t.Revision, message)
	if err != nil {
		return err
	}
	t.Revision = sha
	return nil
}

func (s *ContentStore) ListTickets(ctx context.Context, status model.TicketStatus) ([]model.Ticket, error) {
	entries, err := s.backend.List(ctx, ticketsDir)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	out := make([]model.Ticket, 0, len(entries))
	for _, e := range entries {
		if e.Type != contentstore.EntryDir {
			continue
		}
		t, err := s.GetTicket(ctx, e.Name)
		if err != nil {
			// a half-written or foreign directory must not break the listing
			s.log.Warn("repository: skip unreadable ticket", "id", e.Name, "error", err)
			continue
		}
		if t.Status == status {
			out = append(out, *t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *ContentStore) GetLockStatus(ctx context.Context) (*model.LockStatus, error) {
	obj, err := s.backend.Get(ctx, lockStatusPath)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return &model.LockStatus{}, nil
		}
		return nil, err
	}
	var ls model.LockStatus
	if err := json.Unmarshal(obj.Data, &ls); err != nil {
		s.log.Warn("repository: unparsable lock status, treating as unlocked", "error", err)
		ls = model.LockStatus{}
	}
	ls.Revision = obj.SHA
	return &ls, nil
}

func (s *ContentStore) SaveLockStatus(ctx context.Context, ls *model.LockStatus) error {
	data, err := json.MarshalIndent(ls, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock status: %w", err)
	}
	sha, err := s.backend.Put(ctx, lockStatusPath, data, ls.Revision, "Update lock status")
	if err != nil {
		return err
	}
	ls.Revision = sha
	return nil
}

func sortNewestFirst(ts []model.Ticket) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID > ts[j].ID
		}
		return ts[i].CreatedAt.After(ts[j].CreatedAt)
	})
}
