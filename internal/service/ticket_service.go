package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/helpdesk-service/internal/credential"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/repository"
)

// maxWriteAttempts bounds read-apply-save cycles lost to concurrent writers.
const maxWriteAttempts = 3

// Caller is the capability established by a staff token or a shared-secret
// header. An empty Role is an anonymous caller; Identity is set only for
// token holders.
type Caller struct {
	Role     model.Role
	Identity string
}

// name is how the caller is recorded on notes and closures.
func (c Caller) name() string {
	if c.Identity != "" {
		return c.Identity
	}
	return string(c.Role)
}

// OwnerCredentials is the username/password pair presented by a ticket owner.
type OwnerCredentials struct {
	Username string
	Password string
}

func (o OwnerCredentials) empty() bool {
	return o.Username == "" || o.Password == ""
}

// Notifier sends best-effort mail to the ticket creator without blocking.
type Notifier interface {
	TicketCreated(t *model.Ticket, creds credential.Issued)
	StaffReplied(t *model.Ticket, message string)
}

// TicketServicer is what the ticket handler depends on.
type TicketServicer interface {
	Create(ctx context.Context, in CreateTicketInput) (*model.Ticket, error)
	Get(ctx context.Context, id string, caller Caller, owner OwnerCredentials) (*model.Ticket, error)
	List(ctx context.Context, caller Caller, status model.TicketStatus) ([]model.Ticket, error)
	Reply(ctx context.Context, id string, caller Caller, in ReplyInput) error
	AddNote(ctx context.Context, id string, caller Caller, note string) error
	Assign(ctx context.Context, id string, caller Caller, assignee string) (*model.Ticket, error)
	Close(ctx context.Context, id string, caller Caller, closedBy string) (*model.Ticket, error)
	Reopen(ctx context.Context, id string, caller Caller) (*model.Ticket, error)
}

type Deps struct {
	Store    repository.Store
	Locks    LockGate
	Issuer   *credential.Issuer
	Notifier Notifier
	Producer kafka.TicketEventProducer
	Log      *slog.Logger
	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

type TicketService struct {
	Deps
	events sync.WaitGroup
}

func NewTicketService(deps Deps) *TicketService {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Issuer == nil {
		deps.Issuer = credential.NewIssuer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Locks == nil {
		deps.Locks = NewLockService(deps.Store, deps.Log)
	}
	return &TicketService{Deps: deps}
}

func (s *TicketService) now() time.Time {
	return s.Now().UTC()
}

type CreateTicketInput struct {
	CreatorEmail string
	CreatorName  string
	Subject      string
	Description  string
	Priority     string
}

// Create opens a new ticket. The returned ticket carries the freshly issued
// plaintext credentials only through the creation email.
func (s *TicketService) Create(ctx context.Context, in CreateTicketInput) (*model.Ticket, error) {
	ls, err := s.Locks.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock status: %w", err)
	}
	if ls.TicketSiteLocked {
		return nil, fmt.Errorf("%w: ticket creation is currently locked", errs.ErrLocked)
	}

	email := strings.TrimSpace(in.CreatorEmail)
	subject := strings.TrimSpace(in.Subject)
	description := strings.TrimSpace(in.Description)
	if email == "" || subject == "" || description == "" {
		return nil, fmt.Errorf("%w: missing required fields", errs.ErrValidation)
	}
	priority := model.PriorityNormal
	if p := strings.ToLower(strings.TrimSpace(in.Priority)); p != "" {
		priority = model.Priority(p)
		if !priority.Valid() {
			return nil, fmt.Errorf("%w: priority must be low, normal or high", errs.ErrValidation)
		}
	}

	id, err := s.Issuer.TicketID()
	if err != nil {
		return nil, err
	}
	issued, stored, err := s.Issuer.Issue()
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &model.Ticket{
		ID:           id,
		Status:       model.TicketStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatorEmail: email,
		CreatorName:  strings.TrimSpace(in.CreatorName),
		Subject:      subject,
		Description:  description,
		Priority:     priority,
		Messages: []model.Message{
			{ID: s.NewID(), From: model.RoleUser, Message: description, Timestamp: now},
		},
		Credentials: stored,
	}
	// A conflict here means the id already exists; never retried.
	if err := s.Store.SaveTicket(ctx, t, "Create ticket "+id); err != nil {
		return nil, err
	}
	s.Log.Info("ticket created", "ticket_id", id, "priority", priority)

	if s.Notifier != nil {
		s.Notifier.TicketCreated(t.StaffView(), issued)
	}
	s.publish(kafka.EventTicketCreated, t)
	return t, nil
}

// Get returns the staff view to staff/admin and the owner view to a caller
// presenting the ticket's credentials. Owners lose access once it is closed.
func (s *TicketService) Get(ctx context.Context, id string, caller Caller, owner OwnerCredentials) (*model.Ticket, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if caller.Role.IsStaff() {
		if err := s.requireStaff(ctx, caller); err != nil {
			return nil, err
		}
		t, err := s.Store.GetTicket(ctx, id)
		if err != nil {
			return nil, err
		}
		return t.StaffView(), nil
	}
	if owner.empty() {
		return nil, fmt.Errorf("%w: username and password required", errs.ErrUnauthorized)
	}
	t, err := s.Store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !credential.Verify(t.Credentials, owner.Username, owner.Password) {
		return nil, fmt.Errorf("%w: invalid credentials", errs.ErrForbidden)
	}
	if t.Status == model.TicketStatusClosed {
		return nil, fmt.Errorf("%w; access link invalidated", errs.ErrTicketClosed)
	}
	return t.OwnerView(), nil
}

// List returns staff views of all tickets in the given status.
func (s *TicketService) List(ctx context.Context, caller Caller, status model.TicketStatus) ([]model.Ticket, error) {
	if err := s.requireStaff(ctx, caller); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, status)
	}
	items, err := s.Store.ListTickets(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]model.Ticket, len(items))
	for i := range items {
		out[i] = *items[i].StaffView()
	}
	return out, nil
}

type ReplyInput struct {
	From    model.Role
	Message string
	Owner   OwnerCredentials
}

// Reply appends a message. User replies need the owner credentials and an
// open ticket; staff and admin replies need the matching role and are mailed
// to the creator.
func (s *TicketService) Reply(ctx context.Context, id string, caller Caller, in ReplyInput) error {
	if err := checkID(id); err != nil {
		return err
	}
	message := strings.TrimSpace(in.Message)
	if !in.From.Valid() {
		return fmt.Errorf(`%w: invalid "from" field`, errs.ErrValidation)
	}
	if message == "" {
		return fmt.Errorf("%w: message is required", errs.ErrValidation)
	}
	switch in.From {
	case model.RoleUser:
		if in.Owner.empty() {
			return fmt.Errorf("%w: username and password required", errs.ErrUnauthorized)
		}
	case model.RoleStaff:
		if err := s.requireStaff(ctx, caller); err != nil {
			return err
		}
	case model.RoleAdmin:
		if err := AdminOnly(caller); err != nil {
			return err
		}
	}

	t, err := s.mutate(ctx, id, "Reply added to ticket "+id, func(t *model.Ticket) (bool, error) {
		if in.From == model.RoleUser {
			if !credential.Verify(t.Credentials, in.Owner.Username, in.Owner.Password) {
				return false, fmt.Errorf("%w: invalid credentials", errs.ErrForbidden)
			}
			if t.Status == model.TicketStatusClosed {
				return false, fmt.Errorf("%w; cannot reply", errs.ErrTicketClosed)
			}
		}
		now := s.now()
		t.Messages = append(t.Messages, model.Message{ID: s.NewID(), From: in.From, Message: message, Timestamp: now})
		t.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return err
	}
	s.Log.Info("reply added", "ticket_id", id, "from", in.From)
	if in.From != model.RoleUser && s.Notifier != nil {
		s.Notifier.StaffReplied(t.StaffView(), message)
	}
	s.publish(kafka.EventTicketReplied, t)
	return nil
}

// AddNote appends an internal note; messages and status are untouched.
func (s *TicketService) AddNote(ctx context.Context, id string, caller Caller, note string) error {
	if err := s.requireStaff(ctx, caller); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return fmt.Errorf("%w: note is required", errs.ErrValidation)
	}
	t, err := s.mutate(ctx, id, "Note added to ticket "+id, func(t *model.Ticket) (bool, error) {
		now := s.now()
		t.Notes = append(t.Notes, model.Note{ID: s.NewID(), Note: note, Author: caller.name(), Timestamp: now})
		t.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return err
	}
	s.publish(kafka.EventTicketNoted, t)
	return nil
}

// Assign sets assigned_to. The value is free text.
func (s *TicketService) Assign(ctx context.Context, id string, caller Caller, assignee string) (*model.Ticket, error) {
	if err := AdminOnly(caller); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, fmt.Errorf("%w: assigned_to is required", errs.ErrValidation)
	}
	t, err := s.mutate(ctx, id, fmt.Sprintf("Ticket %s assigned to %s", id, assignee), func(t *model.Ticket) (bool, error) {
		t.AssignedTo = &assignee
		t.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("ticket assigned", "ticket_id", id, "assigned_to", assignee)
	s.publish(kafka.EventTicketAssigned, t)
	return t.StaffView(), nil
}

// Close is idempotent: an already closed ticket is returned unchanged.
func (s *TicketService) Close(ctx context.Context, id string, caller Caller, closedBy string) (*model.Ticket, error) {
	if err := AdminOnly(caller); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	closedBy = strings.TrimSpace(closedBy)
	if closedBy == "" {
		closedBy = caller.name()
	}
	changed := false
	t, err := s.mutate(ctx, id, "Ticket "+id+" closed", func(t *model.Ticket) (bool, error) {
		if t.Status == model.TicketStatusClosed {
			changed = false
			return false, nil
		}
		now := s.now()
		t.Status = model.TicketStatusClosed
		t.ClosedAt = &now
		t.ClosedBy = closedBy
		t.UpdatedAt = now
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.Log.Info("ticket closed", "ticket_id", id, "closed_by", closedBy)
		s.publish(kafka.EventTicketClosed, t)
	}
	return t.StaffView(), nil
}

// Reopen returns a closed ticket to open and clears the closure fields.
func (s *TicketService) Reopen(ctx context.Context, id string, caller Caller) (*model.Ticket, error) {
	if err := AdminOnly(caller); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	changed := false
	t, err := s.mutate(ctx, id, "Ticket "+id+" reopened", func(t *model.Ticket) (bool, error) {
		if t.Status == model.TicketStatusOpen {
			changed = false
			return false, nil
		}
		t.Status = model.TicketStatusOpen
		t.ClosedAt = nil
		t.ClosedBy = ""
		t.UpdatedAt = s.now()
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.Log.Info("ticket reopened", "ticket_id", id)
		s.publish(kafka.EventTicketReopened, t)
	}
	return t.StaffView(), nil
}

// mutate runs read → apply → save with the revision that was read. A lost
// race re-reads and re-applies; apply returning false skips the write.
func (s *TicketService) mutate(ctx context.Context, id, commitMsg string, apply func(t *model.Ticket) (bool, error)) (*model.Ticket, error) {
	for attempt := 1; ; attempt++ {
		t, err := s.Store.GetTicket(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := apply(t)
		if err != nil {
			return nil, err
		}
		if !changed {
			return t, nil
		}
		err = s.Store.SaveTicket(ctx, t, commitMsg)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, errs.ErrConflict) || attempt >= maxWriteAttempts {
			return nil, err
		}
		s.Log.Warn("ticket changed concurrently, retrying", "ticket_id", id, "attempt", attempt)
	}
}

// requireStaff admits staff and admin. Staff are turned away while the staff
// portal is locked; admins never are.
func (s *TicketService) requireStaff(ctx context.Context, caller Caller) error {
	if err := StaffOnly(caller); err != nil {
		return err
	}
	if caller.Role == model.RoleAdmin {
		return nil
	}
	ls, err := s.Locks.Get(ctx)
	if err != nil {
		return fmt.Errorf("lock status: %w", err)
	}
	if ls.StaffPortalLocked {
		return fmt.Errorf("%w: staff portal is currently locked", errs.ErrLocked)
	}
	return nil
}

// StaffOnly checks the role alone; the staff portal lock is applied later by
// the operation itself.
func StaffOnly(caller Caller) error {
	if !caller.Role.IsStaff() {
		return fmt.Errorf("%w: staff or admin only", errs.ErrForbidden)
	}
	return nil
}

func AdminOnly(caller Caller) error {
	if caller.Role != model.RoleAdmin {
		return fmt.Errorf("%w: admin only", errs.ErrForbidden)
	}
	return nil
}

func checkID(id string) error {
	if !repository.ValidTicketID(id) {
		return fmt.Errorf("%w: invalid ticket id", errs.ErrValidation)
	}
	return nil
}

// publish sends the event in the background; it must outlive the request.
func (s *TicketService) publish(event string, t *model.Ticket) {
	if s.Producer == nil {
		return
	}
	view := t.StaffView()
	s.events.Add(1)
	go func() {
		defer s.events.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Producer.ProduceTicketEvent(ctx, event, view)
	}()
}

// Wait blocks until background event publishing has finished.
func (s *TicketService) Wait() {
	s.events.Wait()
}
