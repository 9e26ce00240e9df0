package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/contentstore"
	"github.com/psds-microservice/helpdesk-service/internal/credential"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	admin = Caller{Role: model.RoleAdmin}
	staff = Caller{Role: model.RoleStaff}
	anon  = Caller{}
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []credential.Issued
	replies []string
}

func (n *recordingNotifier) TicketCreated(_ *model.Ticket, creds credential.Issued) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, creds)
}

func (n *recordingNotifier) StaffReplied(_ *model.Ticket, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies = append(n.replies, message)
}

type recordingProducer struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func newRecordingProducer() *recordingProducer {
	return &recordingProducer{done: make(chan struct{}, 64)}
}

func (p *recordingProducer) ProduceTicketEvent(_ context.Context, event string, _ *model.Ticket) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	p.done <- struct{}{}
}

func (p *recordingProducer) await(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// conflictingStore loses the first n ticket writes to a concurrent writer.
type conflictingStore struct {
	repository.Store
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictingStore) SaveTicket(ctx context.Context, t *model.Ticket, message string) error {
	s.mu.Lock()
	s.saves++
	if t.Revision != "" && s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return &errs.ConflictError{Path: t.ID, Expected: t.Revision}
	}
	s.mu.Unlock()
	return s.Store.SaveTicket(ctx, t, message)
}

type fixture struct {
	svc      *TicketService
	store    repository.Store
	backend  *contentstore.Memory
	notifier *recordingNotifier
	producer *recordingProducer
}

func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newFixture(t *testing.T, wrap ...func(repository.Store) repository.Store) *fixture {
	t.Helper()
	backend := contentstore.NewMemory()
	var store repository.Store = repository.NewContentStore(backend, nil)
	for _, w := range wrap {
		store = w(store)
	}
	f := &fixture{
		store:    store,
		backend:  backend,
		notifier: &recordingNotifier{},
		producer: newRecordingProducer(),
	}
	clock := tickingClock()
	f.svc = NewTicketService(Deps{
		Store:    store,
		Issuer:   credential.NewIssuer(credential.WithBcryptCost(bcrypt.MinCost), credential.WithClock(clock)),
		Notifier: f.notifier,
		Producer: f.producer,
		Now:      clock,
	})
	return f
}

func (f *fixture) create(t *testing.T) (*model.Ticket, OwnerCredentials) {
	t.Helper()
	tk, err := f.svc.Create(context.Background(), CreateTicketInput{
		CreatorEmail: "a@b.com",
		Subject:      "Printer",
		Description:  "It is on fire",
	})
	require.NoError(t, err)
	f.notifier.mu.Lock()
	issued := f.notifier.created[len(f.notifier.created)-1]
	f.notifier.mu.Unlock()
	return tk, OwnerCredentials{Username: issued.Username, Password: issued.Password}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, owner := f.create(t)
	assert.Regexp(t, `^ticket-\d{17}-[0-9a-f]{6}$`, tk.ID)
	assert.Equal(t, model.TicketStatusOpen, tk.Status)
	assert.Equal(t, model.PriorityNormal, tk.Priority)
	assert.Nil(t, tk.AssignedTo)
	require.Len(t, tk.Messages, 1)
	assert.Equal(t, model.RoleUser, tk.Messages[0].From)
	assert.Equal(t, "It is on fire", tk.Messages[0].Message)
	assert.Equal(t, tk.CreatedAt, tk.UpdatedAt)

	stored, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Credentials)
	assert.Equal(t, owner.Username, stored.Credentials.Username)
	assert.NotEqual(t, owner.Password, stored.Credentials.PasswordHash, "password is never stored in plaintext")
	assert.Empty(t, stored.Credentials.Password)
	assert.True(t, credential.Verify(stored.Credentials, owner.Username, owner.Password))

	assert.Equal(t, []string{"ticket.created"}, f.producer.await(t, 1))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]CreateTicketInput{
		"missing email":       {Subject: "s", Description: "d"},
		"missing subject":     {CreatorEmail: "a@b.com", Description: "d"},
		"missing description": {CreatorEmail: "a@b.com", Subject: "s"},
		"blank description":   {CreatorEmail: "a@b.com", Subject: "s", Description: "   "},
		"bad priority":        {CreatorEmail: "a@b.com", Subject: "s", Description: "d", Priority: "urgent"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, in)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
	keys, _ := f.backend.List(ctx, "tickets")
	assert.Empty(t, keys, "nothing persisted")
}

func TestCreate_EmailIsNotFormatChecked(t *testing.T) {
	f := newFixture(t)
	tk, err := f.svc.Create(context.Background(), CreateTicketInput{
		CreatorEmail: " ops@localhost ", Subject: "s", Description: "d",
	})
	require.NoError(t, err)
	assert.Equal(t, "ops@localhost", tk.CreatorEmail)
}

func TestCreate_PriorityIsNormalized(t *testing.T) {
	f := newFixture(t)
	tk, err := f.svc.Create(context.Background(), CreateTicketInput{
		CreatorEmail: "a@b.com", Subject: "s", Description: "d", Priority: " HIGH ",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, tk.Priority)
}

func TestCreate_SiteLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveLockStatus(ctx, &model.LockStatus{TicketSiteLocked: true}))

	_, err := f.svc.Create(ctx, CreateTicketInput{CreatorEmail: "a@b.com", Subject: "s", Description: "d"})
	assert.ErrorIs(t, err, errs.ErrLocked)
	assert.Empty(t, f.notifier.created)
}

func TestGet_OwnerAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, owner := f.create(t)
	require.NoError(t, f.svc.AddNote(ctx, tk.ID, staff, "internal only"))

	got, err := f.svc.Get(ctx, tk.ID, anon, owner)
	require.NoError(t, err)
	assert.Nil(t, got.Credentials)
	assert.Empty(t, got.Notes, "owner never sees notes")

	_, err = f.svc.Get(ctx, tk.ID, anon, OwnerCredentials{Username: owner.Username, Password: "wrong"})
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.svc.Get(ctx, tk.ID, anon, OwnerCredentials{})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.Get(ctx, "ticket-missing", anon, owner)
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)

	_, err = f.svc.Get(ctx, "../etc", anon, owner)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestGet_ClosedTicketInvalidatesOwnerAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, owner := f.create(t)
	_, err := f.svc.Close(ctx, tk.ID, admin, "")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, tk.ID, anon, owner)
	assert.ErrorIs(t, err, errs.ErrTicketClosed)

	// Wrong credentials are reported before the status.
	_, err = f.svc.Get(ctx, tk.ID, anon, OwnerCredentials{Username: "x", Password: "y"})
	assert.ErrorIs(t, err, errs.ErrForbidden)

	got, err := f.svc.Get(ctx, tk.ID, staff, OwnerCredentials{})
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusClosed, got.Status)
}

func TestGet_StaffView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)
	require.NoError(t, f.svc.AddNote(ctx, tk.ID, admin, "vip"))

	got, err := f.svc.Get(ctx, tk.ID, staff, OwnerCredentials{})
	require.NoError(t, err)
	assert.Nil(t, got.Credentials)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "admin", got.Notes[0].Author)
}

func TestReply_User(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, owner := f.create(t)

	require.NoError(t, f.svc.Reply(ctx, tk.ID, anon, ReplyInput{From: model.RoleUser, Message: "Still broken", Owner: owner}))
	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Still broken", got.Messages[1].Message)
	assert.True(t, got.UpdatedAt.After(tk.UpdatedAt))
	assert.Empty(t, f.notifier.replies, "user replies are not mailed")

	err = f.svc.Reply(ctx, tk.ID, anon, ReplyInput{From: model.RoleUser, Message: "x", Owner: OwnerCredentials{Username: owner.Username, Password: "bad"}})
	assert.ErrorIs(t, err, errs.ErrForbidden)

	err = f.svc.Reply(ctx, tk.ID, anon, ReplyInput{From: model.RoleUser, Message: "x"})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestReply_UserOnClosedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, owner := f.create(t)
	_, err := f.svc.Close(ctx, tk.ID, admin, "")
	require.NoError(t, err)

	err = f.svc.Reply(ctx, tk.ID, anon, ReplyInput{From: model.RoleUser, Message: "hello?", Owner: owner})
	assert.ErrorIs(t, err, errs.ErrTicketClosed)

	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestReply_StaffNotifiesCreator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)

	require.NoError(t, f.svc.Reply(ctx, tk.ID, staff, ReplyInput{From: model.RoleStaff, Message: "Try rebooting"}))
	require.NoError(t, f.svc.Reply(ctx, tk.ID, admin, ReplyInput{From: model.RoleAdmin, Message: "Escalated"}))
	assert.Equal(t, []string{"Try rebooting", "Escalated"}, f.notifier.replies)

	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, model.RoleStaff, got.Messages[1].From)
	assert.Equal(t, model.RoleAdmin, got.Messages[2].From)
}

func TestReply_RoleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)

	assert.ErrorIs(t, f.svc.Reply(ctx, tk.ID, anon, ReplyInput{From: model.RoleStaff, Message: "x"}), errs.ErrForbidden)
	assert.ErrorIs(t, f.svc.Reply(ctx, tk.ID, staff, ReplyInput{From: model.RoleAdmin, Message: "x"}), errs.ErrForbidden)
	assert.ErrorIs(t, f.svc.Reply(ctx, tk.ID, admin, ReplyInput{From: "bot", Message: "x"}), errs.ErrValidation)
	assert.ErrorIs(t, f.svc.Reply(ctx, tk.ID, admin, ReplyInput{From: model.RoleAdmin, Message: " "}), errs.ErrValidation)
	assert.ErrorIs(t, f.svc.Reply(ctx, "ticket-none", admin, ReplyInput{From: model.RoleAdmin, Message: "x"}), errs.ErrTicketNotFound)
}

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)

	require.NoError(t, f.svc.AddNote(ctx, tk.ID, staff, "customer is VIP"))
	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "customer is VIP", got.Notes[0].Note)
	assert.Equal(t, "staff", got.Notes[0].Author)
	assert.NotEmpty(t, got.Notes[0].ID)
	assert.True(t, got.UpdatedAt.After(tk.UpdatedAt))
	assert.Len(t, got.Messages, 1, "messages untouched")
	assert.Equal(t, model.TicketStatusOpen, got.Status)

	assert.ErrorIs(t, f.svc.AddNote(ctx, tk.ID, anon, "x"), errs.ErrForbidden)
	assert.ErrorIs(t, f.svc.AddNote(ctx, tk.ID, staff, ""), errs.ErrValidation)
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)

	got, err := f.svc.Assign(ctx, tk.ID, admin, "jane")
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "jane", *got.AssignedTo)

	_, err = f.svc.Assign(ctx, tk.ID, staff, "joe")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.Assign(ctx, tk.ID, admin, "")
	assert.ErrorIs(t, err, errs.ErrValidation)

	stored, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane", *stored.AssignedTo)
	assert.True(t, stored.UpdatedAt.After(tk.UpdatedAt))
	assert.Contains(t, f.backend.Commits(), "Ticket "+tk.ID+" assigned to jane")
}

func TestCloseReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)

	closed, err := f.svc.Close(ctx, tk.ID, admin, "")
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusClosed, closed.Status)
	assert.Equal(t, "admin", closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.UpdatedAt.After(tk.UpdatedAt))
	assert.Equal(t, *closed.ClosedAt, closed.UpdatedAt)

	commits := len(f.backend.Commits())
	again, err := f.svc.Close(ctx, tk.ID, admin, "someone else")
	require.NoError(t, err)
	assert.Equal(t, "admin", again.ClosedBy, "second close changes nothing")
	assert.Len(t, f.backend.Commits(), commits, "no write for a no-op close")

	reopened, err := f.svc.Reopen(ctx, tk.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
	assert.Empty(t, reopened.ClosedBy)
	assert.True(t, reopened.UpdatedAt.After(closed.UpdatedAt))

	_, err = f.svc.Reopen(ctx, tk.ID, admin)
	require.NoError(t, err)

	_, err = f.svc.Close(ctx, tk.ID, staff, "")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.Reopen(ctx, tk.ID, staff)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	events := f.producer.await(t, 3)
	assert.ElementsMatch(t, []string{"ticket.created", "ticket.closed", "ticket.reopened"}, events)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.create(t)
	second, _ := f.create(t)
	third, _ := f.create(t)
	_, err := f.svc.Close(ctx, second.ID, admin, "")
	require.NoError(t, err)

	open, err := f.svc.List(ctx, staff, model.TicketStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, third.ID, open[0].ID, "newest first")
	assert.Equal(t, first.ID, open[1].ID)
	for _, tk := range open {
		assert.Nil(t, tk.Credentials)
	}

	closed, err := f.svc.List(ctx, admin, model.TicketStatusClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, second.ID, closed[0].ID)

	_, err = f.svc.List(ctx, anon, model.TicketStatusOpen)
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.List(ctx, staff, "pending")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestStaffPortalLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, owner := f.create(t)
	require.NoError(t, f.store.SaveLockStatus(ctx, &model.LockStatus{StaffPortalLocked: true}))

	_, err := f.svc.List(ctx, staff, model.TicketStatusOpen)
	assert.ErrorIs(t, err, errs.ErrLocked)
	assert.ErrorIs(t, f.svc.AddNote(ctx, tk.ID, staff, "x"), errs.ErrLocked)
	_, err = f.svc.Get(ctx, tk.ID, staff, OwnerCredentials{})
	assert.ErrorIs(t, err, errs.ErrLocked)

	_, err = f.svc.List(ctx, admin, model.TicketStatusOpen)
	assert.NoError(t, err, "admins bypass the staff portal lock")
	_, err = f.svc.Get(ctx, tk.ID, anon, owner)
	assert.NoError(t, err, "owners are unaffected")
}

func TestMutate_RetriesConflicts(t *testing.T) {
	cs := &conflictingStore{conflicts: 2}
	f := newFixture(t, func(s repository.Store) repository.Store {
		cs.Store = s
		return cs
	})
	ctx := context.Background()
	tk, _ := f.create(t)

	require.NoError(t, f.svc.AddNote(ctx, tk.ID, admin, "third time lucky"))
	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, got.Notes, 1, "applied exactly once")
}

func TestMutate_GivesUpAfterThreeAttempts(t *testing.T) {
	cs := &conflictingStore{conflicts: 10}
	f := newFixture(t, func(s repository.Store) repository.Store {
		cs.Store = s
		return cs
	})
	ctx := context.Background()
	tk, _ := f.create(t)
	cs.saves = 0

	err := f.svc.AddNote(ctx, tk.ID, admin, "never lands")
	assert.ErrorIs(t, err, errs.ErrConflict)
	var ce *errs.ConflictError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, maxWriteAttempts, cs.saves)
}

func TestConcurrentReplies_NoLostUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.create(t)

	// Two writers racing on one ticket: either both land or the loser reports
	// a conflict. A silent overwrite is never acceptable.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Reply(ctx, tk.ID, admin, ReplyInput{From: model.RoleAdmin, Message: "r"})
		}(i)
	}
	wg.Wait()

	landed := 0
	for _, err := range results {
		if err == nil {
			landed++
		} else {
			assert.ErrorIs(t, err, errs.ErrConflict)
		}
	}
	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1+landed)
}
