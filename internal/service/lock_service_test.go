package service

import (
	"context"
	"testing"

	"github.com/psds-microservice/helpdesk-service/internal/contentstore"
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestLockService(t *testing.T) {
	ctx := context.Background()
	svc := NewLockService(repository.NewContentStore(contentstore.NewMemory(), nil), nil)

	ls, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ls.TicketSiteLocked)
	assert.False(t, ls.StaffPortalLocked)

	updated, err := svc.Update(ctx, admin, boolPtr(true), boolPtr(false))
	require.NoError(t, err)
	assert.True(t, updated.TicketSiteLocked)

	ls, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ls.TicketSiteLocked)
	assert.False(t, ls.StaffPortalLocked)

	_, err = svc.Update(ctx, admin, boolPtr(false), boolPtr(true))
	require.NoError(t, err, "second write uses the fresh revision")
	ls, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ls.StaffPortalLocked)
}

func TestLockService_UpdateRequiresAdminAndBothFlags(t *testing.T) {
	ctx := context.Background()
	svc := NewLockService(repository.NewContentStore(contentstore.NewMemory(), nil), nil)

	_, err := svc.Update(ctx, staff, boolPtr(true), boolPtr(true))
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = svc.Update(ctx, admin, boolPtr(true), nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = svc.Update(ctx, admin, nil, boolPtr(true))
	assert.ErrorIs(t, err, errs.ErrValidation)
}
