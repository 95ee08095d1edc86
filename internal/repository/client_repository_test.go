package repository

import (
	"context"
	"testing"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRepository_EscalateStatus(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewClientRepository(db)
	ctx := context.Background()

	t.Run("moves status forward while expectation holds", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.Client{TenantID: 1, Name: "acme"})
		require.NoError(t, err)
		assert.Equal(t, model.ServiceStatusActive, created.ServiceStatus)

		err = repo.EscalateStatus(ctx, created.ID, model.ServiceStatusActive, model.ServiceStatusWarning)
		require.NoError(t, err)

		found, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ServiceStatusWarning, found.ServiceStatus)
	})

	t.Run("stale expectation reports concurrent update", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.Client{TenantID: 1, Name: "globex", ServiceStatus: model.ServiceStatusWarning})
		require.NoError(t, err)

		err = repo.EscalateStatus(ctx, created.ID, model.ServiceStatusActive, model.ServiceStatusWarning)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
	})
}

func TestClientRepository_Reactivate(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewClientRepository(db)
	ctx := context.Background()

	t.Run("resets a suspended client", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.Client{TenantID: 1, Name: "initech", ServiceStatus: model.ServiceStatusSuspended})
		require.NoError(t, err)

		err = repo.Reactivate(ctx, created.ID)
		require.NoError(t, err)

		found, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ServiceStatusActive, found.ServiceStatus)
	})

	t.Run("already active is a no-op", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.Client{TenantID: 1, Name: "umbrella"})
		require.NoError(t, err)

		err = repo.Reactivate(ctx, created.ID)
		require.NoError(t, err)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		assert.ErrorIs(t, err, ErrClientNotFound)
	})
}

func TestTenantRepository(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTenantRepository(db)
	ctx := context.Background()

	enabled, err := repo.Create(ctx, &model.Tenant{Name: "tenant-a", Active: true, GraceDays: 15, EscalationEnabled: true})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.Tenant{Name: "tenant-b", Active: true, GraceDays: 15, EscalationEnabled: false})
	require.NoError(t, err)

	t.Run("list escalation enabled", func(t *testing.T) {
		tenants, err := repo.ListEscalationEnabled(ctx)
		require.NoError(t, err)
		require.Len(t, tenants, 1)
		assert.Equal(t, "tenant-a", tenants[0].Name)
	})

	t.Run("set active flips the switch", func(t *testing.T) {
		err := repo.SetActive(ctx, enabled.ID, false)
		require.NoError(t, err)

		found, err := repo.GetByID(ctx, enabled.ID)
		require.NoError(t, err)
		assert.False(t, found.Active)

		// writing the same value again is a no-op
		err = repo.SetActive(ctx, enabled.ID, false)
		require.NoError(t, err)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		assert.ErrorIs(t, err, ErrTenantNotFound)
	})
}
