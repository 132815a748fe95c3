package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/repository"
	"github.com/iliyamo/bundle-store/internal/testutil"
)

func TestUserCreateNormalizesLoginKey(t *testing.T) {
	users := repository.NewUserRepo(testutil.NewDB(t))
	ctx := context.Background()

	id, err := users.Create(ctx, repository.NewUser{LoginKey: "  A@X.com ", PasswordHash: "h", Role: model.RoleUser})
	require.NoError(t, err)

	u, err := users.GetByLoginKey(ctx, "a@x.COM")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "a@x.com", u.LoginKey)
	assert.False(t, u.Entitled)
	assert.Nil(t, u.EntitledAt)

	_, err = users.Create(ctx, repository.NewUser{LoginKey: "a@x.com", PasswordHash: "h", Role: model.RoleUser})
	assert.ErrorIs(t, err, repository.ErrLoginKeyExists)

	_, err = users.GetByID(ctx, id+100)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGrantEntitlementKeepsFirstTimestamp(t *testing.T) {
	db := testutil.NewDB(t)
	users := repository.NewUserRepo(db)
	ctx := context.Background()
	id := createUser(t, users, "g@x.com")

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, at := range []time.Time{first, first.Add(time.Hour)} {
		require.NoError(t, repository.InTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := users.LockForUpdateTx(ctx, tx, id); err != nil {
				return err
			}
			return users.GrantEntitlementTx(ctx, tx, id, at)
		}))
	}

	u, err := users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.Entitled)
	require.NotNil(t, u.EntitledAt)
	assert.True(t, first.Equal(*u.EntitledAt))
}

func TestLockForUpdateUnknownUser(t *testing.T) {
	db := testutil.NewDB(t)
	users := repository.NewUserRepo(db)
	err := repository.InTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := users.LockForUpdateTx(context.Background(), tx, 404)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSetAdminCredentialsAndList(t *testing.T) {
	users := repository.NewUserRepo(testutil.NewDB(t))
	ctx := context.Background()
	id := createUser(t, users, "h@x.com")
	createUser(t, users, "i@x.com")

	require.NoError(t, users.SetAdminCredentials(ctx, id, "new-hash"))
	u, err := users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())
	assert.Equal(t, "new-hash", u.PasswordHash)

	assert.ErrorIs(t, users.SetAdminCredentials(ctx, 12345, "x"), repository.ErrNotFound)

	list, err := users.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
