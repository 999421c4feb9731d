package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/KAsare1/picshare/cmd/models"
	"github.com/KAsare1/picshare/db"
	"github.com/KAsare1/picshare/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserWithProfile(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)

	u := &models.User{Username: "neo", Email: "neo@example.com", PasswordHash: "hash"}
	require.NoError(t, db.CreateUser(ctx, gdb, u))
	require.NotNil(t, u.Profile)
	assert.Equal(t, u.ID, u.Profile.UserID)

	profile, err := db.GetProfile(ctx, gdb, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "neo", profile.User.Username)

	err = db.CreateUser(ctx, gdb, &models.User{Username: "neo", PasswordHash: "x"})
	assert.ErrorIs(t, err, db.ErrUsernameTaken)

	found, err := db.GetUserByEmail(ctx, gdb, "NEO@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestResetPasswordConsumesToken(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	u := dbtest.User(t, gdb, "trinity")

	require.NoError(t, db.ReplaceResetToken(ctx, gdb, u.ID, "first", time.Hour))
	require.NoError(t, db.ReplaceResetToken(ctx, gdb, u.ID, "second", time.Hour))

	ok, err := db.CheckResetToken(ctx, gdb, u.ID, "first")
	require.NoError(t, err)
	assert.False(t, ok, "replaced token must be gone")

	ok, err = db.CheckResetToken(ctx, gdb, u.ID, "second")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ResetPassword(ctx, gdb, u.ID, "second", "new-hash")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := db.GetUser(ctx, gdb, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Equal(t, u.SessionVersion+1, got.SessionVersion, "reset must end existing sessions")

	ok, err = db.ResetPassword(ctx, gdb, u.ID, "second", "again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredResetToken(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	u := dbtest.User(t, gdb, "morpheus")

	require.NoError(t, db.ReplaceResetToken(ctx, gdb, u.ID, "stale", -time.Minute))

	ok, err := db.CheckResetToken(ctx, gdb, u.ID, "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.ResetPassword(ctx, gdb, u.ID, "stale", "hash")
	require.NoError(t, err)
	assert.False(t, ok)
}
