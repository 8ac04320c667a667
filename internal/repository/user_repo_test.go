package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/testutil"
)

func TestUserRepository_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	user := &model.User{Username: "analyst", PasswordHash: "x", Role: model.RoleUser}
	require.NoError(t, repo.Create(user))
	assert.NotZero(t, user.ID)

	// 用户名唯一
	err := repo.Create(&model.User{Username: "analyst", PasswordHash: "y"})
	assert.Error(t, err)
}

func TestUserRepository_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	created := testutil.TestUser(t, db)

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.Username, found.Username)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	_, err := repo.GetByID(99999)
	assert.Error(t, err)
}

func TestUserRepository_GetByUsername(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	testutil.TestUser(t, db, testutil.WithUsername("uniqueuser"))

	found, err := repo.GetByUsername("uniqueuser")
	require.NoError(t, err)
	assert.Equal(t, "uniqueuser", found.Username)

	_, err = repo.GetByUsername("nobody")
	assert.Error(t, err)
}

func TestUserRepository_Exists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	testutil.TestUser(t, db, testutil.WithUsername("existing"), testutil.WithEmail("existing@example.com"))

	exists, err := repo.ExistsByUsername("existing")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByUsername("nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.ExistsByEmail("existing@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail("other@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepository_ListAndCountByRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	first := testutil.TestUser(t, db, testutil.WithRole(model.RoleAdmin))
	testutil.TestUser(t, db)
	testutil.TestUser(t, db)

	users, err := repo.List()
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, first.ID, users[0].ID)

	admins, err := repo.CountByRole(model.RoleAdmin)
	require.NoError(t, err)
	assert.EqualValues(t, 1, admins)
}

func TestUserRepository_UpdateFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)

	user := testutil.TestUser(t, db)

	require.NoError(t, repo.UpdateFields(user.ID, map[string]interface{}{"role": model.RoleAdmin}))

	found, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	assert.True(t, found.IsAdmin())
}
