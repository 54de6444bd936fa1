package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContact(t *testing.T, repo *ContactRepository, userID int64, name, phone string) *model.Contact {
	t.Helper()
	c, err := repo.Create(context.Background(), &model.Contact{UserID: userID, Name: name, Phone: phone})
	require.NoError(t, err)
	return c
}

func TestContactRepository_FindByIDs(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewContactRepository(db)
	ctx := context.Background()

	mine := seedContact(t, repo, 1, "Ada", "+15550000001")
	other := seedContact(t, repo, 2, "Eve", "+15550000002")

	contacts, err := repo.FindByIDs(ctx, 1, []int64{mine.ID, other.ID, 99999})
	require.NoError(t, err)
	require.Len(t, contacts, 1, "foreign and unknown IDs are silently dropped")
	assert.Equal(t, mine.ID, contacts[0].ID)

	contacts, err = repo.FindByIDs(ctx, 1, nil)
	require.NoError(t, err)
	assert.Nil(t, contacts)
}

func TestContactRepository_FindByGroupIDs(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewContactRepository(db)
	ctx := context.Background()

	var members []*model.Contact
	for i := 0; i < 3; i++ {
		members = append(members, seedContact(t, repo, 1, fmt.Sprintf("c%d", i), fmt.Sprintf("+1555000000%d", i)))
	}
	outsider := seedContact(t, repo, 1, "outsider", "+15550000009")

	friends, err := repo.CreateGroup(ctx, &model.ContactGroup{UserID: 1, Name: "friends"})
	require.NoError(t, err)
	family, err := repo.CreateGroup(ctx, &model.ContactGroup{UserID: 1, Name: "family"})
	require.NoError(t, err)

	require.NoError(t, repo.AddToGroup(ctx, friends.ID, members[0].ID))
	require.NoError(t, repo.AddToGroup(ctx, friends.ID, members[1].ID))
	require.NoError(t, repo.AddToGroup(ctx, family.ID, members[1].ID)) // in both groups
	require.NoError(t, repo.AddToGroup(ctx, family.ID, members[2].ID))

	t.Run("single group", func(t *testing.T) {
		contacts, err := repo.FindByGroupIDs(ctx, 1, []int64{friends.ID})
		require.NoError(t, err)
		assert.Len(t, contacts, 2)
	})

	t.Run("union without duplicates", func(t *testing.T) {
		contacts, err := repo.FindByGroupIDs(ctx, 1, []int64{friends.ID, family.ID})
		require.NoError(t, err)
		require.Len(t, contacts, 3)
		for _, c := range contacts {
			assert.NotEqual(t, outsider.ID, c.ID)
		}
	})

	t.Run("foreign user sees nothing", func(t *testing.T) {
		contacts, err := repo.FindByGroupIDs(ctx, 2, []int64{friends.ID})
		require.NoError(t, err)
		assert.Empty(t, contacts)
	})
}
