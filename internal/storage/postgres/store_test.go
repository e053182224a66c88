package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/mailbot/internal/config"
	"tempmail/mailbot/internal/domain"
)

// newTestStore 需要 TEMPMAIL_TEST_POSTGRES_DSN 指向可写的测试库
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEMPMAIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEMPMAIL_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	client, err := New(ctx, &config.DatabaseConfig{DSN: dsn, MaxOpenConns: 5}, nil)
	require.NoError(t, err)

	store := NewStore(client)
	require.NoError(t, store.EnsureSchema(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testUserID 避免多次运行之间互相干扰
func testUserID() int64 {
	return int64(uuid.New().ID())
}

func TestStoreMailboxLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	_, created, err := store.EnsureUser(ctx, domain.UserRef{ID: userID, Username: "pg"})
	require.NoError(t, err)
	assert.True(t, created)

	first, err := store.InsertActiveMailbox(ctx, userID, uuid.NewString()+"@pg.test")
	require.NoError(t, err)
	second, err := store.InsertActiveMailbox(ctx, userID, uuid.NewString()+"@pg.test")
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	_, err = store.InsertActiveMailbox(ctx, userID, first.Email)
	assert.ErrorIs(t, err, domain.ErrAddressTaken)

	oldest, err := store.OldestActiveMailbox(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, oldest.ID)

	require.NoError(t, store.MarkMailboxDeleted(ctx, first.ID))
	deleted, err := store.GetMailbox(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.RemovedAt)

	// 重复标记不改变删除时间
	require.NoError(t, store.MarkMailboxDeleted(ctx, first.ID))
	again, err := store.GetMailbox(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, again.IsActive)
	assert.True(t, deleted.RemovedAt.Equal(*again.RemovedAt))

	count, err := store.CountActiveMailboxes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recent, err := store.RecentMailboxes(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.NotNil(t, recent[1].RemovedAt)

	found, err := store.FindActiveMailbox(ctx, userID, first.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = store.GetMailbox(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	assert.ErrorIs(t, store.MarkMailboxDeleted(ctx, -1), domain.ErrMailboxNotFound)
}

func TestStoreEnsureUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := testUserID()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.EnsureUser(ctx, domain.UserRef{ID: userID})
			if assert.NoError(t, err) && created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)

	user, _, err := store.EnsureUser(ctx, domain.UserRef{ID: userID, Username: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", user.Username)

	user, _, err = store.EnsureUser(ctx, domain.UserRef{ID: userID})
	require.NoError(t, err)
	assert.Equal(t, "renamed", user.Username)
}
