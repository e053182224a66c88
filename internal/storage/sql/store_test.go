package sql

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tempmail/mailbot/internal/domain"
)

// newTestStore 需要 TEMPMAIL_TEST_SQL_DRIVER 与 TEMPMAIL_TEST_SQL_DSN
func newTestStore(t *testing.T) *Store {
	t.Helper()

	driver := os.Getenv("TEMPMAIL_TEST_SQL_DRIVER")
	dsn := os.Getenv("TEMPMAIL_TEST_SQL_DSN")
	if driver == "" || dsn == "" {
		t.Skip("TEMPMAIL_TEST_SQL_DRIVER / TEMPMAIL_TEST_SQL_DSN not set")
	}

	store, err := NewStore(driver, dsn, 5, 2, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore("sqlite", "file::memory:", 1, 1, time.Minute)
	assert.Error(t, err)
}

func TestStoreMailboxLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := int64(uuid.New().ID())

	_, created, err := store.EnsureUser(ctx, domain.UserRef{ID: userID, Username: "gorm"})
	require.NoError(t, err)
	assert.True(t, created)

	user, created, err := store.EnsureUser(ctx, domain.UserRef{ID: userID, Username: "renamed"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "renamed", user.Username)

	first, err := store.InsertActiveMailbox(ctx, userID, uuid.NewString()+"@sql.test")
	require.NoError(t, err)
	second, err := store.InsertActiveMailbox(ctx, userID, uuid.NewString()+"@sql.test")
	require.NoError(t, err)

	_, err = store.InsertActiveMailbox(ctx, userID, second.Email)
	assert.ErrorIs(t, err, domain.ErrAddressTaken)

	oldest, err := store.OldestActiveMailbox(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, oldest.ID)

	require.NoError(t, store.MarkMailboxDeleted(ctx, first.ID))
	require.NoError(t, store.MarkMailboxDeleted(ctx, first.ID))
	assert.ErrorIs(t, store.MarkMailboxDeleted(ctx, -1), domain.ErrMailboxNotFound)

	count, err := store.CountActiveMailboxes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := store.ListActiveMailboxes(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	recent, err := store.RecentMailboxes(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	found, err := store.FindActiveMailbox(ctx, userID, second.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	_, err = store.GetUser(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.NoError(t, store.Health(ctx))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(&pq.Error{Code: "23505"}))
	assert.True(t, isDuplicateKey(&mysqldriver.MySQLError{Number: 1062}))
	assert.False(t, isDuplicateKey(&pq.Error{Code: "23503"}))
	assert.False(t, isDuplicateKey(errors.New("timeout")))
}
