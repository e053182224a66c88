package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/provider"
	"tempmail/mailbot/internal/service"
	"tempmail/mailbot/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	client   *provider.Memory
	registry *service.MailboxRegistry
	repo     *MemoryRepository
	manager  *Manager
	clock    time.Time
}

func newFixture(t *testing.T, mailboxes int) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewStore(),
		client: provider.NewMemory("temp.mail"),
		repo:   NewMemoryRepository(),
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.registry = service.NewMailboxRegistry(f.store, f.client, service.RegistryConfig{Limit: 10}, nil)
	f.manager = NewManager(f.repo, f.registry, 5*time.Minute, nil)
	f.manager.now = func() time.Time { return f.clock }

	for i := 0; i < mailboxes; i++ {
		_, err := f.registry.Create(context.Background(), domain.UserRef{ID: 1})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) activeCount(t *testing.T) int {
	t.Helper()
	count, err := f.store.CountActiveMailboxes(context.Background(), 1)
	require.NoError(t, err)
	return count
}

// flakySource 删除时返回暂时性错误
type flakySource struct {
	MailboxSource
	err error
}

func (s *flakySource) Delete(context.Context, int64, int64) (*domain.Mailbox, error) {
	return nil, s.err
}

// countingLocker 记录加锁次数，可模拟锁不可用
type countingLocker struct {
	mu    sync.Mutex
	locks int
	err   error
}

func (l *countingLocker) Lock(context.Context, int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	return func() {}, nil
}

func TestManagerOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("序号从1开始且最新的在前", func(t *testing.T) {
		f := newFixture(t, 3)

		session, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		require.Len(t, session.Entries, 3)
		for i, entry := range session.Entries {
			assert.Equal(t, i+1, entry.Ordinal)
		}
		assert.Greater(t, session.Entries[0].MailboxID, session.Entries[2].MailboxID)
		assert.Equal(t, StateOpen, session.State)
		assert.Equal(t, f.clock.Add(5*time.Minute), session.ExpiresAt)
	})

	t.Run("没有活跃邮箱", func(t *testing.T) {
		f := newFixture(t, 0)

		_, err := f.manager.Open(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNoActiveMailboxes)
		assert.Equal(t, 0, f.repo.Len())
	})

	t.Run("新会话覆盖旧会话", func(t *testing.T) {
		f := newFixture(t, 2)

		first, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)
		second, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		current, err := f.manager.Current(ctx, 1)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, second.ID, current.ID)
		assert.Equal(t, 1, f.repo.Len())
	})
}

func TestManagerSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("按序号删除", func(t *testing.T) {
		f := newFixture(t, 3)
		session, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		mailbox, err := f.manager.Select(ctx, 1, "2")
		require.NoError(t, err)
		assert.Equal(t, session.Entries[1].MailboxID, mailbox.ID)
		assert.False(t, mailbox.IsActive)
		assert.Equal(t, 2, f.activeCount(t))

		current, err := f.manager.Current(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, current)
	})

	t.Run("按地址删除不区分大小写", func(t *testing.T) {
		f := newFixture(t, 2)
		session, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		address := session.Entries[1].Address
		mailbox, err := f.manager.Select(ctx, 1, "  "+strings.ToUpper(address)+" ")
		require.NoError(t, err)
		assert.Equal(t, address, mailbox.Email)
	})

	t.Run("无效回复保持会话打开", func(t *testing.T) {
		f := newFixture(t, 2)
		_, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		for _, input := range []string{"0", "3", "-1", "abc", "", "nobody@temp.mail"} {
			_, err := f.manager.Select(ctx, 1, input)
			assert.ErrorIs(t, err, domain.ErrInvalidSelection, input)
		}

		current, err := f.manager.Current(ctx, 1)
		require.NoError(t, err)
		assert.NotNil(t, current)
		assert.Equal(t, 2, f.activeCount(t))

		_, err = f.manager.Select(ctx, 1, "1")
		assert.NoError(t, err)
	})

	t.Run("重复回复不会重复删除", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		_, err = f.manager.Select(ctx, 1, "1")
		require.NoError(t, err)
		_, err = f.manager.Select(ctx, 1, "2")
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
		assert.Equal(t, 2, f.activeCount(t))
	})

	t.Run("并发回复只删除一次", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.manager.Select(ctx, 1, "1"); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 2, f.activeCount(t))
	})

	t.Run("过期后回复", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		f.clock = f.clock.Add(5 * time.Minute)

		_, err = f.manager.Select(ctx, 1, "1")
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
		assert.Equal(t, 1, f.activeCount(t))
		assert.Equal(t, 0, f.repo.Len())
	})

	t.Run("没有会话", func(t *testing.T) {
		f := newFixture(t, 1)

		_, err := f.manager.Select(ctx, 1, "1")
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
	})

	t.Run("候选邮箱已被删除时结束会话", func(t *testing.T) {
		f := newFixture(t, 2)
		session, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		_, err = f.registry.Delete(ctx, 1, session.Entries[0].MailboxID)
		require.NoError(t, err)

		_, err = f.manager.Select(ctx, 1, "1")
		assert.ErrorIs(t, err, domain.ErrMailboxAlreadyDeleted)

		current, err := f.manager.Current(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, current)
	})

	t.Run("远程服务暂时不可用时保持会话", func(t *testing.T) {
		f := newFixture(t, 1)
		source := &flakySource{MailboxSource: f.registry, err: domain.ErrProviderUnavailable}
		manager := NewManager(f.repo, source, time.Minute, nil)

		_, err := manager.Open(ctx, 1)
		require.NoError(t, err)

		_, err = manager.Select(ctx, 1, "1")
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

		current, err := manager.Current(ctx, 1)
		require.NoError(t, err)
		assert.NotNil(t, current)
	})
}

func TestManagerCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.manager.Open(ctx, 1)
	require.NoError(t, err)

	cancelled, err := f.manager.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = f.manager.Cancel(ctx, 1)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = f.manager.Select(ctx, 1, "1")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, 1, f.activeCount(t))
}

func TestManagerSetLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("会话操作使用替换后的锁", func(t *testing.T) {
		f := newFixture(t, 2)
		locker := &countingLocker{}
		f.manager.SetLocker(locker)

		_, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)
		_, err = f.manager.Select(ctx, 1, "1")
		require.NoError(t, err)
		_, err = f.manager.Cancel(ctx, 1)
		require.NoError(t, err)

		assert.Equal(t, 3, locker.locks)
	})

	t.Run("锁不可用时不改变会话", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.manager.Open(ctx, 1)
		require.NoError(t, err)

		lockErr := errors.New("lock backend down")
		f.manager.SetLocker(&countingLocker{err: lockErr})

		_, err = f.manager.Select(ctx, 1, "1")
		assert.ErrorIs(t, err, lockErr)
		assert.Equal(t, 1, f.activeCount(t))
		assert.Equal(t, 1, f.repo.Len())
	})
}

func TestManagerSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.manager.Open(ctx, 1)
	require.NoError(t, err)

	removed, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	f.clock = f.clock.Add(10 * time.Minute)
	removed, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, f.repo.Len())
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.manager.RunSweeper(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSessionMatch(t *testing.T) {
	session := &Session{Entries: []Entry{
		{Ordinal: 1, MailboxID: 10, Address: "a@temp.mail"},
		{Ordinal: 2, MailboxID: 9, Address: "b@temp.mail"},
	}}

	entry, ok := session.Match("2")
	assert.True(t, ok)
	assert.Equal(t, int64(9), entry.MailboxID)

	entry, ok = session.Match("A@Temp.Mail")
	assert.True(t, ok)
	assert.Equal(t, int64(10), entry.MailboxID)

	_, ok = session.Match("3")
	assert.False(t, ok)
}

func TestMemoryRepositoryIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	original := &Session{UserID: 1, Entries: []Entry{{Ordinal: 1, MailboxID: 1}}, State: StateOpen}
	require.NoError(t, repo.Save(ctx, original))
	original.Entries[0].MailboxID = 99

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Entries[0].MailboxID)

	missing, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
