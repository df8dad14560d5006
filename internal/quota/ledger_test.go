package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ubuygold/studygen/internal/logger"
)

type mockCounterStore struct {
	mock.Mock
}

func (m *mockCounterStore) CheckAndIncrement(ctx context.Context, userID, day string, limit int) (bool, int, error) {
	args := m.Called(ctx, userID, day, limit)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *mockCounterStore) Usage(ctx context.Context, userID, day string) (int, error) {
	args := m.Called(ctx, userID, day)
	return args.Int(0), args.Error(1)
}

func (m *mockCounterStore) Report(ctx context.Context, day string) (*Report, error) {
	args := m.Called(ctx, day)
	if r := args.Get(0); r != nil {
		return r.(*Report), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockGrants struct {
	mock.Mock
}

func (m *mockGrants) HasUnlimitedGrant(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// memoryStore is a mutex-guarded CounterStore used to check the ledger arithmetic end to end.
type memoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{counts: make(map[string]int)}
}

func (s *memoryStore) CheckAndIncrement(_ context.Context, userID, day string, limit int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := day + "/" + userID
	if s.counts[key] >= limit {
		return false, s.counts[key], nil
	}
	s.counts[key]++
	return true, s.counts[key], nil
}

func (s *memoryStore) Usage(_ context.Context, userID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[day+"/"+userID], nil
}

func (s *memoryStore) Report(_ context.Context, day string) (*Report, error) {
	return &Report{Day: day}, nil
}

var fixedNow = time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)

func newTestLedger(counters CounterStore, grants GrantChecker, limit int) *Ledger {
	l := NewLedger(counters, grants, limit, logger.Discard())
	l.now = func() time.Time { return fixedNow }
	return l
}

func TestCheckAndIncrement_RemainingCountsDown(t *testing.T) {
	grants := new(mockGrants)
	grants.On("HasUnlimitedGrant", mock.Anything, "student").Return(false, nil)
	ledger := newTestLedger(newMemoryStore(), grants, 3)
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		d := ledger.CheckAndIncrement(ctx, "student")
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.False(t, d.Unlimited)
	}

	d := ledger.CheckAndIncrement(ctx, "student")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), d.ResetAt)
}

func TestCheckAndIncrement_EmptyUser(t *testing.T) {
	counters := new(mockCounterStore)
	grants := new(mockGrants)
	ledger := newTestLedger(counters, grants, 10)

	d := ledger.CheckAndIncrement(context.Background(), "")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	counters.AssertNotCalled(t, "CheckAndIncrement", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	grants.AssertNotCalled(t, "HasUnlimitedGrant", mock.Anything, mock.Anything)
}

func TestCheckAndIncrement_UnlimitedGrant(t *testing.T) {
	counters := new(mockCounterStore)
	grants := new(mockGrants)
	grants.On("HasUnlimitedGrant", mock.Anything, "vip").Return(true, nil)
	ledger := newTestLedger(counters, grants, 0)

	for i := 0; i < 5; i++ {
		d := ledger.CheckAndIncrement(context.Background(), "vip")
		assert.True(t, d.Allowed)
		assert.True(t, d.Unlimited)
		assert.Equal(t, UnlimitedRemaining, d.Remaining)
	}
	counters.AssertNotCalled(t, "CheckAndIncrement", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckAndIncrement_FailsClosed(t *testing.T) {
	t.Run("counter store error", func(t *testing.T) {
		counters := new(mockCounterStore)
		grants := new(mockGrants)
		grants.On("HasUnlimitedGrant", mock.Anything, "student").Return(false, nil)
		counters.On("CheckAndIncrement", mock.Anything, "student", "2026-10-16", 10).Return(false, 0, errors.New("database is locked"))
		ledger := newTestLedger(counters, grants, 10)

		d := ledger.CheckAndIncrement(context.Background(), "student")
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		counters.AssertExpectations(t)
	})

	t.Run("grant lookup error", func(t *testing.T) {
		counters := new(mockCounterStore)
		grants := new(mockGrants)
		grants.On("HasUnlimitedGrant", mock.Anything, "student").Return(false, errors.New("connection refused"))
		ledger := newTestLedger(counters, grants, 10)

		d := ledger.CheckAndIncrement(context.Background(), "student")
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		counters.AssertNotCalled(t, "CheckAndIncrement", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCheckAndIncrement_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	grants := new(mockGrants)
	grants.On("HasUnlimitedGrant", mock.Anything, "racer").Return(false, nil)
	ledger := newTestLedger(newMemoryStore(), grants, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := ledger.CheckAndIncrement(context.Background(), "racer")
			assert.GreaterOrEqual(t, d.Remaining, 0)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestLedgerUsage(t *testing.T) {
	counters := new(mockCounterStore)
	grants := new(mockGrants)
	grants.On("HasUnlimitedGrant", mock.Anything, "student").Return(false, nil)
	grants.On("HasUnlimitedGrant", mock.Anything, "vip").Return(true, nil)
	counters.On("Usage", mock.Anything, "student", "2026-10-16").Return(4, nil)
	counters.On("Usage", mock.Anything, "vip", "2026-10-16").Return(0, nil)
	ledger := newTestLedger(counters, grants, 10)

	usage, err := ledger.Usage(context.Background(), "student", "")
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Count)
	assert.Equal(t, 6, usage.Remaining)
	assert.Equal(t, "2026-10-16", usage.Day)

	usage, err = ledger.Usage(context.Background(), "vip", "2026-10-16")
	require.NoError(t, err)
	assert.True(t, usage.Unlimited)
	assert.Equal(t, UnlimitedRemaining, usage.Remaining)
}

func TestNextReset(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	// 08:00 on the 17th in UTC+9 is still the 16th in UTC.
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), NextReset(now))

	endOfYear := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), NextReset(endOfYear))
}
