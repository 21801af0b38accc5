package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwfth/rm-unpick/internal/model"
	"github.com/nwfth/rm-unpick/internal/notify"
	apperrors "github.com/nwfth/rm-unpick/pkg/errors"
)

type fakeGateway struct {
	mu          sync.Mutex
	searchFn    func(runNo int) ([]model.Line, error)
	removeFn    func(runNo int, items []model.Key, user string) (int, error)
	searchCalls int
	removeCalls int
}

func (f *fakeGateway) SearchRecords(ctx context.Context, runNo int) ([]model.Line, error) {
	f.mu.Lock()
	f.searchCalls++
	fn := f.searchFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(runNo)
}

func (f *fakeGateway) RemoveRecords(ctx context.Context, runNo int, items []model.Key, user string) (int, error) {
	f.mu.Lock()
	f.removeCalls++
	fn := f.removeFn
	f.mu.Unlock()
	if fn == nil {
		return len(items), nil
	}
	return fn(runNo, items, user)
}

func (f *fakeGateway) removes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeCalls
}

type fakeIdentity struct {
	user model.User
	err  error
}

func (f fakeIdentity) Require() (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	return f.user, nil
}

func ptr(v float64) *float64 { return &v }

// runLines builds a result set of n eligible lines plus one fully picked and
// one with no pending quantity, mirroring the mixed runs seen in production.
func runLines(runNo, n int) []model.Line {
	lines := make([]model.Line, 0, n+2)
	for i := 1; i <= n; i++ {
		lines = append(lines, model.Line{
			RunNo: runNo, RowNum: i, LineID: 1, ItemKey: "ITEM", ToPickedPartialQty: 5,
		})
	}
	lines = append(lines,
		model.Line{RunNo: runNo, RowNum: n + 1, LineID: 1, ToPickedPartialQty: 5, PickedPartialQty: ptr(5)},
		model.Line{RunNo: runNo, RowNum: n + 2, LineID: 1, ToPickedPartialQty: 0},
	)
	return lines
}

func newReadyStore(t *testing.T, gw *fakeGateway, runNo int) *Store {
	t.Helper()
	s := New(gw, fakeIdentity{user: model.User{Username: "deachawat"}}, nil, nil)
	require.NoError(t, s.Search(context.Background(), runNo))
	return s
}

func TestSearchLoadsResultSet(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 8), nil
	}}
	s := newReadyStore(t, gw, 1001)

	snap := s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, 1001, snap.RunNo)
	assert.Len(t, snap.Lines, 10)
	assert.Empty(t, snap.Selected)
	assert.Empty(t, snap.Err)
	assert.Empty(t, snap.Note)
}

func TestSelectAllPicksExactlyEligibleRecords(t *testing.T) {
	// A mixed run: the fully-picked row and the row without pending
	// quantity are ineligible, the remaining 8 get selected.
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 8), nil
	}}
	s := newReadyStore(t, gw, 1001)

	s.SelectAll()

	snap := s.Snapshot()
	require.Len(t, snap.Selected, 8)
	assert.Equal(t, 8, s.SelectableCount())
	for _, k := range snap.Selected {
		assert.True(t, k.RowNum <= 8, "ineligible row %d selected", k.RowNum)
	}
}

func TestZeroResultSearchIsInformational(t *testing.T) {
	// An empty result set is a note, not an error.
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return nil, nil
	}}
	s := New(gw, fakeIdentity{}, nil, nil)

	require.NoError(t, s.Search(context.Background(), 999999))
	snap := s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Empty(t, snap.Err)
	assert.Equal(t, "No records found for RunNo: 999999", snap.Note)
}

func TestSearchFailureClearsResultSet(t *testing.T) {
	calls := 0
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		calls++
		if calls > 1 {
			return nil, apperrors.New(apperrors.KindConnectivity, "unable to connect to server")
		}
		return runLines(runNo, 3), nil
	}}
	s := newReadyStore(t, gw, 1001)
	s.SelectAll()

	err := s.Search(context.Background(), 1002)
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Empty(t, snap.Lines)
	assert.Empty(t, snap.Selected)
	assert.Equal(t, "unable to connect to server", snap.Err)
}

func TestSearchResetsSelection(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 4), nil
	}}
	s := newReadyStore(t, gw, 1001)
	s.SelectAll()
	require.NotEmpty(t, s.Snapshot().Selected)

	require.NoError(t, s.Search(context.Background(), 1001))
	assert.Empty(t, s.Snapshot().Selected)
}

func TestSetSelectionFiltersForeignAndIneligibleKeys(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 3), nil
	}}
	s := newReadyStore(t, gw, 1001)

	s.SetSelection([]model.Key{
		{RowNum: 1, LineID: 1},  // eligible
		{RowNum: 4, LineID: 1},  // fully picked, ineligible
		{RowNum: 99, LineID: 9}, // absent from the result set
	})

	snap := s.Snapshot()
	assert.Equal(t, []model.Key{{RowNum: 1, LineID: 1}}, snap.Selected)
}

func TestToggleSelectionRoundTrip(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 3), nil
	}}
	s := newReadyStore(t, gw, 1001)

	s.ToggleSelection(2, 1)
	assert.True(t, s.IsSelected(2, 1))
	s.ToggleSelection(2, 1)
	assert.False(t, s.IsSelected(2, 1))
}

func TestToggleSelectionIgnoresIneligibleRecord(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 3), nil
	}}
	s := newReadyStore(t, gw, 1001)

	s.ToggleSelection(4, 1)  // fully picked
	s.ToggleSelection(77, 3) // absent
	assert.Empty(t, s.Snapshot().Selected)
}

func TestRemoveDeletesConfirmedRecords(t *testing.T) {
	gw := &fakeGateway{
		searchFn: func(runNo int) ([]model.Line, error) { return runLines(runNo, 5), nil },
		removeFn: func(runNo int, items []model.Key, user string) (int, error) {
			return len(items), nil
		},
	}
	s := newReadyStore(t, gw, 1001)
	s.ToggleSelection(1, 1)
	s.ToggleSelection(3, 1)

	result, err := s.Remove(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Affected)
	require.Len(t, result.Removed, 2)

	snap := s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Empty(t, snap.Selected)

	// 7 lines fetched (5 eligible + 2 ineligible), 2 removed: exactly the
	// unselected rows survive, ineligible ones included.
	remaining := make([]model.Key, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		remaining = append(remaining, line.Key())
	}
	assert.Equal(t, []model.Key{
		{RowNum: 2, LineID: 1},
		{RowNum: 4, LineID: 1},
		{RowNum: 5, LineID: 1},
		{RowNum: 6, LineID: 1},
		{RowNum: 7, LineID: 1},
	}, remaining)
}

func TestRemoveReportsBackendAffectedCount(t *testing.T) {
	gw := &fakeGateway{
		searchFn: func(runNo int) ([]model.Line, error) { return runLines(runNo, 5), nil },
		removeFn: func(runNo int, items []model.Key, user string) (int, error) {
			// Backend resolved one key to an already-removed row.
			return len(items) - 1, nil
		},
	}
	s := newReadyStore(t, gw, 1001)
	s.SelectAll()

	result, err := s.Remove(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Affected)
}

func TestRemoveFailureLeavesStateUntouched(t *testing.T) {
	// A 401 on remove surfaces as session expiry; nothing mutates locally.
	gw := &fakeGateway{
		searchFn: func(runNo int) ([]model.Line, error) { return runLines(runNo, 5), nil },
		removeFn: func(runNo int, items []model.Key, user string) (int, error) {
			return 0, apperrors.ErrSessionExpired
		},
	}
	s := newReadyStore(t, gw, 1001)
	s.SelectAll()
	before := s.Snapshot()

	_, err := s.Remove(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSessionExpired))

	after := s.Snapshot()
	assert.Equal(t, before.Lines, after.Lines)
	assert.Equal(t, before.Selected, after.Selected)
	assert.Equal(t, StatusError, after.Status)
	assert.NotEmpty(t, after.Err)
}

func TestRemoveWithEmptySelectionIsLocalFailure(t *testing.T) {
	// An empty selection fails locally; the gateway is never called.
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 3), nil
	}}
	s := newReadyStore(t, gw, 1001)

	_, err := s.Remove(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, 0, gw.removes())
}

func TestRemoveWithoutRunIsLocalFailure(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, fakeIdentity{user: model.User{Username: "op"}}, nil, nil)

	_, err := s.Remove(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, 0, gw.removes())
}

func TestRemoveWithoutIdentityIsLocalFailure(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 3), nil
	}}
	s := New(gw, fakeIdentity{err: apperrors.ErrNotAuthenticated}, nil, nil)
	require.NoError(t, s.Search(context.Background(), 1001))
	s.SelectAll()

	_, err := s.Remove(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthentication))
	assert.Equal(t, 0, gw.removes())
}

func TestRemoveBlockedWhileSearchInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		close(started)
		<-release
		return runLines(runNo, 3), nil
	}}
	s := New(gw, fakeIdentity{user: model.User{Username: "op"}}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Search(context.Background(), 1001) }()
	<-started

	_, err := s.Remove(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestSearchBlockedWhileRemoveInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gw := &fakeGateway{
		searchFn: func(runNo int) ([]model.Line, error) { return runLines(runNo, 3), nil },
		removeFn: func(runNo int, items []model.Key, user string) (int, error) {
			close(started)
			<-release
			return len(items), nil
		},
	}
	s := newReadyStore(t, gw, 1001)
	s.SelectAll()

	done := make(chan error, 1)
	go func() {
		_, err := s.Remove(context.Background())
		done <- err
	}()
	<-started

	err := s.Search(context.Background(), 1002)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestSupersededSearchResultIsDiscarded(t *testing.T) {
	firstRelease := make(chan struct{})
	firstStarted := make(chan struct{})
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		if runNo == 1001 {
			close(firstStarted)
			<-firstRelease
			return runLines(runNo, 9), nil
		}
		return runLines(runNo, 2), nil
	}}
	s := New(gw, fakeIdentity{}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Search(context.Background(), 1001) }()
	<-firstStarted

	require.NoError(t, s.Search(context.Background(), 1002))
	close(firstRelease)
	require.NoError(t, <-done)

	snap := s.Snapshot()
	assert.Equal(t, 1002, snap.RunNo)
	assert.Len(t, snap.Lines, 4, "stale run 1001 result must not overwrite run 1002")
}

func TestResetReturnsToInitialState(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 3), nil
	}}
	s := newReadyStore(t, gw, 1001)
	s.SelectAll()

	s.Reset()
	snap := s.Snapshot()
	assert.Equal(t, StatusInitial, snap.Status)
	assert.Zero(t, snap.RunNo)
	assert.Empty(t, snap.Lines)
	assert.Empty(t, snap.Selected)
	assert.Empty(t, snap.Err)
	assert.Empty(t, snap.Note)
}

func TestNotificationsPublished(t *testing.T) {
	bus := notify.New()
	var mu sync.Mutex
	var got []notify.Notification
	bus.Subscribe(func(n notify.Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 2), nil
	}}
	s := New(gw, fakeIdentity{user: model.User{Username: "op"}}, bus, nil)
	require.NoError(t, s.Search(context.Background(), 1001))
	s.SelectAll()
	_, err := s.Remove(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, notify.LevelInfo, got[0].Level)
	assert.Equal(t, notify.LevelSuccess, got[1].Level)
	assert.Contains(t, got[1].Message, "Removed 2 record(s)")
}

func TestSearchErrorMessagePropagation(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return nil, errors.New("boom")
	}}
	s := New(gw, fakeIdentity{}, nil, nil)

	err := s.Search(context.Background(), 1001)
	require.Error(t, err)
	assert.Equal(t, "boom", s.Snapshot().Err)
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 2), nil
	}}
	s := newReadyStore(t, gw, 1001)

	snap := s.Snapshot()
	snap.Lines[0].ItemKey = "MUTATED"
	assert.Equal(t, "ITEM", s.Snapshot().Lines[0].ItemKey)
}

func TestConcurrentTogglesKeepInvariant(t *testing.T) {
	gw := &fakeGateway{searchFn: func(runNo int) ([]model.Line, error) {
		return runLines(runNo, 8), nil
	}}
	s := newReadyStore(t, gw, 1001)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()
			s.ToggleSelection(row, 1)
		}(i)
	}
	waitTimeout(t, &wg, time.Second)
	assert.Len(t, s.Snapshot().Selected, 8)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("timed out waiting for goroutines")
	}
}
