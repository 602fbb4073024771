package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clawmon/internal/coordinate"
	"clawmon/internal/fetch"
	"clawmon/internal/localusage"
	"clawmon/internal/statuspage"
	"clawmon/internal/usage"
)

type fakeCoordinator struct {
	mu       sync.Mutex
	state    coordinate.State
	reason   string
	busy     bool
	acquires int
	releases int
	clears   int
}

func (c *fakeCoordinator) ReadState() (coordinate.State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.reason
}

func (c *fakeCoordinator) ClearState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	c.state = coordinate.StateUnknown
	return nil
}

type fakeReleaser struct{ c *fakeCoordinator }

func (r fakeReleaser) Release() {
	r.c.mu.Lock()
	r.c.releases++
	r.c.mu.Unlock()
}

func (c *fakeCoordinator) AcquireBrowserLock(ctx context.Context) (coordinate.Releaser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, coordinate.ErrBrowserBusy
	}
	c.acquires++
	return fakeReleaser{c}, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	snap  *usage.Snapshot
	err   error
	calls int
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, allowLogin bool) (*usage.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.snap, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocal struct{ sum localusage.Summary }

func (f fakeLocal) Current() localusage.Summary { return f.sum }

type fakeService struct {
	status statuspage.Status
	err    error
}

func (f fakeService) Current(ctx context.Context) (statuspage.Status, error) {
	return f.status, f.err
}

type fakeSink struct {
	mu       sync.Mutex
	appended []usage.Snapshot
	pruned   int
}

func (f *fakeSink) Append(ctx context.Context, snap usage.Snapshot, local localusage.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, snap)
	return nil
}

func (f *fakeSink) Prune(ctx context.Context, keep time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	return nil
}

func newTestMonitor(coord *fakeCoordinator, fetcher *fakeFetcher, sink *fakeSink) *Monitor {
	var s snapshotSink
	if sink != nil {
		s = sink
	}
	return New(coord, fetcher,
		fakeLocal{sum: localusage.Summary{TodayTokens: 1234}},
		fakeService{status: statuspage.Status{Indicator: statuspage.IndicatorNone}},
		s, 24*time.Hour, zap.NewNop())
}

func TestRunCycleHappyPath(t *testing.T) {
	coord := &fakeCoordinator{}
	snap := &usage.Snapshot{SessionPercent: 73, SessionReset: "2h 15m", CapturedAt: time.Now()}
	fetcher := &fakeFetcher{snap: snap}
	sink := &fakeSink{}

	m := newTestMonitor(coord, fetcher, sink)
	rep := m.RunCycle(context.Background())

	assert.Equal(t, OutcomeOK, rep.Outcome)
	require.NotNil(t, rep.Snapshot)
	assert.Equal(t, 73.0, rep.Snapshot.SessionPercent)
	assert.Equal(t, int64(1234), rep.Local.TodayTokens)
	assert.Equal(t, 1, coord.acquires)
	assert.Equal(t, 1, coord.releases)
	require.Len(t, sink.appended, 1)
	assert.Equal(t, 1, sink.pruned)
}

func TestRunCycleBrowserBusyKeepsLastSnapshot(t *testing.T) {
	coord := &fakeCoordinator{}
	snap := &usage.Snapshot{SessionPercent: 50}
	fetcher := &fakeFetcher{snap: snap}

	m := newTestMonitor(coord, fetcher, nil)
	first := m.RunCycle(context.Background())
	require.Equal(t, OutcomeOK, first.Outcome)

	coord.busy = true
	second := m.RunCycle(context.Background())

	assert.Equal(t, OutcomeBrowserBusy, second.Outcome)
	assert.ErrorIs(t, second.Err, coordinate.ErrBrowserBusy)
	require.NotNil(t, second.Snapshot)
	assert.Equal(t, 50.0, second.Snapshot.SessionPercent)
	assert.Equal(t, int64(1234), second.Local.TodayTokens)
}

func TestRunCycleStandsDownDuringRemoteLogin(t *testing.T) {
	coord := &fakeCoordinator{state: coordinate.StateLoggingIn, reason: "pid 4321"}
	fetcher := &fakeFetcher{}

	m := newTestMonitor(coord, fetcher, nil)
	rep := m.RunCycle(context.Background())

	assert.Equal(t, OutcomeLoginInProgress, rep.Outcome)
	assert.Zero(t, fetcher.callCount())
	assert.Zero(t, coord.acquires)
}

func TestRunCycleLoginFailedStateIsSticky(t *testing.T) {
	coord := &fakeCoordinator{state: coordinate.StateLoginFailed, reason: "login timed out"}
	fetcher := &fakeFetcher{snap: &usage.Snapshot{SessionPercent: 10}}

	m := newTestMonitor(coord, fetcher, nil)
	rep := m.RunCycle(context.Background())
	assert.Equal(t, OutcomeLoginFailed, rep.Outcome)
	assert.Zero(t, fetcher.callCount())

	m.RetryLogin()
	rep = m.RunCycle(context.Background())
	assert.Equal(t, OutcomeOK, rep.Outcome)
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, 1, coord.clears)
}

func TestRunCycleCancelledLoginLatches(t *testing.T) {
	coord := &fakeCoordinator{}
	fetcher := &fakeFetcher{err: ErrLoginCancelled}

	m := newTestMonitor(coord, fetcher, nil)
	rep := m.RunCycle(context.Background())
	assert.Equal(t, OutcomeLoginRequired, rep.Outcome)
	assert.Equal(t, 1, fetcher.callCount())

	// Subsequent cycles must not reopen the login window on their own.
	rep = m.RunCycle(context.Background())
	assert.Equal(t, OutcomeLoginRequired, rep.Outcome)
	assert.Equal(t, 1, fetcher.callCount())

	fetcher.err = nil
	fetcher.snap = &usage.Snapshot{SessionPercent: 5}
	m.RetryLogin()
	rep = m.RunCycle(context.Background())
	assert.Equal(t, OutcomeOK, rep.Outcome)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestRunCycleFetchFailureCarriesKind(t *testing.T) {
	coord := &fakeCoordinator{}
	fetcher := &fakeFetcher{err: &fetch.Error{Kind: fetch.FailLayoutChanged, Err: errors.New("no percent found")}}

	m := newTestMonitor(coord, fetcher, nil)
	rep := m.RunCycle(context.Background())

	assert.Equal(t, OutcomeFetchFailed, rep.Outcome)
	assert.Equal(t, fetch.FailLayoutChanged, rep.FailureKind)
	assert.Equal(t, 1, coord.releases)
}

func TestRunCycleNeverOverlaps(t *testing.T) {
	coord := &fakeCoordinator{}
	block := make(chan struct{})
	fetcher := &fakeFetcher{snap: &usage.Snapshot{}, block: block}

	m := newTestMonitor(coord, fetcher, nil)

	done := make(chan Report, 1)
	go func() { done <- m.RunCycle(context.Background()) }()

	// Wait for the first cycle to enter the fetcher.
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// A concurrent call returns immediately without a second fetch.
	rep := m.RunCycle(context.Background())
	assert.Equal(t, 1, fetcher.callCount())
	assert.Nil(t, rep.Snapshot)

	close(block)
	first := <-done
	assert.Equal(t, OutcomeOK, first.Outcome)
}
