// Package monitor runs the refresh cycle: coordinate with other instances,
// drive the browser pipeline, and merge the result with local telemetry and
// the service status feed into a single report for the display.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"clawmon/internal/coordinate"
	"clawmon/internal/fetch"
	"clawmon/internal/localusage"
	"clawmon/internal/statuspage"
	"clawmon/internal/usage"
)

// Outcome classifies a refresh cycle for the display layer. Each value gets
// its own badge; none of them are collapsed into a generic error.
type Outcome string

const (
	// OutcomeOK means a snapshot was captured this cycle.
	OutcomeOK Outcome = "ok"
	// OutcomeBrowserBusy means another instance held the browser lock for
	// the whole acquisition window.
	OutcomeBrowserBusy Outcome = "browser_busy"
	// OutcomeLoginInProgress means another instance advertised an active
	// interactive login, so this cycle stood down entirely.
	OutcomeLoginInProgress Outcome = "login_in_progress"
	// OutcomeLoginRequired means the user dismissed the login window; the
	// monitor will not reopen it until explicitly asked to retry.
	OutcomeLoginRequired Outcome = "login_required"
	// OutcomeLoginFailed means an interactive login timed out or was
	// recorded as failed by a previous cycle.
	OutcomeLoginFailed Outcome = "login_failed"
	// OutcomeFetchFailed means the browser pipeline ran but produced no
	// snapshot; FailureKind carries the detail.
	OutcomeFetchFailed Outcome = "fetch_failed"
)

// Report is the merged result of one refresh cycle. Snapshot is nil when the
// cycle produced nothing; Local and Service are populated regardless so the
// display can degrade instead of going blank.
type Report struct {
	Outcome     Outcome
	Snapshot    *usage.Snapshot
	Local       localusage.Summary
	Service     statuspage.Status
	FailureKind fetch.FailureKind
	Err         error
	At          time.Time
}

type coordinator interface {
	ReadState() (coordinate.State, string)
	ClearState() error
	AcquireBrowserLock(ctx context.Context) (coordinate.Releaser, error)
}

type usageFetcher interface {
	Fetch(ctx context.Context, allowLogin bool) (*usage.Snapshot, error)
}

type localReader interface {
	Current() localusage.Summary
}

type serviceReader interface {
	Current(ctx context.Context) (statuspage.Status, error)
}

type snapshotSink interface {
	Append(ctx context.Context, snap usage.Snapshot, local localusage.Summary) error
	Prune(ctx context.Context, keep time.Duration) error
}

// Monitor owns the cycle state machine. It is safe for a ticker and a
// keypress handler to call RunCycle concurrently; overlapping calls collapse
// into one.
type Monitor struct {
	coord   coordinator
	fetcher usageFetcher
	local   localReader
	service serviceReader
	sink    snapshotSink
	keep    time.Duration
	log     *zap.Logger

	cycleMu sync.Mutex

	mu             sync.Mutex
	loginCancelled bool
	retryRequested bool
	last           Report
}

// New wires a Monitor. local, service and sink may be nil; the corresponding
// report fields stay zero.
func New(coord coordinator, fetcher usageFetcher, local localReader, service serviceReader, sink snapshotSink, keep time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		coord:   coord,
		fetcher: fetcher,
		local:   local,
		service: service,
		sink:    sink,
		keep:    keep,
		log:     log,
	}
}

// RetryLogin clears the dismissed-login latch so the next cycle may open the
// login window again.
func (m *Monitor) RetryLogin() {
	m.mu.Lock()
	m.loginCancelled = false
	m.retryRequested = true
	m.mu.Unlock()
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// RunCycle executes one refresh cycle and returns the merged report. A call
// that arrives while a cycle is already running returns the previous report
// untouched; cycles never overlap.
func (m *Monitor) RunCycle(ctx context.Context) Report {
	if !m.cycleMu.TryLock() {
		return m.Last()
	}
	defer m.cycleMu.Unlock()

	rep := m.capture(ctx)
	rep.At = time.Now()
	m.fillAmbient(ctx, &rep)

	m.mu.Lock()
	// Carry the last good snapshot through failed cycles so the display
	// shows stale data instead of none.
	if rep.Snapshot == nil && m.last.Snapshot != nil {
		rep.Snapshot = m.last.Snapshot
	}
	m.last = rep
	m.mu.Unlock()

	return rep
}

func (m *Monitor) capture(ctx context.Context) Report {
	state, reason := m.coord.ReadState()

	if state == coordinate.StateLoggingIn {
		m.log.Info("skipping cycle, login in progress elsewhere", zap.String("reason", reason))
		return Report{Outcome: OutcomeLoginInProgress}
	}

	m.mu.Lock()
	retry := m.retryRequested
	cancelled := m.loginCancelled
	m.retryRequested = false
	m.mu.Unlock()

	if state == coordinate.StateLoginFailed && !retry {
		return Report{Outcome: OutcomeLoginFailed, Err: errors.New(reason)}
	}
	if cancelled && !retry {
		return Report{Outcome: OutcomeLoginRequired}
	}
	if retry {
		if err := m.coord.ClearState(); err != nil {
			m.log.Warn("clear advisory state", zap.Error(err))
		}
	}

	rel, err := m.coord.AcquireBrowserLock(ctx)
	if err != nil {
		if errors.Is(err, coordinate.ErrBrowserBusy) {
			return Report{Outcome: OutcomeBrowserBusy, Err: err}
		}
		return Report{Outcome: OutcomeFetchFailed, Err: err}
	}
	defer rel.Release()

	snap, err := m.fetcher.Fetch(ctx, true)
	switch {
	case err == nil:
		return Report{Outcome: OutcomeOK, Snapshot: snap}
	case errors.Is(err, ErrLoginCancelled):
		m.mu.Lock()
		m.loginCancelled = true
		m.mu.Unlock()
		return Report{Outcome: OutcomeLoginRequired, Err: err}
	case errors.Is(err, ErrLoginFailed):
		return Report{Outcome: OutcomeLoginFailed, Err: err}
	default:
		return Report{Outcome: OutcomeFetchFailed, Err: err, FailureKind: fetch.KindOf(err)}
	}
}

func (m *Monitor) fillAmbient(ctx context.Context, rep *Report) {
	if m.local != nil {
		rep.Local = m.local.Current()
	}
	if m.service != nil {
		if status, err := m.service.Current(ctx); err == nil {
			rep.Service = status
		} else {
			m.log.Debug("status feed unavailable", zap.Error(err))
		}
	}
	if m.sink != nil && rep.Outcome == OutcomeOK && rep.Snapshot != nil {
		if err := m.sink.Append(ctx, *rep.Snapshot, rep.Local); err != nil {
			m.log.Warn("record snapshot", zap.Error(err))
		}
		if err := m.sink.Prune(ctx, m.keep); err != nil {
			m.log.Warn("prune history", zap.Error(err))
		}
	}
}
