package monitor

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"clawmon/internal/auth"
	"clawmon/internal/browser"
	"clawmon/internal/coordinate"
	"clawmon/internal/usage"
)

type fakeOpener struct {
	launches []bool // headed flag per Launch call
	closes   int
}

func (o *fakeOpener) Launch(ctx context.Context, headed bool) (*browser.Session, error) {
	o.launches = append(o.launches, headed)
	return &browser.Session{}, nil
}

func (o *fakeOpener) AttachToExisting(ctx context.Context, port int, origin string) (*browser.Session, error) {
	return &browser.Session{}, nil
}

func (o *fakeOpener) Close(s *browser.Session) error {
	o.closes++
	return nil
}

type fakeAuth struct {
	status  auth.ValidationStatus
	outcome auth.LoginOutcome

	validates int
	navigates int
	waits     int
}

func (a *fakeAuth) ValidateSession(ctx context.Context, s *browser.Session) auth.ValidationStatus {
	a.validates++
	return a.status
}

func (a *fakeAuth) NavigateToLogin(ctx context.Context, s *browser.Session, loginPath string) error {
	a.navigates++
	return nil
}

func (a *fakeAuth) WaitForLogin(ctx context.Context, s *browser.Session) auth.LoginOutcome {
	a.waits++
	return a.outcome
}

type fakeEngine struct {
	snap *usage.Snapshot
	err  error
}

func (e *fakeEngine) FetchUsageData(ctx context.Context, s *browser.Session) (*usage.Snapshot, error) {
	return e.snap, e.err
}

func newTestFlow(t *testing.T, hasSession bool, headless bool) (*Flow, *fakeOpener, *fakeAuth) {
	t.Helper()
	opener := &fakeOpener{}
	au := &fakeAuth{status: auth.ValidationValid, outcome: auth.LoginSucceeded}
	f := &Flow{
		mgr:        opener,
		auth:       au,
		engine:     &fakeEngine{snap: &usage.Snapshot{SessionPercent: 12}},
		coord:      coordinate.New(t.TempDir()),
		log:        zap.NewNop(),
		profileDir: t.TempDir(),
		hasSession: func(string) bool { return hasSession },
		origin:     "https://example.test",
		loginPath:  "/login",
		headless:   headless,
	}
	return f, opener, au
}

func TestFetch_FreshProfileSkipsValidation(t *testing.T) {
	f, opener, au := newTestFlow(t, false, true)

	snap, err := f.Fetch(context.Background(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap == nil || snap.SessionPercent != 12 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if au.validates != 0 {
		t.Fatalf("validated %d times, want none before login on an empty profile", au.validates)
	}
	if au.navigates != 1 || au.waits != 1 {
		t.Fatalf("navigates = %d, waits = %d, want 1 each", au.navigates, au.waits)
	}
	if len(opener.launches) != 1 || !opener.launches[0] {
		t.Fatalf("launches = %v, want a single headed launch", opener.launches)
	}
	if state, _ := f.coord.ReadState(); state != coordinate.StateUnknown {
		t.Fatalf("advisory state = %q after login, want cleared", state)
	}
}

func TestFetch_FreshProfileWithoutLoginOpensNoBrowser(t *testing.T) {
	f, opener, au := newTestFlow(t, false, true)

	_, err := f.Fetch(context.Background(), false)
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
	if len(opener.launches) != 0 {
		t.Fatalf("launches = %v, want none", opener.launches)
	}
	if au.validates != 0 {
		t.Fatalf("validated %d times, want none", au.validates)
	}
}

func TestFetch_ValidSessionSkipsLogin(t *testing.T) {
	f, opener, au := newTestFlow(t, true, true)

	if _, err := f.Fetch(context.Background(), true); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if au.validates != 1 {
		t.Fatalf("validates = %d, want 1", au.validates)
	}
	if au.navigates != 0 || au.waits != 0 {
		t.Fatalf("navigates = %d, waits = %d, want 0 each", au.navigates, au.waits)
	}
	if len(opener.launches) != 1 || opener.launches[0] {
		t.Fatalf("launches = %v, want a single headless launch", opener.launches)
	}
}

func TestFetch_RejectedSessionRunsLogin(t *testing.T) {
	f, _, au := newTestFlow(t, true, false)
	au.status = auth.ValidationServerRejected

	if _, err := f.Fetch(context.Background(), true); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if au.validates != 1 || au.navigates != 1 || au.waits != 1 {
		t.Fatalf("validates = %d, navigates = %d, waits = %d, want 1 each", au.validates, au.navigates, au.waits)
	}
}

func TestFetch_RejectedSessionWithoutLoginFails(t *testing.T) {
	f, _, au := newTestFlow(t, true, true)
	au.status = auth.ValidationCookieExpired

	_, err := f.Fetch(context.Background(), false)
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
	if au.navigates != 0 {
		t.Fatalf("navigates = %d, want 0", au.navigates)
	}
}

func TestFetch_LoginTimeoutRecordsFailureState(t *testing.T) {
	f, _, au := newTestFlow(t, false, false)
	au.outcome = auth.LoginTimedOut

	_, err := f.Fetch(context.Background(), true)
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
	if state, _ := f.coord.ReadState(); state != coordinate.StateLoginFailed {
		t.Fatalf("advisory state = %q, want %q", state, coordinate.StateLoginFailed)
	}
}

func TestFetch_CancelledLoginClearsState(t *testing.T) {
	f, _, au := newTestFlow(t, false, false)
	au.outcome = auth.LoginCancelled

	_, err := f.Fetch(context.Background(), true)
	if !errors.Is(err, ErrLoginCancelled) {
		t.Fatalf("err = %v, want ErrLoginCancelled", err)
	}
	if state, _ := f.coord.ReadState(); state != coordinate.StateUnknown {
		t.Fatalf("advisory state = %q, want cleared", state)
	}
}
