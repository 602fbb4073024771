package monitor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"clawmon/internal/auth"
	"clawmon/internal/browser"
	"clawmon/internal/coordinate"
	"clawmon/internal/fetch"
	"clawmon/internal/usage"
)

// ErrLoginCancelled means the user closed the login window before signing in.
var ErrLoginCancelled = errors.New("login window dismissed")

// ErrLoginFailed means an interactive login ran its full budget without a
// session appearing.
var ErrLoginFailed = errors.New("interactive login failed")

type browserOpener interface {
	Launch(ctx context.Context, headed bool) (*browser.Session, error)
	AttachToExisting(ctx context.Context, port int, origin string) (*browser.Session, error)
	Close(s *browser.Session) error
}

type sessionAuth interface {
	ValidateSession(ctx context.Context, s *browser.Session) auth.ValidationStatus
	NavigateToLogin(ctx context.Context, s *browser.Session, loginPath string) error
	WaitForLogin(ctx context.Context, s *browser.Session) auth.LoginOutcome
}

type snapshotFetcher interface {
	FetchUsageData(ctx context.Context, s *browser.Session) (*usage.Snapshot, error)
}

// Flow is the production usageFetcher: it opens a browser session, ensures a
// valid login, and runs the capture pipeline. The caller must hold the
// browser lock for the duration.
type Flow struct {
	mgr    browserOpener
	auth   sessionAuth
	engine snapshotFetcher
	coord  *coordinate.Coordinator
	log    *zap.Logger

	profileDir string
	hasSession func(profileDir string) bool

	origin    string
	loginPath string
	headless  bool
	debugPort int
}

// FlowOptions configures a Flow.
type FlowOptions struct {
	Origin    string
	LoginPath string
	Headless  bool
	// DebugPort attaches to a running browser instead of launching one.
	DebugPort int
}

// NewFlow wires the browser pipeline.
func NewFlow(mgr *browser.Manager, a *auth.Authenticator, engine *fetch.Engine, coord *coordinate.Coordinator, opts FlowOptions, log *zap.Logger) *Flow {
	return &Flow{
		mgr:        mgr,
		auth:       a,
		engine:     engine,
		coord:      coord,
		log:        log,
		profileDir: mgr.ProfileDir(),
		hasSession: auth.HasExistingSession,
		origin:     opts.Origin,
		loginPath:  opts.LoginPath,
		headless:   opts.Headless,
		debugPort:  opts.DebugPort,
	}
}

// Fetch opens a session, validates it, optionally runs interactive login, and
// captures a usage snapshot. The session is always closed before returning.
//
// A profile with no cookie store on disk cannot validate, so that case skips
// the validation probe entirely and goes straight to login: the filesystem
// already answered, no point paying a page load to hear it again.
func (f *Flow) Fetch(ctx context.Context, allowLogin bool) (*usage.Snapshot, error) {
	fresh := !f.hasSession(f.profileDir)
	if fresh && !allowLogin {
		return nil, fmt.Errorf("%w: no stored session", ErrLoginFailed)
	}

	// When a login is certain, open visible from the start instead of
	// launching headless only to relaunch headed.
	s, err := f.open(ctx, !f.headless || fresh)
	if err != nil {
		return nil, err
	}
	// Login handling may swap the session, so close whatever is current.
	defer func() { _ = f.mgr.Close(s) }()

	needLogin := fresh
	if !fresh {
		status := f.auth.ValidateSession(ctx, s)
		f.log.Debug("session validated", zap.String("status", string(status)))

		switch status {
		case auth.ValidationValid, auth.ValidationCheckError:
			// A transient probe failure is not proof of a dead session;
			// try the fetch and let it fail on its own terms.
		default:
			if !allowLogin {
				return nil, fmt.Errorf("%w: session %s", ErrLoginFailed, status)
			}
			if s, err = f.headedSession(ctx, s); err != nil {
				return nil, err
			}
			needLogin = true
		}
	}

	if needLogin {
		if err = f.ensureLoggedIn(ctx, s); err != nil {
			return nil, err
		}
	}

	return f.engine.FetchUsageData(ctx, s)
}

// Login forces an interactive login regardless of the current session state.
// The caller must hold the browser lock.
func (f *Flow) Login(ctx context.Context) error {
	s, err := f.open(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = f.mgr.Close(s) }()

	return f.ensureLoggedIn(ctx, s)
}

func (f *Flow) open(ctx context.Context, headed bool) (*browser.Session, error) {
	if f.debugPort != 0 {
		return f.mgr.AttachToExisting(ctx, f.debugPort, f.origin)
	}
	return f.mgr.Launch(ctx, headed)
}

// headedSession swaps a headless session for a visible one; the user has to
// see the login page to complete it. Attached sessions are left alone.
func (f *Flow) headedSession(ctx context.Context, s *browser.Session) (*browser.Session, error) {
	if !f.headless || s.Attached() {
		return s, nil
	}
	f.log.Info("relaunching with a visible window for login")
	if err := f.mgr.Close(s); err != nil {
		f.log.Warn("close headless session", zap.Error(err))
	}
	return f.mgr.Launch(ctx, true)
}

// ensureLoggedIn advertises the login to other instances, opens the login
// page, and waits for the session cookie to appear.
func (f *Flow) ensureLoggedIn(ctx context.Context, s *browser.Session) error {
	if err := f.coord.WriteState(coordinate.StateLoggingIn, "interactive login open"); err != nil {
		f.log.Warn("advertise login state", zap.Error(err))
	}

	if err := f.auth.NavigateToLogin(ctx, s, f.loginPath); err != nil {
		f.clearState()
		return err
	}

	outcome := f.auth.WaitForLogin(ctx, s)
	switch outcome {
	case auth.LoginSucceeded:
		f.clearState()
		f.log.Info("interactive login completed")
		return nil
	case auth.LoginCancelled:
		f.clearState()
		return ErrLoginCancelled
	default:
		if err := f.coord.WriteState(coordinate.StateLoginFailed, "login timed out"); err != nil {
			f.log.Warn("record login failure", zap.Error(err))
		}
		return fmt.Errorf("%w: timed out", ErrLoginFailed)
	}
}

func (f *Flow) clearState() {
	if err := f.coord.ClearState(); err != nil {
		f.log.Warn("clear advisory state", zap.Error(err))
	}
}
