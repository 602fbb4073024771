// Package auth decides whether the saved browser session is still usable and
// drives the interactive login flow when it is not.
package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"clawmon/internal/browser"
	"clawmon/internal/retry"
)

// ValidationStatus is the closed outcome set of a session validation.
type ValidationStatus string

const (
	ValidationValid          ValidationStatus = "valid"
	ValidationCookieMissing  ValidationStatus = "cookie_missing"
	ValidationCookieExpired  ValidationStatus = "cookie_expired"
	ValidationServerRejected ValidationStatus = "server_rejected"
	// ValidationCheckError is a transient probe failure. Callers should try
	// fetching anyway rather than forcing a re-login; the two have very
	// different costs.
	ValidationCheckError ValidationStatus = "check_error"
)

// LoginOutcome is the closed outcome set of an interactive login wait.
type LoginOutcome string

const (
	LoginSucceeded LoginOutcome = "succeeded"
	LoginCancelled LoginOutcome = "cancelled"
	LoginTimedOut  LoginOutcome = "timed_out"
)

// CookieCheck reports the session cookie's presence and expiry. A transient
// failure lands in Err instead of being conflated with "cookie absent".
type CookieCheck struct {
	Exists  bool
	Expired bool
	Err     error
}

const (
	cookieCheckTimeout = 5 * time.Second
	navigateTimeout    = 45 * time.Second
	probeTimeout       = 10 * time.Second

	loginWaitBudget = 300 * time.Second
	loginPoll       = 2 * time.Second
)

// Authenticator validates sessions against one target origin.
type Authenticator struct {
	origin     string
	cookieName string
	probePath  string
	log        *zap.Logger

	// Seams over the browser-touching steps so validation decisions are
	// testable without a live page.
	cookieCheck func(ctx context.Context, s *browser.Session) CookieCheck
	probe       func(ctx context.Context, s *browser.Session) (int, error)
}

func New(origin, cookieName, probePath string, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Authenticator{origin: origin, cookieName: cookieName, probePath: probePath, log: log}
	a.cookieCheck = a.CheckCookie
	a.probe = a.probeStatus
	return a
}

// HasExistingSession reports whether the profile directory holds a non-empty
// cookie store. Cheap and synchronous; no browser or network involved.
func HasExistingSession(profileDir string) bool {
	candidates := []string{
		filepath.Join(profileDir, "Default", "Network", "Cookies"),
		filepath.Join(profileDir, "Default", "Cookies"),
		filepath.Join(profileDir, "Cookies"),
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return true
		}
	}
	return false
}

// ClearSession deletes the profile directory recursively, wiping the saved
// identity. A file held open by a running browser makes this fail.
func ClearSession(profileDir string) error {
	if err := os.RemoveAll(profileDir); err != nil {
		return fmt.Errorf("could not remove browser profile %s (is a browser still running?): %w", profileDir, err)
	}
	return nil
}

// CheckCookie reads the session cookie for the target origin, navigating
// there first only if the page is elsewhere. The read is bounded at five
// seconds so a hung network fails fast.
func (a *Authenticator) CheckCookie(ctx context.Context, s *browser.Session) CookieCheck {
	page, err := s.Page()
	if err != nil {
		return CookieCheck{Err: err}
	}

	if err := a.ensureOnOrigin(ctx, page); err != nil {
		return CookieCheck{Err: fmt.Errorf("navigate to %s: %w", a.origin, err)}
	}

	cookies, err := page.Context(ctx).Timeout(cookieCheckTimeout).Cookies([]string{a.origin})
	if err != nil {
		return CookieCheck{Err: fmt.Errorf("read cookies: %w", err)}
	}

	for _, c := range cookies {
		if c.Name != a.cookieName {
			continue
		}
		expired := c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(time.Now())
		return CookieCheck{Exists: true, Expired: expired}
	}
	return CookieCheck{}
}

// ValidateSession decides whether the saved session is usable: a cheap cookie
// check first, then one lightweight authenticated API probe issued from the
// page context instead of a full navigation.
func (a *Authenticator) ValidateSession(ctx context.Context, s *browser.Session) ValidationStatus {
	check := a.cookieCheck(ctx, s)
	switch {
	case check.Err != nil:
		a.log.Debug("cookie check failed", zap.Error(check.Err))
		return ValidationCheckError
	case !check.Exists:
		return ValidationCookieMissing
	case check.Expired:
		return ValidationCookieExpired
	}

	status, err := a.probe(ctx, s)
	if err != nil {
		// A failed probe call is transient, not a verdict on the session.
		a.log.Debug("auth probe failed", zap.Error(err))
		return ValidationCheckError
	}
	if status < 200 || status > 299 {
		a.log.Debug("auth probe rejected", zap.Int("status", status))
		return ValidationServerRejected
	}
	return ValidationValid
}

// probeStatus issues the lightweight authenticated API call from the page
// context, so the browser attaches the session cookie itself.
func (a *Authenticator) probeStatus(ctx context.Context, s *browser.Session) (int, error) {
	page, err := s.Page()
	if err != nil {
		return 0, err
	}
	res, err := page.Context(ctx).Timeout(probeTimeout).Evaluate(&rod.EvalOptions{
		JS: `async (path) => {
			const r = await fetch(path, { headers: { accept: 'application/json' } });
			return r.status;
		}`,
		JSArgs:       []interface{}{a.probePath},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// NavigateToLogin sends the page to the login screen for an interactive
// sign-in.
func (a *Authenticator) NavigateToLogin(ctx context.Context, s *browser.Session, loginPath string) error {
	page, err := s.Page()
	if err != nil {
		return err
	}
	return page.Context(ctx).Timeout(navigateTimeout).Navigate(a.origin + loginPath)
}

// WaitForLogin polls for the session cookie until it appears, the user
// closes the browser, or the wait budget elapses. A user-initiated closure is
// reported as cancelled, not timed out.
func (a *Authenticator) WaitForLogin(ctx context.Context, s *browser.Session) LoginOutcome {
	var outcome LoginOutcome

	policy := retry.Policy{Interval: loginPoll, MaxAttempts: int(loginWaitBudget / loginPoll)}
	err := policy.Until(ctx, func(ctx context.Context) (bool, error) {
		page, err := s.Page()
		if err != nil {
			outcome = LoginCancelled
			return true, nil
		}
		cookies, err := page.Context(ctx).Timeout(cookieCheckTimeout).Cookies([]string{a.origin})
		if err != nil {
			if isDisconnected(err) {
				outcome = LoginCancelled
				return true, nil
			}
			// Transient read failure; keep waiting.
			return false, nil
		}
		for _, c := range cookies {
			if c.Name == a.cookieName {
				outcome = LoginSucceeded
				return true, nil
			}
		}
		return false, nil
	})

	switch {
	case err == nil:
		return outcome
	case err == retry.ErrExhausted:
		return LoginTimedOut
	default:
		// Context cancelled from outside counts as cancellation too.
		return LoginCancelled
	}
}

// ensureOnOrigin navigates only when the page is not already on the target
// origin, avoiding a redundant page load on every check.
func (a *Authenticator) ensureOnOrigin(ctx context.Context, page *rod.Page) error {
	info, err := page.Info()
	if err == nil && strings.HasPrefix(info.URL, a.origin) {
		return nil
	}
	p := page.Context(ctx).Timeout(navigateTimeout)
	if err := p.Navigate(a.origin); err != nil {
		return err
	}
	return p.WaitLoad()
}

// isDisconnected recognizes the error surface of a browser that went away:
// the user closed the window, the automation connection dropped, or the
// target was destroyed.
func isDisconnected(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"context canceled",
		"websocket",
		"target closed",
		"session closed",
		"connection closed",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
