package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"clawmon/internal/browser"
)

func TestHasExistingSession(t *testing.T) {
	profile := t.TempDir()
	if HasExistingSession(profile) {
		t.Fatal("empty profile must report no session")
	}

	cookiePath := filepath.Join(profile, "Default", "Network", "Cookies")
	if err := os.MkdirAll(filepath.Dir(cookiePath), 0o755); err != nil {
		t.Fatal(err)
	}

	// Present but empty still means no session.
	if err := os.WriteFile(cookiePath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if HasExistingSession(profile) {
		t.Fatal("empty cookie store must report no session")
	}

	if err := os.WriteFile(cookiePath, []byte("sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !HasExistingSession(profile) {
		t.Fatal("non-empty cookie store must report a session")
	}
}

func TestHasExistingSession_LegacyLayouts(t *testing.T) {
	for _, rel := range []string{
		filepath.Join("Default", "Cookies"),
		"Cookies",
	} {
		profile := t.TempDir()
		path := filepath.Join(profile, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if !HasExistingSession(profile) {
			t.Errorf("layout %s not detected", rel)
		}
	}
}

func TestClearSession(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "profile")
	if err := os.MkdirAll(filepath.Join(profile, "Default"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := ClearSession(profile); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Fatal("profile directory still present")
	}

	// Clearing an already-missing profile succeeds.
	if err := ClearSession(profile); err != nil {
		t.Fatalf("second ClearSession: %v", err)
	}
}

func TestValidateSession(t *testing.T) {
	cases := []struct {
		name        string
		cookie      CookieCheck
		probeStatus int
		probeErr    error
		want        ValidationStatus
		wantProbed  bool
	}{
		{
			name:        "live cookie and accepted probe",
			cookie:      CookieCheck{Exists: true},
			probeStatus: 200,
			want:        ValidationValid,
			wantProbed:  true,
		},
		{
			name:        "probe rejected by server",
			cookie:      CookieCheck{Exists: true},
			probeStatus: 401,
			want:        ValidationServerRejected,
			wantProbed:  true,
		},
		{
			name:       "probe call failure is transient",
			cookie:     CookieCheck{Exists: true},
			probeErr:   errors.New("websocket: close 1006"),
			want:       ValidationCheckError,
			wantProbed: true,
		},
		{
			name:   "missing cookie skips the probe",
			cookie: CookieCheck{},
			want:   ValidationCookieMissing,
		},
		{
			name:   "expired cookie skips the probe",
			cookie: CookieCheck{Exists: true, Expired: true},
			want:   ValidationCookieExpired,
		},
		{
			name:   "cookie read failure is transient",
			cookie: CookieCheck{Err: errors.New("read cookies: timeout")},
			want:   ValidationCheckError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := New("https://example.test", "sessionKey", "/api/organizations", nil)
			probed := false
			a.cookieCheck = func(context.Context, *browser.Session) CookieCheck {
				return tc.cookie
			}
			a.probe = func(context.Context, *browser.Session) (int, error) {
				probed = true
				return tc.probeStatus, tc.probeErr
			}

			got := a.ValidateSession(context.Background(), &browser.Session{})
			if got != tc.want {
				t.Fatalf("status=%s, want %s", got, tc.want)
			}
			if probed != tc.wantProbed {
				t.Fatalf("probed=%v, want %v", probed, tc.wantProbed)
			}
		})
	}
}

func TestIsDisconnected(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("context canceled"), true},
		{errors.New("websocket: close 1006"), true},
		{errors.New("cdp: target closed"), true},
		{errors.New("read tcp: use of closed network connection"), true},
		{errors.New("net/http: request canceled while waiting"), false},
	}
	for _, tc := range cases {
		if got := isDisconnected(tc.err); got != tc.want {
			t.Errorf("isDisconnected(%v)=%v, want %v", tc.err, got, tc.want)
		}
	}
}
