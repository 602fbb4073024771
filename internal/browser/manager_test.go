package browser

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"clawmon/internal/capture"
)

func TestFindExecutable_BadOverride(t *testing.T) {
	_, err := FindExecutable(filepath.Join(t.TempDir(), "no-such-browser"))
	if !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("err=%v, want ErrBrowserNotFound", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(t.TempDir(), "", zap.NewNop())

	// A session whose process is already gone: both handles nulled together.
	s := &Session{ProfileDir: m.profileDir, Endpoints: capture.NewCache()}
	if err := m.Close(s); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := m.Close(s); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if _, err := s.Page(); err == nil {
		t.Fatal("Page() must fail after close")
	}
}

func TestClose_AttachedKeepsReusedPage(t *testing.T) {
	m := NewManager(t.TempDir(), "", zap.NewNop())

	// A reused page has no live handles behind it here; any Close call on it
	// would panic, so finishing cleanly proves the page was left alone.
	s := &Session{attached: true, page: &rod.Page{}, Endpoints: capture.NewCache()}
	if err := m.Close(s); err != nil {
		t.Fatalf("close attached: %v", err)
	}
	if !s.closed {
		t.Fatal("session must be marked closed")
	}
}

func TestClose_NilSession(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	if err := m.Close(nil); err != nil {
		t.Fatalf("close(nil): %v", err)
	}
}

func TestLastPort_ZeroBeforeLaunch(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil)
	if got := m.LastPort(); got != 0 {
		t.Fatalf("LastPort=%d, want 0", got)
	}
}

func TestFreePort(t *testing.T) {
	p, err := freePort()
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	if p <= 0 || p > 65535 {
		t.Fatalf("port %d out of range", p)
	}
}
