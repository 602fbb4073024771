// Package browser owns the automated browser process bound to the persistent
// profile directory: locating an executable, launching or attaching, wiring
// passive request observation, and tearing the process down cleanly.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"clawmon/internal/capture"
)

// ErrLaunchFailed wraps the underlying reason a browser could not be started.
var ErrLaunchFailed = errors.New("browser launch failed")

const (
	// userAgent softens the automation fingerprint; nothing beyond a
	// realistic desktop UA is attempted.
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	gracefulCloseTimeout = 5 * time.Second
	profileReleaseDelay  = 500 * time.Millisecond
)

// Session is a live automated browser bound to the profile directory. The
// page handle is only valid while the process handle is connected; losing the
// process nulls both together.
type Session struct {
	ProfileDir string
	Port       int

	// Endpoints captures the private API endpoints observed on this
	// session's traffic. Reset on connection reset; discarded on close.
	Endpoints *capture.Cache

	browser  *rod.Browser
	page     *rod.Page
	ownPage  bool
	launch   *launcher.Launcher
	attached bool

	mu      sync.Mutex
	closed  bool
	stopObs func()
}

// Attached reports whether this session reuses a browser started earlier
// rather than one launched by us.
func (s *Session) Attached() bool { return s.attached }

// Page returns the session's page, or an error if the session was closed or
// lost its process.
func (s *Session) Page() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.page == nil {
		return nil, errors.New("browser session is closed")
	}
	return s.page, nil
}

// Manager launches, attaches to, and closes browser sessions.
type Manager struct {
	profileDir string
	binPath    string
	log        *zap.Logger

	mu       sync.Mutex
	lastPort int
}

func NewManager(profileDir, binPath string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{profileDir: profileDir, binPath: binPath, log: log}
}

// ProfileDir returns the persistent profile directory this manager binds to.
func (m *Manager) ProfileDir() string { return m.profileDir }

// LastPort returns the debug port of the most recent launch, or zero. Used to
// attach instead of relaunching on rapid consecutive operations.
func (m *Manager) LastPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPort
}

// Launch starts a browser bound to the persistent profile directory on a
// free local port, opens one page with a realistic user agent, and begins
// observing its network traffic.
func (m *Manager) Launch(ctx context.Context, headed bool) (*Session, error) {
	bin, err := FindExecutable(m.binPath)
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	if err := os.MkdirAll(m.profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create profile dir: %v", ErrLaunchFailed, err)
	}

	l := launcher.New().
		Bin(bin).
		UserDataDir(m.profileDir).
		Headless(!headed).
		Leakless(false).
		Set(flags.Flag("remote-debugging-port"), strconv.Itoa(port)).
		Set(flags.Flag("no-first-run")).
		Set(flags.Flag("no-default-browser-check")).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")

	controlURL, err := l.Launch()
	if err != nil {
		if m.profileLockedByOther() {
			return nil, fmt.Errorf("%w: profile directory %s is locked by another browser process; close that browser and retry: %v",
				ErrLaunchFailed, m.profileDir, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connect: %v", ErrLaunchFailed, err)
	}

	s := &Session{
		ProfileDir: m.profileDir,
		Port:       port,
		Endpoints:  capture.NewCache(),
		browser:    b,
		launch:     l,
	}
	if err := m.openPage(s, ""); err != nil {
		_ = m.Close(s)
		return nil, err
	}

	m.mu.Lock()
	m.lastPort = port
	m.mu.Unlock()
	m.log.Debug("browser launched",
		zap.String("bin", bin), zap.Int("port", port), zap.Bool("headed", headed))
	return s, nil
}

// AttachToExisting connects to a browser already listening on port instead of
// starting a new one. An existing page on the target origin is reused when
// present, otherwise one is opened.
func (m *Manager) AttachToExisting(ctx context.Context, port int, origin string) (*Session, error) {
	controlURL, err := launcher.ResolveURL("127.0.0.1:" + strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("resolve debug port %d: %w", port, err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("attach to port %d: %w", port, err)
	}

	s := &Session{
		ProfileDir: m.profileDir,
		Port:       port,
		Endpoints:  capture.NewCache(),
		browser:    b,
		attached:   true,
	}
	if err := m.openPage(s, origin); err != nil {
		return nil, err
	}
	m.log.Debug("attached to running browser", zap.Int("port", port))
	return s, nil
}

// openPage reuses an existing page on the given origin or creates a blank
// one, sets the user agent, and starts request observation.
func (m *Manager) openPage(s *Session, origin string) error {
	var page *rod.Page

	if origin != "" {
		if pages, err := s.browser.Pages(); err == nil {
			for _, p := range pages {
				info, err := p.Info()
				if err != nil {
					continue
				}
				if strings.HasPrefix(info.URL, origin) {
					page = p
					break
				}
			}
		}
	}

	if page == nil {
		p, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return fmt.Errorf("%w: open page: %v", ErrLaunchFailed, err)
		}
		page = p
		s.ownPage = true
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		m.log.Debug("set user agent failed", zap.Error(err))
	}

	s.page = page
	s.stopObs = observeRequests(page, s.Endpoints)
	return nil
}

// observeRequests subscribes to outgoing requests and feeds every URL into
// the endpoint cache. Returns a stop function.
func observeRequests(page *rod.Page, cache *capture.Cache) func() {
	ctx, cancel := context.WithCancel(context.Background())
	wait := page.Context(ctx).EachEvent(func(ev *proto.NetworkRequestWillBeSent) {
		if ev.Request == nil {
			return
		}
		headers := make(map[string]string, len(ev.Request.Headers))
		for k, v := range ev.Request.Headers {
			headers[k] = v.Str()
		}
		cache.Observe(ev.Request.URL, headers)
	})
	go wait()
	return cancel
}

// Close tears a session down. Attached sessions are released without killing
// the shared process; owned sessions get a graceful close bounded at five
// seconds, then a forced kill, then a short wait for the OS to release the
// profile directory. Closing twice is a no-op.
func (m *Manager) Close(s *Session) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	page := s.page
	s.page = nil
	ownPage := s.ownPage
	b := s.browser
	s.browser = nil
	l := s.launch
	attached := s.attached
	stop := s.stopObs
	s.stopObs = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	if attached {
		// Shared process stays up; drop our page only if we created it. A
		// page reused from the running browser is the user's own tab.
		if page != nil && ownPage {
			_ = page.Close()
		}
		m.log.Debug("detached from browser")
		return nil
	}

	closed := make(chan error, 1)
	go func() {
		if b != nil {
			closed <- b.Close()
			return
		}
		closed <- nil
	}()

	select {
	case err := <-closed:
		if err != nil {
			m.log.Debug("graceful close failed", zap.Error(err))
		}
	case <-time.After(gracefulCloseTimeout):
		m.log.Warn("graceful close timed out, killing browser process")
	}
	if l != nil {
		l.Kill()
	}
	// Let the OS release the profile directory before a relaunch.
	time.Sleep(profileReleaseDelay)
	return nil
}

// profileLockedByOther reports whether another real OS process holds the
// profile outside this coordination scheme (chromium's singleton marker).
func (m *Manager) profileLockedByOther() bool {
	for _, name := range []string{"SingletonLock", "lockfile"} {
		if _, err := os.Lstat(filepath.Join(m.profileDir, name)); err == nil {
			return true
		}
	}
	return false
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
