package browser

import (
	"errors"
	"os"
	"os/exec"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
)

// ErrBrowserNotFound means no Chromium-family executable could be located.
// Surfaced verbatim to the user with install guidance.
var ErrBrowserNotFound = errors.New("no compatible browser found: install Chrome, Chromium, Edge, or Brave")

// platform-specific candidates checked after rod's own search list, covering
// browsers rod does not probe for.
func extraCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/microsoft-edge",
			"/usr/bin/brave-browser",
			"/snap/bin/chromium",
		}
	}
}

// FindExecutable locates a Chromium-family browser binary. An explicit
// override wins; otherwise rod's platform search list is consulted, then a
// small extra candidate list.
func FindExecutable(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", ErrBrowserNotFound
		}
		return override, nil
	}

	if bin, ok := launcher.LookPath(); ok {
		return bin, nil
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "msedge", "brave"} {
		if bin, err := exec.LookPath(name); err == nil {
			return bin, nil
		}
	}
	for _, path := range extraCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrBrowserNotFound
}
