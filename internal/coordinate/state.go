package coordinate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the advisory coordination hint shared between instances. It is
// race-prone by design; the lock file is the correctness primitive and the
// state file only avoids redundant prompts and lock contention.
type State string

const (
	// StateUnknown covers both "no record" and "record expired".
	StateUnknown     State = "unknown"
	StateLoggingIn   State = "logging_in"
	StateLoginFailed State = "login_failed"
)

// stateStaleAfter bounds how long a record is trusted. A crashed instance
// must not leave everyone believing a login is in progress forever.
const stateStaleAfter = 5 * time.Minute

type stateRecord struct {
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Coordinator owns the lock file and advisory state file for one profile.
// Each coordinator carries a unique instance ID so lock and state records can
// be traced back to the process that wrote them.
type Coordinator struct {
	lockPath   string
	statePath  string
	instanceID string

	mu   sync.Mutex
	held bool
}

// New returns a coordinator rooted at the given state directory.
func New(stateDir string) *Coordinator {
	return &Coordinator{
		lockPath:   filepath.Join(stateDir, "browser.lock"),
		statePath:  filepath.Join(stateDir, "login_state.json"),
		instanceID: uuid.NewString(),
	}
}

// InstanceID identifies this coordinator in lock and state records.
func (c *Coordinator) InstanceID() string { return c.instanceID }

// ReadState returns the current advisory state and, for a login failure, its
// reason. A missing, malformed, or expired record reads as StateUnknown. A
// logging_in record whose writer no longer holds the lock is also treated as
// unknown: the lock is ground truth, so a free lock implicitly clears a stale
// claim left by a crashed instance.
func (c *Coordinator) ReadState() (State, string) {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return StateUnknown, ""
	}
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StateUnknown, ""
	}
	if time.Since(rec.Timestamp) > stateStaleAfter {
		return StateUnknown, ""
	}
	if rec.State == StateLoggingIn && c.lockFree() {
		return StateUnknown, ""
	}
	if rec.State != StateLoggingIn && rec.State != StateLoginFailed {
		return StateUnknown, ""
	}
	return rec.State, rec.Reason
}

// WriteState persists an advisory state with the current timestamp.
func (c *Coordinator) WriteState(state State, reason string) error {
	rec := stateRecord{State: state, Reason: reason, InstanceID: c.instanceID, Timestamp: time.Now().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(c.statePath, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// ClearState removes the advisory record. Clearing an absent record is fine.
func (c *Coordinator) ClearState() error {
	if err := os.Remove(c.statePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear state file: %w", err)
	}
	return nil
}
