// Package coordinate lets multiple host-application instances share one
// on-disk browser profile safely. An exclusive lock file is the real mutual
// exclusion primitive around browser launch and login; a small advisory state
// file lets idle instances skip a cycle cheaply without contending for the
// lock.
package coordinate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"clawmon/internal/retry"
)

// ErrBrowserBusy is returned when the lock could not be acquired within the
// poll budget.
var ErrBrowserBusy = errors.New("browser profile is in use by another instance")

const (
	// lockStaleAfter must exceed the login wait budget so a slow human
	// login is never pre-empted; an abandoned lock is reclaimed after it.
	lockStaleAfter = 6 * time.Minute

	lockPollInterval = time.Second
	lockMaxAttempts  = 90
)

type lockRecord struct {
	PID        int       `json:"pid"`
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Releaser releases a held lock. Must be called on every path that acquired
// it, error paths included.
type Releaser interface {
	Release()
}

type releaseFunc func()

func (f releaseFunc) Release() { f() }

// AcquireBrowserLock blocks until the exclusive profile lock is obtained,
// polling at one-second intervals up to the attempt budget, then fails with
// ErrBrowserBusy. Re-entrant within the process: a coordinator that already
// holds the lock returns immediately with a no-op releaser.
func (c *Coordinator) AcquireBrowserLock(ctx context.Context) (Releaser, error) {
	c.mu.Lock()
	if c.held {
		c.mu.Unlock()
		return releaseFunc(func() {}), nil
	}
	c.mu.Unlock()

	policy := retry.Policy{Interval: lockPollInterval, MaxAttempts: lockMaxAttempts}
	err := policy.Until(ctx, func(context.Context) (bool, error) {
		return c.tryLock()
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return nil, ErrBrowserBusy
		}
		return nil, err
	}

	c.mu.Lock()
	c.held = true
	c.mu.Unlock()
	return releaseFunc(c.releaseLock), nil
}

// tryLock attempts a single exclusive create of the lock file, reclaiming it
// first when the recorded timestamp has gone stale.
func (c *Coordinator) tryLock() (bool, error) {
	if rec, err := c.readLock(); err == nil {
		if time.Since(rec.Timestamp) > lockStaleAfter {
			// Holder crashed or hung past the login budget.
			_ = os.Remove(c.lockPath)
		}
	}

	f, err := os.OpenFile(c.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(lockRecord{PID: os.Getpid(), InstanceID: c.instanceID, Timestamp: time.Now().UTC()})
	if err != nil {
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(c.lockPath)
		return false, fmt.Errorf("write lock file: %w", err)
	}
	return true, nil
}

func (c *Coordinator) releaseLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return
	}
	c.held = false
	_ = os.Remove(c.lockPath)
}

// lockFree reports whether no instance currently holds a fresh lock.
func (c *Coordinator) lockFree() bool {
	rec, err := c.readLock()
	if err != nil {
		return true
	}
	return time.Since(rec.Timestamp) > lockStaleAfter
}

func (c *Coordinator) readLock() (lockRecord, error) {
	data, err := os.ReadFile(c.lockPath)
	if err != nil {
		return lockRecord{}, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return lockRecord{}, err
	}
	return rec, nil
}
