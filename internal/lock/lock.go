// Package lock implements the cluster-wide serialization mutex:
// a compare-and-set-with-TTL primitive over a single JSON record, so that
// at most one measurement runs on the isolated socket at any instant.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jouletrace/internal/logging"
)

// ErrBusy is returned when a non-blocking acquire finds the lock held by
// someone else, and by Acquire when the blocking wait times out.
var ErrBusy = errors.New("lock: held by another holder")

// Manager implements a file-backed compare-and-set-with-TTL lock, keyed by
// a configured string and guarded by atomic write-then-rename persistence.
type Manager struct {
	statePath    string
	key          string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *logging.Logger
}

// NewManager creates a lock manager persisting its record at statePath.
func NewManager(statePath, key string, ttl, pollInterval time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		statePath:    statePath,
		key:          key,
		ttl:          ttl,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// TryAcquire makes one non-blocking attempt to acquire the lock for holder.
// Returns (true, nil) on success, (false, nil) if held by someone else and
// not stale, or a non-nil error on I/O failure.
func (m *Manager) TryAcquire(holder string) (bool, error) {
	existing, err := m.load()
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read existing lock: %w", err)
	}

	now := time.Now().UTC()

	if existing != nil {
		if existing.Holder == holder {
			m.logger.Info("lock.already_held", "lock already held by this holder", map[string]interface{}{
				"holder": holder,
				"key":    m.key,
			})
			return true, nil
		}

		if !existing.isExpired(now) {
			return false, nil
		}

		m.logger.Warn("lock.stale_detected", "stale lock detected, clearing", map[string]interface{}{
			"previous_holder": existing.Holder,
			"age_seconds":     now.Sub(existing.SinceTS).Seconds(),
		})
		if err := m.clear(); err != nil {
			return false, fmt.Errorf("failed to clear stale lock: %w", err)
		}
	}

	record := &Record{
		Key:     m.key,
		Holder:  holder,
		SinceTS: now,
		TTL:     int(m.ttl.Seconds()),
	}
	if err := m.save(record); err != nil {
		return false, fmt.Errorf("failed to save lock: %w", err)
	}

	m.logger.Info("lock.acquired", "lock acquired", map[string]interface{}{
		"holder": holder,
		"key":    m.key,
	})
	return true, nil
}

// Acquire blocks, polling at the configured interval, until the lock is
// acquired or timeout elapses. blocking=false is equivalent to a single
// TryAcquire call. Returns ErrBusy on timeout.
func (m *Manager) Acquire(holder string, blocking bool, timeout time.Duration) error {
	ok, err := m.TryAcquire(holder)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !blocking {
		return ErrBusy
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return ErrBusy
		}
		<-ticker.C
		ok, err := m.TryAcquire(holder)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBusy
		}
	}
}

// Release performs a best-effort, idempotent delete of the lock record,
// only if it is currently held by holder (or absent).
func (m *Manager) Release(holder string) error {
	existing, err := m.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read existing lock: %w", err)
	}

	if existing.Holder != holder {
		return fmt.Errorf("cannot release lock: held by %s, not %s", existing.Holder, holder)
	}

	if err := m.clear(); err != nil {
		return err
	}

	m.logger.Info("lock.released", "lock released", map[string]interface{}{
		"holder": holder,
		"key":    m.key,
	})
	return nil
}

// WithLock runs fn while holding the lock, guaranteeing release on every
// exit path (success, panic unwinding through a deferred recover upstream,
// or error).
func (m *Manager) WithLock(holder string, blocking bool, timeout time.Duration, fn func() error) error {
	if err := m.Acquire(holder, blocking, timeout); err != nil {
		return err
	}
	defer func() {
		if releaseErr := m.Release(holder); releaseErr != nil {
			m.logger.Error("lock.release_failed", "failed to release lock after scoped use", map[string]interface{}{
				"error": releaseErr.Error(),
			})
		}
	}()
	return fn()
}

// ForceUnlock forcibly clears the lock regardless of holder. Recovery use
// only.
func (m *Manager) ForceUnlock() error {
	existing, err := m.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read existing lock: %w", err)
	}

	m.logger.Warn("lock.force_unlock", "lock forcibly cleared", map[string]interface{}{
		"previous_holder": existing.Holder,
	})
	return m.clear()
}

// GetStatus returns the current lock record, or a zero-holder record if
// unlocked.
func (m *Manager) GetStatus() (*Record, error) {
	record, err := m.load()
	if err != nil {
		if os.IsNotExist(err) {
			return &Record{Key: m.key}, nil
		}
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}
	return record, nil
}

// IsLocked reports whether the lock is currently held by a non-expired
// holder.
func (m *Manager) IsLocked() (bool, error) {
	status, err := m.GetStatus()
	if err != nil {
		return false, err
	}
	if status.Holder == "" {
		return false, nil
	}
	return !status.isExpired(time.Now().UTC()), nil
}

func (m *Manager) clear() error {
	if err := os.Remove(m.statePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) load() (*Record, error) {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &record, nil
}

func (m *Manager) save(record *Record) error {
	dir := filepath.Dir(m.statePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	tmpPath := m.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}

	if err := os.Rename(tmpPath, m.statePath); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			m.logger.Warn("lock.cleanup_failed", "failed to remove temp lock file", map[string]interface{}{
				"error": removeErr.Error(),
				"path":  tmpPath,
			})
		}
		return fmt.Errorf("failed to rename lock file: %w", err)
	}

	return nil
}
