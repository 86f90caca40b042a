package infra

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

const statusDir = "/var/tmp"

// FileStatusRegistry implements domain.StatusRegistry using a hidden JSON file.
// The file name is derived from a hash of the hostname and user id.
type FileStatusRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// DefaultStatusPath returns the per-user registry location.
func DefaultStatusPath() string {
	hostname, _ := os.Hostname()
	hash := md5.Sum([]byte(fmt.Sprintf("capguard-status-%s-%d", hostname, os.Getuid())))
	return filepath.Join(statusDir, ".capguard_status_"+hex.EncodeToString(hash[:])[:8])
}

// NewFileStatusRegistry creates a registry at the default location.
func NewFileStatusRegistry(pm domain.ProcessManager) domain.StatusRegistry {
	return NewFileStatusRegistryWithPath(DefaultStatusPath(), pm)
}

// NewFileStatusRegistryWithPath creates a registry at a specific path (for tests and config).
func NewFileStatusRegistryWithPath(path string, pm domain.ProcessManager) domain.StatusRegistry {
	return &FileStatusRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the registry file path.
func (r *FileStatusRegistry) GetRegistryPath() string {
	return r.path
}

// Register saves the running guard's status, replacing any previous record.
func (r *FileStatusRegistry) Register(status domain.HostStatus) error {
	return r.withLock(func() error {
		if status.Version == 0 {
			status.Version = 1
		}
		now := time.Now().Unix()
		if status.StartedAt == 0 {
			status.StartedAt = now
		}
		status.LastHeartbeat = now
		return r.atomicWrite(&status)
	})
}

// UpdateDecision stores the latest decision and apply error.
func (r *FileStatusRegistry) UpdateDecision(d domain.Decision, applyErr error) error {
	return r.update(func(s *domain.HostStatus) {
		s.Decision = d
		s.ApplyError = ""
		if applyErr != nil {
			s.ApplyError = applyErr.Error()
		}
	})
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileStatusRegistry) UpdateHeartbeat() error {
	return r.update(func(s *domain.HostStatus) {})
}

// IsAlive checks if the registered guard is running via PID.
func (r *FileStatusRegistry) IsAlive() (bool, error) {
	status, err := r.Get()
	if err != nil {
		return false, err
	}
	if status == nil {
		return false, nil
	}
	return r.processManager.IsRunning(status.PID), nil
}

// Get returns the stored status, or nil if the guard never registered.
func (r *FileStatusRegistry) Get() (*domain.HostStatus, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var status domain.HostStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("corrupt status registry %s: %w", r.path, err)
	}

	return &status, nil
}

// Clear removes the registry file.
func (r *FileStatusRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// update applies fn to the stored status and bumps the heartbeat.
func (r *FileStatusRegistry) update(fn func(s *domain.HostStatus)) error {
	return r.withLock(func() error {
		status, err := r.Get()
		if err != nil {
			return err
		}
		if status == nil {
			return fmt.Errorf("guard not registered")
		}
		fn(status)
		status.LastHeartbeat = time.Now().Unix()
		return r.atomicWrite(status)
	})
}

// withLock runs fn while holding an exclusive lock on the registry.
func (r *FileStatusRegistry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return fn()
}

// atomicWrite writes the status to file atomically (write + rename).
func (r *FileStatusRegistry) atomicWrite(status *domain.HostStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileStatusRegistry implements domain.StatusRegistry.
var _ domain.StatusRegistry = (*FileStatusRegistry)(nil)
