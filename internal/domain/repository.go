package domain

import "context"

// HostWindow exposes the concrete protection primitives of the host platform.
// Implementations: JSON-lines sidecar bridge, test fakes.
type HostWindow interface {
	// SetSecureRenderingFlag sets or clears a declarative non-bypassable secure flag.
	SetSecureRenderingFlag(secure bool) error

	// ShowOpaqueCover inserts or raises an opaque full-bounds cover.
	ShowOpaqueCover() error

	// HideOpaqueCover removes the opaque cover.
	HideOpaqueCover() error

	// SetWindowVisible hides or shows the entire window content.
	SetWindowVisible(visible bool) error
}

// PlatformProfile maps a platform's callbacks to signals and its primitives
// to decisions.
type PlatformProfile interface {
	// ID returns unique identifier (e.g., "android", "ios").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// Map translates a raw callback into exactly one Signal.
	// Returns *SignalMappingError for unrecognized callbacks.
	Map(event PlatformEvent) (Signal, error)

	// Engage applies the platform's cover for d.
	Engage(host HostWindow, d Decision) error

	// Disengage removes the platform's cover.
	Disengage(host HostWindow, d Decision) error

	// ForceHide is the best-effort fallback when Engage fails.
	ForceHide(host HostWindow) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// ListProcesses returns every visible process except the caller.
	ListProcesses() ([]ProcessInfo, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// CaptureDetector reports whether a screen capture session is active.
type CaptureDetector interface {
	// Detect returns the current capture status and the matched tool names.
	Detect() (capturing bool, tools []string, err error)
}

// StatusRegistry records the running guard for discovery by the status command.
// Implementation: hidden JSON file guarded by a file lock.
type StatusRegistry interface {
	// Register saves the current guard's status.
	Register(status HostStatus) error

	// UpdateDecision stores the latest decision and apply error.
	UpdateDecision(d Decision, applyErr error) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Get returns the stored status, or nil if none.
	Get() (*HostStatus, error)

	// IsAlive reports whether the registered guard process is running.
	IsAlive() (bool, error)

	// Clear removes the registry file.
	Clear() error

	// GetRegistryPath returns the registry file path (for tests).
	GetRegistryPath() string
}

// EventJournal is an append-only audit trail of controller steps.
type EventJournal interface {
	// Record appends one entry.
	Record(entry JournalEntry) error

	// Recent returns up to limit entries, newest first.
	Recent(limit int) ([]JournalEntry, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// FileImporter copies a shared document into a private cache path.
type FileImporter interface {
	// Import returns the path of a private copy of ref.
	// Failures are *ImportError with UNAVAILABLE or INVALID_ARGUMENT.
	Import(ctx context.Context, ref string) (string, error)
}
