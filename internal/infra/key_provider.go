package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

const (
	journalKeyFileName = ".journal.key"
	journalKeySize     = 32 // 256-bit SQLCipher key

	// pendingKeySuffix marks a rotated key that the journal may already be
	// encrypted with but that has not replaced the current key file yet.
	pendingKeySuffix = ".next"
)

// FileKeyProvider implements domain.KeyProvider with a 0600 key file next to
// the journal database. Rotation stages the new key beside the current one
// so a crash mid-rotation never loses the key the database is encrypted with.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, journalKeyFileName),
	}
}

// GetKey reads the current journal key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	return readKeyFile(p.keyPath)
}

// StoreKey replaces the current key.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	return writeKeyFile(p.keyPath, key)
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// StagePendingKey saves key as the rotation candidate.
func (p *FileKeyProvider) StagePendingKey(key []byte) error {
	return writeKeyFile(p.pendingPath(), key)
}

// PendingKey returns the staged rotation key, if any.
func (p *FileKeyProvider) PendingKey() ([]byte, bool, error) {
	key, err := readKeyFile(p.pendingPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// CommitPendingKey makes the staged key current.
func (p *FileKeyProvider) CommitPendingKey() error {
	return errors.Wrap(os.Rename(p.pendingPath(), p.keyPath), "failed to commit rotated journal key")
}

// DiscardPendingKey drops a staged key that was never applied.
func (p *FileKeyProvider) DiscardPendingKey() error {
	if err := os.Remove(p.pendingPath()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove staged journal key")
	}
	return nil
}

func (p *FileKeyProvider) pendingPath() string {
	return p.keyPath + pendingKeySuffix
}

func readKeyFile(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read journal key")
	}
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode journal key")
	}
	if len(key) != journalKeySize {
		return nil, fmt.Errorf("invalid journal key size: got %d, want %d", len(key), journalKeySize)
	}
	return key, nil
}

// writeKeyFile writes key through a temp file so readers never see a
// partial key.
func writeKeyFile(path string, key []byte) error {
	if len(key) != journalKeySize {
		return fmt.Errorf("invalid journal key size: got %d, want %d", len(key), journalKeySize)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create key directory")
	}

	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp key file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write journal key")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync journal key")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close journal key")
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return errors.Wrap(err, "failed to restrict journal key")
	}
	return errors.Wrap(os.Rename(tmpPath, path), "failed to write journal key")
}

// GenerateKey creates a new random journal key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, journalKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "failed to generate journal key")
	}
	return key, nil
}

// EnsureKey returns the stored key, generating one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OpenJournal opens the encrypted journal in dataDir, creating its key if
// needed. If a rotation was interrupted after the database was re-keyed,
// the staged key opens it and is committed.
func OpenJournal(dataDir string) (*EncryptedJournal, error) {
	provider := NewFileKeyProvider(dataDir)
	key, err := EnsureKey(provider)
	if err != nil {
		return nil, err
	}

	journal, openErr := NewEncryptedJournal(dataDir, key)
	if openErr == nil {
		// The database still uses the current key, so any staged key is stale.
		_ = provider.DiscardPendingKey()
		return journal, nil
	}

	pending, ok, err := provider.PendingKey()
	if err != nil || !ok {
		return nil, openErr
	}
	journal, err = NewEncryptedJournal(dataDir, pending)
	if err != nil {
		return nil, openErr
	}
	if err := provider.CommitPendingKey(); err != nil {
		journal.Close()
		return nil, err
	}
	return journal, nil
}

// RotateJournalKey re-encrypts the journal in dataDir under a fresh key.
// The journal must not be open elsewhere.
func RotateJournalKey(dataDir string) error {
	journal, err := OpenJournal(dataDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	provider := NewFileKeyProvider(dataDir)
	next, err := GenerateKey()
	if err != nil {
		return err
	}
	if err := provider.StagePendingKey(next); err != nil {
		return err
	}
	if err := journal.Rekey(next); err != nil {
		_ = provider.DiscardPendingKey()
		return err
	}
	return provider.CommitPendingKey()
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
