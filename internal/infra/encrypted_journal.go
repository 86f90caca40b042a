package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"github.com/pkg/errors"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const journalDBName = "journal.db"

// EncryptedJournal implements domain.EventJournal using a SQLCipher
// encrypted SQLite database. It is an audit trail only: protection state is
// never restored from it.
type EncryptedJournal struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedJournal opens (or creates) an encrypted journal database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedJournal(dataDir string, key []byte) (*EncryptedJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create journal directory")
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open encrypted journal")
	}
	// One connection, so a rekey applies to every later statement.
	db.SetMaxOpenConns(1)

	// Verify the key by touching the schema.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to encrypted journal")
	}

	j := &EncryptedJournal{db: db, dbPath: dbPath}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create journal tables")
	}

	return j, nil
}

func (j *EncryptedJournal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event TEXT NOT NULL,
		signal TEXT NOT NULL DEFAULT '',
		should_protect INTEGER NOT NULL,
		in_foreground INTEGER NOT NULL,
		is_recording INTEGER NOT NULL,
		pulse_active INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS journal_session ON journal (session_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one entry.
func (j *EncryptedJournal) Record(entry domain.JournalEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO journal (session_id, event, signal, should_protect, in_foreground, is_recording, pulse_active, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Event, entry.Signal,
		entry.ShouldProtect, entry.State.InForeground, entry.State.IsRecording, entry.State.ScreenshotPulseActive,
		entry.Error, entry.RecordedAt.UnixNano(),
	)
	return errors.Wrap(err, "failed to insert journal entry")
}

// Recent returns up to limit entries, newest first.
func (j *EncryptedJournal) Recent(limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, session_id, event, signal, should_protect, in_foreground, is_recording, pulse_active, error, recorded_at
		FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query journal")
	}
	defer rows.Close()

	entries := make([]domain.JournalEntry, 0, limit)
	for rows.Next() {
		var e domain.JournalEntry
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Signal, &e.ShouldProtect,
			&e.State.InForeground, &e.State.IsRecording, &e.State.ScreenshotPulseActive,
			&e.Error, &recordedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan journal entry")
		}
		e.RecordedAt = time.Unix(0, recordedAt)
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "failed to read journal")
}

// Rekey re-encrypts the database under key. Other processes holding the
// journal open keep the old key and must reopen it.
func (j *EncryptedJournal) Rekey(key []byte) error {
	if len(key) != journalKeySize {
		return fmt.Errorf("invalid journal key size: got %d, want %d", len(key), journalKeySize)
	}
	_, err := j.db.Exec(fmt.Sprintf(`PRAGMA rekey = "x'%s'"`, hex.EncodeToString(key)))
	return errors.Wrap(err, "failed to rekey journal")
}

// GetJournalPath returns the database file path.
func (j *EncryptedJournal) GetJournalPath() string {
	return j.dbPath
}

// Close releases the database connection.
func (j *EncryptedJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ensure EncryptedJournal implements domain.EventJournal.
var _ domain.EventJournal = (*EncryptedJournal)(nil)
