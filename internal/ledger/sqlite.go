package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteLedger keeps records in a SQLite database. Every Record call is its
// own autocommit transaction with synchronous=FULL, so a record is durable
// once Record returns.
type sqliteLedger struct {
	db   *sql.DB
	path string
	lock *fileLock
}

const sqliteSchemaVersion = "1"

func openSQLite(path string, lock *fileLock) (*sqliteLedger, error) {
	// Surface permission problems as themselves rather than as corruption.
	if f, err := os.Open(path); err == nil {
		f.Close()
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	dsn := path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &sqliteLedger{db: db, path: path, lock: lock}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *sqliteLedger) init() error {
	var result string
	if err := l.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return &CorruptError{Path: l.path, Err: err}
	}
	if result != "ok" {
		return &CorruptError{Path: l.path, Err: fmt.Errorf("integrity check: %s", result)}
	}

	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS transferred (
			identity    TEXT PRIMARY KEY,
			path        TEXT NOT NULL,
			size        INTEGER NOT NULL,
			mtime       INTEGER NOT NULL,
			destination TEXT NOT NULL DEFAULT '',
			device      TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return &CorruptError{Path: l.path, Err: fmt.Errorf("create tables: %w", err)}
	}

	var version string
	err = l.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := l.db.Exec(
			"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", sqliteSchemaVersion,
		); err != nil {
			return &CorruptError{Path: l.path, Err: fmt.Errorf("store meta: %w", err)}
		}
	case err != nil:
		return &CorruptError{Path: l.path, Err: fmt.Errorf("read meta: %w", err)}
	case version != sqliteSchemaVersion:
		return &CorruptError{Path: l.path, Err: fmt.Errorf("unsupported schema version %q", version)}
	}
	return nil
}

// Contains reports false on query errors; a failing database also fails
// the next Record, which stops the pass.
func (l *sqliteLedger) Contains(id Identity) bool {
	var one int
	err := l.db.QueryRow("SELECT 1 FROM transferred WHERE identity = ?", string(id)).Scan(&one)
	return err == nil
}

func (l *sqliteLedger) Record(rec Record) error {
	if rec.Identity == "" {
		return errors.New("record has empty identity")
	}
	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO transferred
			(identity, path, size, mtime, destination, device, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Identity),
		rec.RelPath,
		rec.Size,
		rec.ModTime.UnixNano(),
		rec.Destination,
		rec.Device,
		rec.RecordedAt.UnixNano(),
	)
	if err != nil {
		return &CorruptError{Path: l.path, Err: fmt.Errorf("insert %s: %w", rec.Identity, err)}
	}
	return nil
}

func (l *sqliteLedger) Records() ([]Record, error) {
	rows, err := l.db.Query(`
		SELECT identity, path, size, mtime, destination, device, recorded_at
		FROM transferred ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			id                string
			mtime, recordedAt int64
		)
		if err := rows.Scan(&id, &rec.RelPath, &rec.Size, &mtime,
			&rec.Destination, &rec.Device, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Identity = Identity(id)
		rec.ModTime = time.Unix(0, mtime)
		rec.RecordedAt = time.Unix(0, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *sqliteLedger) Len() int {
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM transferred").Scan(&n); err != nil {
		return 0
	}
	return n
}

func (l *sqliteLedger) Path() string { return l.path }

func (l *sqliteLedger) Err() error {
	if err := l.db.Ping(); err != nil {
		return &CorruptError{Path: l.path, Err: fmt.Errorf("ping: %w", err)}
	}
	return nil
}

func (l *sqliteLedger) Close() error {
	err := l.db.Close()
	if lerr := l.lock.release(); err == nil {
		err = lerr
	}
	return err
}
