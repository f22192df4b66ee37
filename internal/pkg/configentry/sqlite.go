package configentry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaConfigEntries = `
CREATE TABLE IF NOT EXISTS config_entries (
    id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    title TEXT NOT NULL,
    data TEXT NOT NULL,
    options TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const (
	selectEntriesSQL = `SELECT id, version, title, data, options, created_at FROM config_entries ORDER BY created_at, id`
	selectEntrySQL   = `SELECT id, version, title, data, options, created_at FROM config_entries WHERE id = ?`
	insertEntrySQL   = `INSERT INTO config_entries (id, version, title, data, options, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	updateEntrySQL   = `UPDATE config_entries SET version = ?, title = ?, data = ?, options = ? WHERE id = ?`
	deleteEntrySQL   = `DELETE FROM config_entries WHERE id = ?`
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens or creates the entry database at path and makes sure the
// schema exists
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite at %q", path)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "set %s", pragma)
		}
	}

	if _, err := db.Exec(schemaConfigEntries); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply config_entries schema")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	return NewSQLiteStore(db), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		data      string
		options   string
		createdAt time.Time
	)

	if err := row.Scan(&e.ID, &e.Version, &e.Title, &data, &options, &createdAt); err != nil {
		return Entry{}, err
	}

	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return Entry{}, errors.Wrapf(err, "decoding data of entry %s", e.ID)
	}
	if err := json.Unmarshal([]byte(options), &e.Options); err != nil {
		return Entry{}, errors.Wrapf(err, "decoding options of entry %s", e.ID)
	}
	e.CreatedAt = strfmt.DateTime(createdAt.UTC())

	return e, nil
}

func marshalEntry(entry Entry) (string, string, error) {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return "", "", err
	}

	options, err := json.Marshal(entry.Options)
	if err != nil {
		return "", "", err
	}

	return string(data), string(options), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing config entries")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntrySQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, errors.Wrapf(ErrNotFound, "entry %s", id)
		}
		return Entry{}, errors.Wrapf(err, "loading entry %s", id)
	}

	return e, nil
}

func (s *SQLiteStore) Create(ctx context.Context, entry Entry) error {
	data, options, err := marshalEntry(entry)
	if err != nil {
		return err
	}

	createdAt := time.Time(entry.CreatedAt)
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, insertEntrySQL,
		entry.ID,
		entry.Version,
		entry.Title,
		data,
		options,
		createdAt.UTC(),
	)
	return errors.Wrapf(err, "creating entry %s", entry.ID)
}

func (s *SQLiteStore) Update(ctx context.Context, entry Entry) error {
	data, options, err := marshalEntry(entry)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, updateEntrySQL,
		entry.Version,
		entry.Title,
		data,
		options,
		entry.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "updating entry %s", entry.ID)
	}

	return checkAffected(res, entry.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, deleteEntrySQL, id)
	if err != nil {
		return errors.Wrapf(err, "deleting entry %s", id)
	}

	return checkAffected(res, id)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "entry %s", id)
	}

	return nil
}
