// Package history keeps a local log of finalized transcripts and whether
// they reached the target application.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history entry not found")

const prefix = "entry/"

// Entry is one finalized transcript.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	App       string    `json:"app,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	Session   string    `json:"session,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a badger-backed transcript log. Keys are time-ordered so
// iteration follows insertion order.
type Store struct {
	db        *badger.DB
	retention time.Duration
}

// Options configures a Store.
type Options struct {
	// Dir is the database directory. Empty keeps everything in memory.
	Dir string
	// Retention expires entries after this long. Zero keeps them forever.
	Retention time.Duration
}

// Open opens or creates a store.
func Open(o Options) (*Store, error) {
	opts := badger.DefaultOptions(o.Dir).WithLogger(slogLogger{})
	if o.Dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &Store{db: db, retention: o.Retention}, nil
}

// Put stores e, assigning an ID and timestamp when missing.
func (s *Store) Put(e *Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("new id: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		be := badger.NewEntry([]byte(prefix+e.ID), data)
		if s.retention > 0 {
			be = be.WithTTL(s.retention)
		}
		return txn.SetEntry(be)
	})
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &e)
		})
	})
	return e, err
}

// List returns up to n entries, newest first. n <= 0 returns all.
func (s *Store) List(n int) ([]Entry, error) {
	return s.scan(n, func(Entry) bool { return true })
}

// Undelivered returns up to n entries whose insertion failed, newest first.
func (s *Store) Undelivered(n int) ([]Entry, error) {
	return s.scan(n, func(e Entry) bool { return !e.Delivered })
}

func (s *Store) scan(n int, keep func(Entry) bool) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the last key with the prefix.
		seek := append([]byte(prefix), 0xff)
		for it.Seek(seek); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &e)
			}); err != nil {
				return err
			}
			if !keep(e) {
				continue
			}
			out = append(out, e)
			if n > 0 && len(out) == n {
				return nil
			}
		}
		return nil
	})
	return out, err
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// slogLogger routes badger's logging through slog, keeping only warnings
// and errors.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...any) {
	slog.Error("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Warningf(format string, args ...any) {
	slog.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
