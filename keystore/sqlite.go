package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/petermattis/goid"

	"github.com/relaywire/wacore/walog"
)

// columns lists every named column this binding provisions a table for.
var columns = []string{
	ColumnSession, ColumnPreKey, ColumnSenderKey, ColumnSenderKeyMemory,
	ColumnLIDMapping, ColumnDeviceList, ColumnTCToken,
}

type txnKeyType struct{}

var txnKey = txnKeyType{}

// execable is satisfied by both *sql.DB and *sql.Tx.
type execable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the reference binding of the key-store contract,
// grounded on the teacher's own sqlite3 driver usage
// (automationWhatsapp.go's sqlstore.New("sqlite3", ...)) and on the
// DoTxn(ctx, fn)-over-context.Context shape of the vendored
// go.mau.fi/util/dbutil.Database.
type SQLiteStore struct {
	db  *sql.DB
	log walog.Logger

	// tagLocks serializes Transaction calls sharing the same tag, the
	// Go-native equivalent of spec.md §5's "transaction(fn, tag)
	// serializes all operations tagged identically".
	tagMu    sync.Mutex
	tagLocks map[string]*sync.Mutex
}

// Open opens (creating if necessary) a SQLite-backed Store at path. Use
// ":memory:" for an ephemeral store, as the test suite does.
func Open(path string, log walog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db, log: log, tagLocks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, col := range columns {
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS kv_%s (key TEXT PRIMARY KEY, value BLOB NOT NULL)`,
			sanitizeColumn(col),
		)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create column table %q: %w", col, err)
		}
	}
	return nil
}

func sanitizeColumn(col string) string {
	out := make([]byte, len(col))
	for i := 0; i < len(col); i++ {
		if col[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = col[i]
		}
	}
	return string(out)
}

func (s *SQLiteStore) execer(ctx context.Context) execable {
	if tx, ok := ctx.Value(txnKey).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, column string, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	exec := s.execer(ctx)
	table := "kv_" + sanitizeColumn(column)
	for _, key := range keys {
		row := exec.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table), key)
		var value []byte
		switch err := row.Scan(&value); err {
		case nil:
			out[key] = value
		case sql.ErrNoRows:
			// absent, not an error
		default:
			return nil, fmt.Errorf("get %s/%s: %w", column, key, err)
		}
	}
	return out, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, sets map[string]map[string][]byte) error {
	exec := s.execer(ctx)
	for column, kvs := range sets {
		table := "kv_" + sanitizeColumn(column)
		for key, value := range kvs {
			var err error
			if value == nil {
				_, err = exec.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", table), key)
			} else {
				_, err = exec.ExecContext(ctx,
					fmt.Sprintf("INSERT INTO %s (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", table),
					key, value)
			}
			if err != nil {
				return fmt.Errorf("set %s/%s: %w", column, key, err)
			}
		}
	}
	return nil
}

// Transaction implements Store: all operations tagged identically are
// serialized, and the whole batch commits atomically.
func (s *SQLiteStore) Transaction(ctx context.Context, tag string, fn func(ctx context.Context) error) error {
	if _, alreadyInTxn := ctx.Value(txnKey).(*sql.Tx); alreadyInTxn {
		s.log.Debugf("transaction %q: already inside a transaction, not nesting", tag)
		return fn(ctx)
	}

	lock := s.lockForTag(tag)
	gid := goid.Get()
	start := time.Now()
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction %q: %w", tag, err)
	}
	txCtx := context.WithValue(ctx, txnKey, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warnf("transaction %q: rollback after error failed: %v (original: %v, goroutine %d)", tag, rbErr, err, gid)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction %q: %w", tag, err)
	}
	if dur := time.Since(start); dur > time.Second {
		s.log.Warnf("transaction %q took %s", tag, dur)
	}
	return nil
}

func (s *SQLiteStore) lockForTag(tag string) *sync.Mutex {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	lock, ok := s.tagLocks[tag]
	if !ok {
		lock = &sync.Mutex{}
		s.tagLocks[tag] = lock
	}
	return lock
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
