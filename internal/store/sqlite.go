package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/gunrelay/internal/graph"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - nodes table keyed by soul
const currentSchemaVersion = 1

// maxOpenConns allows scans and point reads to run beside the single
// writer. WAL gives every reader its own snapshot.
const maxOpenConns = 4

// SQLite is a Backend on a SQLite file.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas on every pooled connection and creates the
// schema if needed.
//
// Each connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - mmap_size = mapSize (0 leaves SQLite's default)
//
// This function is idempotent - safe to call multiple times.
func Open(path string, mapSize int64) (*SQLite, error) {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if mapSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size = %d", mapSize))
	}

	drv := &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, pragma := range pragmas {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("failed to execute %q: %w", pragma, err)
				}
			}
			return nil
		},
	}
	db := sql.OpenDB(&sqliteConnector{dsn: path, drv: drv})

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// sqliteConnector lets each SQLite handle carry its own pragmas without
// registering a global driver name.
type sqliteConnector struct {
	dsn string
	drv *sqlite3.SQLiteDriver
}

func (c *sqliteConnector) Connect(context.Context) (driver.Conn, error) {
	return c.drv.Open(c.dsn)
}

func (c *sqliteConnector) Driver() driver.Driver {
	return c.drv
}

// applySchema creates tables if they don't exist and records the version.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLite) Close() error {
	if s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// View implements Backend. The transaction only ever reads; under WAL it
// sees a stable snapshot and never blocks the writer.
func (s *SQLite) View(ctx context.Context, fn func(Reader) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback() // Always released; nothing to commit

	return fn(&sqliteTx{ctx: ctx, tx: tx})
}

// Update implements Backend.
func (s *SQLite) Update(ctx context.Context, fn func(Writer) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// sqliteTx implements Writer on one transaction.
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) Get(soul string) (*graph.Node, error) {
	var body string
	err := t.tx.QueryRowContext(t.ctx, `SELECT body FROM nodes WHERE soul = ?`, soul).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", soul, err)
	}
	return unmarshalNode(soul, []byte(body))
}

func (t *sqliteTx) Seek(prefix string, fn func(soul string) error) error {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT soul FROM nodes
		WHERE soul >= ?
		ORDER BY soul COLLATE BINARY ASC
	`, prefix)
	if err != nil {
		return fmt.Errorf("seek %q: %w", prefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var soul string
		if err := rows.Scan(&soul); err != nil {
			return fmt.Errorf("scan soul: %w", err)
		}
		if !strings.HasPrefix(soul, prefix) {
			break
		}
		if err := fn(soul); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTx) Put(node *graph.Node) error {
	body, err := marshalNode(node)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO nodes (soul, body) VALUES (?, ?)
		ON CONFLICT(soul) DO UPDATE SET body = excluded.body
	`, node.Soul, string(body))
	if err != nil {
		return fmt.Errorf("write node %s: %w", node.Soul, err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
