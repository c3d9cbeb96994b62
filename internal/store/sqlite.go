package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// sqliteShared is the state every dataset derived from one Open call
// shares: the connection pool and a mutex serializing transactions, since
// spec §5 requires a transaction's body to execute exclusively with respect
// to other transactions on the same backend.
type sqliteShared struct {
	db *sql.DB
	mu sync.Mutex
}

// SQLiteStore is the reference KV backend, one physical table per dataset
// namespace. It follows the teacher's own database/sql + modernc.org/sqlite
// usage in internal/graph/writable_graph.go: PRAGMA tuning on open, explicit
// transactions, a single shared *sql.DB across all tables.
type SQLiteStore struct {
	shared *sqliteShared
	table  string
}

// Open creates or opens a SQLite-backed Store at path. An empty path opens
// an in-process, non-persistent database (":memory:"), useful for tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errBackend(err)
	}
	// journal_mode=WAL: concurrent readers don't block the single writer,
	// matching spec §5's "snapshot reads consistent with the current
	// transaction" requirement without serializing reads behind writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errBackend(err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, errBackend(err)
	}
	db.SetMaxOpenConns(1) // single-logical-writer model (spec §5)

	s := &SQLiteStore{shared: &sqliteShared{db: db}, table: "kv_root"}
	if err := s.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func sanitizeTableName(name string) string {
	name = strings.ReplaceAll(name, "/", "__")
	var b strings.Builder
	b.Grow(len(name) + 3)
	b.WriteString("kv_")
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (s *SQLiteStore) createTable() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k BLOB PRIMARY KEY, v BLOB NOT NULL)`, s.table)
	_, err := s.shared.db.Exec(stmt)
	return errBackend(err)
}

// Dataset returns a Store scoped to its own table, sharing the underlying
// connection and transaction mutex. Nested dataset names ("checksums/sha256")
// each get their own physical table, satisfying the "nested storage" rule
// in spec §6.
func (s *SQLiteStore) Dataset(name string) (Store, error) {
	ds := &SQLiteStore{shared: s.shared, table: sanitizeTableName(name)}
	if err := ds.createTable(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *SQLiteStore) Get(key []byte) ([]byte, bool, error) {
	row := s.shared.db.QueryRow(fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, s.table), key)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errBackend(err)
	}
	return v, true, nil
}

func (s *SQLiteStore) Has(key []byte) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *SQLiteStore) Put(key, value []byte) error {
	_, err := s.shared.db.Exec(
		fmt.Sprintf(`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, s.table),
		key, value)
	return errBackend(err)
}

func (s *SQLiteStore) Del(key []byte) error {
	_, err := s.shared.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, s.table), key)
	return errBackend(err)
}

func (s *SQLiteStore) GetKeys(r KeyRange) (Cursor, error) {
	return s.scan(r, false)
}

func (s *SQLiteStore) GetRange(r KeyRange) (Cursor, error) {
	return s.scan(r, true)
}

func (s *SQLiteStore) scan(r KeyRange, withValues bool) (Cursor, error) {
	query, args := rangeQuery(s.table, r, withValues)
	rows, err := s.shared.db.Query(query, args...)
	if err != nil {
		return nil, errBackend(err)
	}
	return &sqlCursor{rows: rows, withValues: withValues}, nil
}

func rangeQuery(table string, r KeyRange, withValues bool) (string, []any) {
	cols := "k"
	if withValues {
		cols = "k, v"
	}
	var conds []string
	var args []any
	if r.Start != nil {
		conds = append(conds, "k >= ?")
		args = append(args, r.Start)
	}
	if r.End != nil {
		conds = append(conds, "k < ?")
		args = append(args, r.End)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY k ASC`, cols, table, where), args
}

type sqlCursor struct {
	rows       *sql.Rows
	withValues bool
	key        []byte
	value      []byte
	err        error
}

func (c *sqlCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	if c.withValues {
		c.err = c.rows.Scan(&c.key, &c.value)
	} else {
		c.err = c.rows.Scan(&c.key)
		c.value = nil
	}
	return c.err == nil
}

func (c *sqlCursor) Key() []byte   { return c.key }
func (c *sqlCursor) Value() []byte { return c.value }
func (c *sqlCursor) Err() error {
	if c.err != nil {
		return errBackend(c.err)
	}
	return errBackend(c.rows.Err())
}
func (c *sqlCursor) Close() error { return c.rows.Close() }

// Transaction serializes fn against other transactions on any dataset
// sharing this store's connection (spec §5: "a transaction(fn) primitive
// whose body executes exclusively with respect to other transactions").
func (s *SQLiteStore) Transaction(fn func(Tx) error) error {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	sqlTx, err := s.shared.db.Begin()
	if err != nil {
		return errBackend(err)
	}
	tx := &sqliteTx{tx: sqlTx, table: s.table}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errBackend(err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.shared.db.Close()
}

type sqliteTx struct {
	tx    *sql.Tx
	table string
}

func (t *sqliteTx) Get(key []byte) ([]byte, bool, error) {
	row := t.tx.QueryRow(fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, t.table), key)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errBackend(err)
	}
	return v, true, nil
}

func (t *sqliteTx) Has(key []byte) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

func (t *sqliteTx) Put(key, value []byte) error {
	_, err := t.tx.Exec(
		fmt.Sprintf(`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, t.table),
		key, value)
	return errBackend(err)
}

func (t *sqliteTx) Del(key []byte) error {
	_, err := t.tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, t.table), key)
	return errBackend(err)
}

func (t *sqliteTx) GetKeys(r KeyRange) (Cursor, error) { return t.scan(r, false) }
func (t *sqliteTx) GetRange(r KeyRange) (Cursor, error) {
	return t.scan(r, true)
}

func (t *sqliteTx) scan(r KeyRange, withValues bool) (Cursor, error) {
	query, args := rangeQuery(t.table, r, withValues)
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, errBackend(err)
	}
	return &sqlCursor{rows: rows, withValues: withValues}, nil
}
