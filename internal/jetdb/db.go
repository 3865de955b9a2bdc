// Package jetdb reads and writes JetEngine CCT rows and relation join rows
// directly in the site database. JetEngine owns the schema; this package only
// performs point reads, point updates and join lookups.
package jetdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/host"
	"github.com/starford/cctsync/internal/models"
)

// Dialect selects the SQL flavour of the underlying database.
type Dialect string

// Supported dialects.
const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite3"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DB wraps a sql.DB holding JetEngine tables.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	prefix  string
	logger  *slog.Logger
}

// Verify *DB satisfies host.Items at compile time.
var _ host.Items = (*DB)(nil)

// MySQLOptions holds the connection settings of a WordPress database.
type MySQLOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// OpenMySQL connects to the WordPress MySQL database.
func OpenMySQL(opts MySQLOptions, prefix string, logger *slog.Logger) (*DB, error) {
	mc := mysql.NewConfig()
	mc.User = opts.User
	mc.Passwd = opts.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	mc.DBName = opts.Name
	mc.ParseTime = true

	conn, err := sql.Open(string(MySQL), mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("jetdb: open mysql: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetdb: ping mysql: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	logger.Info("jetdb: connected",
		slog.String("driver", string(MySQL)),
		slog.String("addr", mc.Addr),
		slog.String("database", opts.Name))
	return New(conn, MySQL, prefix, logger), nil
}

// OpenSQLite opens (or creates) a SQLite database laid out like a JetEngine
// site, for local development and tests.
func OpenSQLite(path, prefix string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open(string(SQLite), path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("jetdb: open sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetdb: ping sqlite: %w", err)
	}
	return New(conn, SQLite, prefix, logger), nil
}

// New wraps an existing connection.
func New(conn *sql.DB, dialect Dialect, prefix string, logger *slog.Logger) *DB {
	return &DB{conn: conn, dialect: dialect, prefix: prefix, logger: logger}
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CCTTable returns the table name holding rows of a CCT.
func (db *DB) CCTTable(slug string) (string, error) {
	if !identifierRe.MatchString(slug) {
		return "", fmt.Errorf("jetdb: invalid cct slug %q: %w", slug, apperr.ErrInvalid)
	}
	return db.prefix + "jet_cct_" + slug, nil
}

// RelationTable returns the join table of a relation.
func (db *DB) RelationTable(id models.RelationID) (string, error) {
	if id <= 0 {
		return "", fmt.Errorf("jetdb: invalid relation id %d: %w", id, apperr.ErrInvalid)
	}
	return db.prefix + "jet_rel_" + id.String(), nil
}

func quote(ident string) string {
	return "`" + ident + "`"
}

func column(name string) (string, error) {
	if !identifierRe.MatchString(name) {
		return "", fmt.Errorf("jetdb: invalid field name %q: %w", name, apperr.ErrInvalid)
	}
	return quote(name), nil
}

func (db *DB) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	var err error
	switch db.dialect {
	case MySQL:
		err = db.conn.QueryRowContext(ctx, `SHOW TABLES LIKE ?`, table).Scan(&name)
	default:
		err = db.conn.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jetdb: table exists %s: %w", table, err)
	}
	return name == table, nil
}

// GetItem implements host.Items.
func (db *DB) GetItem(ctx context.Context, cct string, id int64) (models.Item, error) {
	table, err := db.CCTTable(cct)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE `_ID` = ? LIMIT 1", quote(table)), id)
	if err != nil {
		return nil, fmt.Errorf("jetdb: get item %s/%d: %w", cct, id, err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("jetdb: scan item %s/%d: %w", cct, id, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("jetdb: item %s/%d: %w", cct, id, apperr.ErrNotFound)
	}
	return items[0], nil
}

// GetField implements host.Items. A NULL column yields a nil value.
func (db *DB) GetField(ctx context.Context, cct string, id int64, field string) (any, error) {
	table, err := db.CCTTable(cct)
	if err != nil {
		return nil, err
	}
	col, err := column(field)
	if err != nil {
		return nil, err
	}
	var v any
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE `_ID` = ?", col, quote(table)), id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("jetdb: item %s/%d: %w", cct, id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("jetdb: get field %s/%d.%s: %w", cct, id, field, err)
	}
	return normalize(v), nil
}

// UpdateItemField implements host.Items.
func (db *DB) UpdateItemField(ctx context.Context, cct string, id int64, field string, value any) error {
	return db.UpdateItemFields(ctx, cct, id, map[string]any{field: value})
}

// UpdateItemFields implements host.Items. Columns are written in one
// statement; array values are stored PHP-serialised as JetEngine expects.
func (db *DB) UpdateItemFields(ctx context.Context, cct string, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	table, err := db.CCTTable(cct)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == models.IDField {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		col, err := column(name)
		if err != nil {
			return err
		}
		val, err := encodeValue(fields[name])
		if err != nil {
			return err
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	_, err = db.conn.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE `_ID` = ?", quote(table), strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("jetdb: update %s/%d: %w", cct, id, err)
	}
	return nil
}

// ParentID implements host.Items. A missing join table is treated as an
// empty one.
func (db *DB) ParentID(ctx context.Context, rel models.RelationID, childID int64) (int64, error) {
	table, err := db.RelationTable(rel)
	if err != nil {
		return 0, err
	}
	ok, err := db.tableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		db.logger.Warn("jetdb: relation table does not exist", slog.String("table", table))
		return 0, fmt.Errorf("jetdb: relation table %s: %w", table, apperr.ErrNotFound)
	}
	var parent int64
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT parent_object_id FROM %s WHERE child_object_id = ? LIMIT 1", quote(table)),
		childID).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && parent == 0) {
		return 0, fmt.Errorf("jetdb: parent of %d in relation %s: %w", childID, rel, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("jetdb: parent of %d in relation %s: %w", childID, rel, err)
	}
	return parent, nil
}

// ChildIDs implements host.Items.
func (db *DB) ChildIDs(ctx context.Context, rel models.RelationID, parentID int64) ([]int64, error) {
	table, err := db.RelationTable(rel)
	if err != nil {
		return nil, err
	}
	ok, err := db.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		db.logger.Warn("jetdb: relation table does not exist", slog.String("table", table))
		return []int64{}, nil
	}
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT child_object_id FROM %s WHERE parent_object_id = ? ORDER BY child_object_id", quote(table)),
		parentID)
	if err != nil {
		return nil, fmt.Errorf("jetdb: children of %d in relation %s: %w", parentID, rel, err)
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountItems implements host.Items. A missing table counts as empty.
func (db *DB) CountItems(ctx context.Context, cct string) (int, error) {
	table, err := db.CCTTable(cct)
	if err != nil {
		return 0, err
	}
	ok, err := db.tableExists(ctx, table)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("jetdb: count %s: %w", cct, err)
	}
	return n, nil
}

// ListItems implements host.Items, ordered by _ID.
func (db *DB) ListItems(ctx context.Context, cct string, limit, offset int) ([]models.Item, error) {
	table, err := db.CCTTable(cct)
	if err != nil {
		return nil, err
	}
	ok, err := db.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Item{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY `_ID` LIMIT ? OFFSET ?", quote(table)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("jetdb: list %s: %w", cct, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]models.Item, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []models.Item{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		item := make(models.Item, len(cols))
		for i, col := range cols {
			item[col] = normalize(values[i])
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// normalize converts driver byte slices to strings so items compare and
// encode predictably.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
