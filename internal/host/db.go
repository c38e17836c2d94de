// Package host is the relational side of a query: sqlite tables whose
// MDARRAY columns hold references to arrays stored on the array engine,
// and a sqlite-backed evaluator for scalar subexpressions.
package host

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/misev/asqldb/internal/arrayid"
	"github.com/misev/asqldb/internal/catalog"
	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/internal/expr"
	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// Table is a declared host table. It implements expr.Schema over its
// columns.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnType implements expr.Schema.
func (t *Table) ColumnType(name string) (expr.Type, bool) {
	c, ok := t.column(name)
	return c.Type, ok
}

func (t *Table) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// DB is a host database.
type DB struct {
	db      *sql.DB
	remote  expr.Remote
	catalog expr.Collections

	mu     sync.RWMutex
	tables map[string]*Table
}

// Open opens or creates the sqlite database at path. remote creates and
// drops the collections backing array columns; both remote and cat may be
// nil when no array columns are declared.
func Open(path string, remote expr.Remote, cat expr.Collections) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("host: failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &DB{
		db:      db,
		remote:  remote,
		catalog: cat,
		tables:  make(map[string]*Table),
	}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("host: failed to initialize schema: %w", err)
	}
	if err := h.loadTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("host: failed to load tables: %w", err)
	}
	return h, nil
}

// Close closes the database.
func (h *DB) Close() error {
	return h.db.Close()
}

// Evaluator returns a scalar evaluator running on this database.
func (h *DB) Evaluator() *Evaluator {
	return &Evaluator{db: h.db}
}

func (h *DB) initSchema() error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (h *DB) loadTables() error {
	rows, err := h.db.Query(`SELECT table_name, column_name, cell_type, domain
		FROM asqldb_columns ORDER BY table_name, position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, name, cell string
		var dom *string
		if err := rows.Scan(&table, &name, &cell, &dom); err != nil {
			return err
		}
		col, err := decodeColumn(name, cell, dom)
		if err != nil {
			return fmt.Errorf("column %s.%s: %w", table, name, err)
		}
		t, ok := h.tables[key(table)]
		if !ok {
			t = &Table{Name: table}
			h.tables[key(table)] = t
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(h.tables) > 0 {
		log.Printf("host: loaded %d tables", len(h.tables))
	}
	return nil
}

func key(name string) string {
	return strings.ToLower(name)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Table returns a declared table.
func (h *DB) Table(name string) (*Table, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tables[key(name)]
	return t, ok
}

// Tables lists the table names in sorted order.
func (h *DB) Tables() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.tables))
	for _, t := range h.tables {
		out = append(out, t.Name)
	}
	sort.Strings(out)
	return out
}

// CreateTable declares a table. Every MDARRAY column gets a backing
// collection on the array engine unless the catalog already knows it.
func (h *DB) CreateTable(ctx context.Context, name string, cols []Column) error {
	if name == "" || len(cols) == 0 {
		return errors.NewValidationError(errors.CodeInvalidConfig, "a table needs a name and at least one column")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tables[key(name)]; ok {
		return fmt.Errorf("table %s already exists", name)
	}

	var ddl []string
	defs := make([]string, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c.Name == "" || seen[key(c.Name)] {
			return fmt.Errorf("table %s: invalid or duplicate column %q", name, c.Name)
		}
		seen[key(c.Name)] = true
		defs = append(defs, quote(c.Name)+" "+sqlType(c.Type))
		if c.Type.IsArray() {
			ct, err := c.Type.Array.CollectionType()
			if err != nil {
				return err
			}
			ddl = append(ddl, fmt.Sprintf("create collection %s %s", catalog.CollectionName(name, c.Name), ct))
		}
	}
	if len(ddl) > 0 && (h.remote == nil || h.catalog == nil) {
		return fmt.Errorf("table %s has array columns but no array engine is configured", name)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("host: create table %s: %w", name, err)
	}
	for i, c := range cols {
		var dom *string
		if c.Type.IsArray() {
			text, err := encodeDomain(c.Type.Array.Domain)
			if err != nil {
				return fmt.Errorf("column %s: %w", c.Name, err)
			}
			dom = &text
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO asqldb_columns
			(table_name, column_name, position, cell_type, domain) VALUES (?, ?, ?, ?, ?)`,
			name, c.Name, i, c.Type.CellType().String(), dom); err != nil {
			return err
		}
	}

	var created []string
	for _, stmt := range ddl {
		coll := strings.Fields(stmt)[2]
		if h.catalog.Contains(coll) {
			continue
		}
		if _, err := h.remote.Execute(ctx, stmt, session.ExecOptions{WriteAccess: true}); err != nil {
			h.dropCollections(ctx, created)
			return err
		}
		h.catalog.Observe(stmt)
		created = append(created, coll)
	}
	if err := tx.Commit(); err != nil {
		h.dropCollections(ctx, created)
		return err
	}

	h.tables[key(name)] = &Table{Name: name, Columns: append([]Column(nil), cols...)}
	log.Printf("host: created table %s (%d array columns)", name, len(ddl))
	return nil
}

// DropTable removes a table and, best-effort, the collections backing its
// array columns.
func (h *DB) DropTable(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[key(name)]
	if !ok {
		return fmt.Errorf("table %s not found", name)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+quote(t.Name)); err != nil {
		return fmt.Errorf("host: drop table %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM asqldb_columns WHERE table_name = ?", t.Name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	delete(h.tables, key(name))

	var colls []string
	for _, c := range t.Columns {
		if c.Type.IsArray() {
			colls = append(colls, catalog.CollectionName(t.Name, c.Name))
		}
	}
	h.dropCollections(ctx, colls)
	log.Printf("host: dropped table %s", name)
	return nil
}

func (h *DB) dropCollections(ctx context.Context, colls []string) {
	if h.remote == nil || h.catalog == nil {
		return
	}
	for _, coll := range colls {
		stmt := "drop collection " + coll
		if _, err := h.remote.Execute(ctx, stmt, session.ExecOptions{WriteAccess: true, IgnoreFailure: true}); err != nil {
			log.Printf("host: %s: %v", stmt, err)
			continue
		}
		h.catalog.Observe(stmt)
	}
}

// InsertTarget describes the array column an INSERT populates, for
// evaluating array literals into it.
func (h *DB) InsertTarget(table, column string) (*expr.InsertTarget, error) {
	t, ok := h.Table(table)
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	c, ok := t.column(column)
	if !ok || !c.Type.IsArray() {
		return nil, errors.NewTypeError(errors.CodeUnknownColumn,
			fmt.Sprintf("%s.%s is not an array column", t.Name, column))
	}
	return &expr.InsertTarget{Table: t.Name, Column: c.Name, Type: *c.Type.Array}, nil
}

// Insert adds a row. Array columns take a types.ArrayRef or its
// "coll:oid" text; omitted columns are NULL.
func (h *DB) Insert(ctx context.Context, table string, values map[string]any) error {
	t, ok := h.Table(table)
	if !ok {
		return fmt.Errorf("table %s not found", table)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		c, ok := t.column(name)
		if !ok {
			return errors.NewTypeError(errors.CodeUnknownColumn, fmt.Sprintf("table %s has no column %s", t.Name, name))
		}
		v, err := storedValue(c, values[name])
		if err != nil {
			return err
		}
		cols = append(cols, quote(c.Name))
		args = append(args, v)
	}
	if len(cols) == 0 {
		return fmt.Errorf("insert into %s without values", t.Name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(t.Name), strings.Join(cols, ", "), placeholders)
	if _, err := h.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("host: insert into %s: %w", t.Name, err)
	}
	return nil
}

func storedValue(c Column, v any) (any, error) {
	if v == nil || !c.Type.IsArray() {
		return v, nil
	}
	switch x := v.(type) {
	case types.ArrayRef:
		return x.String(), nil
	case string:
		id, err := arrayid.Parse(x, c.Name)
		if err != nil {
			return nil, err
		}
		return id.Ref().String(), nil
	}
	return nil, errors.NewQueryError(errors.CodeInvalidArrayID,
		fmt.Sprintf("%T is not an array reference for field %s", v, c.Name), nil)
}

// Rows returns the rows of a table matching the optional sql filter.
// Array columns come back as "coll:oid" text.
func (h *DB) Rows(ctx context.Context, table, where string, args ...any) ([]expr.MapRow, error) {
	t, ok := h.Table(table)
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quote(c.Name)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quote(t.Name))
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY rowid"

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("host: select from %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []expr.MapRow
	for rows.Next() {
		raw := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(expr.MapRow, len(t.Columns))
		for i, c := range t.Columns {
			row[c.Name] = normalize(raw[i], c.Type)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts a sqlite value to the expression value of the
// column type.
func normalize(v any, t expr.Type) any {
	if b, ok := v.([]byte); ok && t.Scalar != types.Binary {
		v = string(b)
	}
	if t.IsArray() {
		return v
	}
	if t.Scalar == types.Boolean {
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	if t.Scalar.IsFloating() {
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}
