// Package mysqltest provides a scripted database/sql driver for exercising
// MySQL-backed stores without a running server. Each expected operation is
// consumed in order; queries are matched on a whitespace-normalised fragment.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type kind int

const (
	kindExec kind = iota
	kindQuery
	kindBegin
	kindCommit
	kindRollback
)

func (k kind) String() string {
	switch k {
	case kindExec:
		return "exec"
	case kindQuery:
		return "query"
	case kindBegin:
		return "begin"
	case kindCommit:
		return "commit"
	case kindRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Op 描述一次预期的数据库操作。
type Op struct {
	kind         kind
	fragment     string
	rowsAffected int64
	columns      []string
	rows         [][]driver.Value
	err          error
}

// Exec 预期一条写语句。
func Exec(fragment string, rowsAffected int64) Op {
	return Op{kind: kindExec, fragment: fragment, rowsAffected: rowsAffected}
}

// Query 预期一条查询语句并返回给定行。
func Query(fragment string, columns []string, rows ...[]driver.Value) Op {
	return Op{kind: kindQuery, fragment: fragment, columns: columns, rows: rows}
}

// Begin 预期开启事务。
func Begin() Op { return Op{kind: kindBegin} }

// Commit 预期提交事务。
func Commit() Op { return Op{kind: kindCommit} }

// Rollback 预期回滚事务。
func Rollback() Op { return Op{kind: kindRollback} }

// WithError 让该操作返回指定错误。
func (o Op) WithError(err error) Op {
	o.err = err
	return o
}

// Call 记录一次实际执行的语句及参数。
type Call struct {
	Query string
	Args  []any
}

// Driver 是按脚本回放的 driver.Driver。
type Driver struct {
	ops []Op
	idx atomic.Int32

	mu    sync.Mutex
	calls []Call
}

var seq atomic.Int32

// NewDB 注册脚本驱动并返回单连接的 *sql.DB。
func NewDB(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()
	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", seq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed 确认脚本中的操作全部被执行。
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if got := int(d.idx.Load()); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Calls 返回已执行语句的副本。
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Open 实现 driver.Driver。
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected kind, query string, args []driver.NamedValue) (*Op, error) {
	i := int(d.idx.Load())
	if i >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, Normalize(query))
	}
	op := &d.ops[i]
	if op.kind != expected {
		return nil, fmt.Errorf("expected %s, got %s (%s)", op.kind, expected, Normalize(query))
	}
	d.idx.Add(1)
	if op.fragment != "" && !strings.Contains(Normalize(query), Normalize(op.fragment)) {
		return nil, fmt.Errorf("unexpected query: want fragment %q in %q", Normalize(op.fragment), Normalize(query))
	}
	if expected == kindExec || expected == kindQuery {
		values := make([]any, len(args))
		for j, arg := range args {
			values[j] = arg.Value
		}
		d.mu.Lock()
		d.calls = append(d.calls, Call{Query: Normalize(query), Args: values})
		d.mu.Unlock()
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(kindBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(kindExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return driver.RowsAffected(op.rowsAffected), nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.columns, values: op.rows}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(kindCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(kindRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize 折叠空白，便于比较 SQL 片段。
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
