package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// NewStatementLogger returns a connector for sql.OpenDB that opens sqlite3
// connections and logs each executed statement with its arguments, duration
// and error. A nil logger means slog.Default().
func NewStatementLogger(dsn string, logger *slog.Logger) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &stmtLogConnector{dsn: dsn, logger: logger, driver: &sqlite3.SQLiteDriver{}}
}

type stmtLogConnector struct {
	dsn    string
	logger *slog.Logger
	driver *sqlite3.SQLiteDriver
}

func (c *stmtLogConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &stmtLogConn{Conn: conn, logger: c.logger}, nil
}

func (c *stmtLogConnector) Driver() driver.Driver { return c.driver }

type stmtLogConn struct {
	driver.Conn
	logger *slog.Logger
}

func (c *stmtLogConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *stmtLogConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		c.logger.DebugContext(ctx, "sql", "op", "prepare", "sql", query, "err", err)
		return nil, err
	}
	return &stmtLogStmt{Stmt: stmt, query: query, logger: c.logger}, nil
}

func (c *stmtLogConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019 fallback for drivers without BeginTx
	return c.Conn.Begin()
}

// ResetSession keeps pooled connections usable after a cancelled query.
func (c *stmtLogConn) ResetSession(ctx context.Context) error {
	if r, ok := c.Conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

// ExecContext and QueryContext hand unprepared statements straight to sqlite3,
// which runs every statement in a multi-statement script.
func (c *stmtLogConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	e, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := e.ExecContext(ctx, query, args)
	logStatement(ctx, c.logger, "exec", query, args, start, res, err)
	return res, err
}

func (c *stmtLogConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args)
	logStatement(ctx, c.logger, "query", query, args, start, nil, err)
	return rows, err
}

type stmtLogStmt struct {
	driver.Stmt
	query  string
	logger *slog.Logger
}

var errNoContextSupport = errors.New("statement does not support context")

func (s *stmtLogStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		err = errNoContextSupport
	}
	logStatement(ctx, s.logger, "exec", s.query, args, start, res, err)
	return res, err
}

func (s *stmtLogStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		err = errNoContextSupport
	}
	logStatement(ctx, s.logger, "query", s.query, args, start, nil, err)
	return rows, err
}

func logStatement(ctx context.Context, logger *slog.Logger, op, query string, args []driver.NamedValue, start time.Time, res driver.Result, err error) {
	attrs := []any{"op", op, "sql", query, "args", formatArgs(args), "duration", time.Since(start)}
	if err != nil {
		attrs = append(attrs, "err", err)
	} else if res != nil {
		if n, rerr := res.RowsAffected(); rerr == nil {
			attrs = append(attrs, "rows", n)
		}
	}
	logger.DebugContext(ctx, "sql", attrs...)
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := "NULL"
		switch t := a.Value.(type) {
		case nil:
		case []byte:
			v = string(t)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
