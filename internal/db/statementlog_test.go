package db

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
)

type captureHandler struct {
	mu      sync.Mutex
	records []map[string]slog.Value
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.records = append(h.records, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) last(t *testing.T) map[string]slog.Value {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		t.Fatal("no log records captured")
	}
	return h.records[len(h.records)-1]
}

func (h *captureHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
}

func openLogged(t *testing.T) (*sql.DB, *captureHandler) {
	t.Helper()
	h := &captureHandler{}
	db := sql.OpenDB(NewStatementLogger(":memory:", slog.New(h)))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return db, h
}

func TestStatementLogger_Exec(t *testing.T) {
	db, h := openLogged(t)

	if _, err := db.Exec(`CREATE TABLE readings (id TEXT PRIMARY KEY, temperature REAL)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.reset()

	if _, err := db.Exec(`INSERT INTO readings (id, temperature) VALUES (?, ?)`, "r1", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec := h.last(t)
	if rec["msg"].String() != "sql" || rec["op"].String() != "exec" {
		t.Errorf("msg/op = %q/%q", rec["msg"].String(), rec["op"].String())
	}
	if rec["sql"].String() != `INSERT INTO readings (id, temperature) VALUES (?, ?)` {
		t.Errorf("sql = %q", rec["sql"].String())
	}
	args, ok := rec["args"].Any().([]string)
	if !ok || len(args) != 2 || args[0] != "r1" || args[1] != "NULL" {
		t.Errorf("args = %v", rec["args"].Any())
	}
	if rows := rec["rows"].Int64(); rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
	if _, ok := rec["duration"]; !ok {
		t.Error("missing duration attribute")
	}
}

func TestStatementLogger_Query(t *testing.T) {
	db, h := openLogged(t)
	h.reset()

	var one int
	if err := db.QueryRow(`SELECT ?`, 1).Scan(&one); err != nil {
		t.Fatalf("query: %v", err)
	}
	if one != 1 {
		t.Fatalf("got %d, want 1", one)
	}
	rec := h.last(t)
	if rec["op"].String() != "query" || rec["sql"].String() != `SELECT ?` {
		t.Errorf("op/sql = %q/%q", rec["op"].String(), rec["sql"].String())
	}
}

func TestStatementLogger_ErrorLogged(t *testing.T) {
	db, h := openLogged(t)
	h.reset()

	if _, err := db.Exec(`INSERT INTO missing_table VALUES (1)`); err == nil {
		t.Fatal("expected error for missing table")
	}
	rec := h.last(t)
	if _, ok := rec["err"]; !ok {
		t.Errorf("expected err attribute, got %v", rec)
	}
}

func TestStatementLogger_Transaction(t *testing.T) {
	db, _ := openLogged(t)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Exec(`INSERT INTO t VALUES (1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
}

func TestNewStatementLogger_NilLogger(t *testing.T) {
	db := sql.OpenDB(NewStatementLogger(":memory:", nil))
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestStatementLogger_MultiStatementScript(t *testing.T) {
	db, _ := openLogged(t)

	script := `CREATE TABLE a (id INTEGER); CREATE TABLE b (id INTEGER);`
	if _, err := db.Exec(script); err != nil {
		t.Fatalf("exec script: %v", err)
	}
	for _, table := range []string{"a", "b"} {
		if _, err := db.Exec(`INSERT INTO ` + table + ` VALUES (1)`); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}
