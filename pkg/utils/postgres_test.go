package utils

import (
	"strings"
	"testing"
	"time"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- header comment
CREATE TABLE a (id INT);

CREATE INDEX a_idx ON a (id);
-- trailing comment only
`
	stmts := SplitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "CREATE TABLE a") || !strings.HasPrefix(stmts[1], "CREATE INDEX") {
		t.Fatalf("unexpected statements: %q", stmts)
	}
}

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 8}.withDefaults()
	if c.MaxIdleConns != 8 {
		t.Fatalf("expected idle conns to follow open conns, got %d", c.MaxIdleConns)
	}
	if c.PingTimeout != 3*time.Second {
		t.Fatalf("unexpected ping timeout %v", c.PingTimeout)
	}
}
