package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"panelboot/config"
)

type fakeDB struct {
	queries []string
	rows    int64
	err     error
}

func (d *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.queries = append(d.queries, sql)
	if d.err != nil {
		return pgconn.CommandTag{}, d.err
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", d.rows)), nil
}

func newEnvFixture(t *testing.T) *config.Envfile {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("APP_KEY=stale\nDB_HOST=pg\n"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	env, err := config.LoadEnvfile(path)
	if err != nil {
		t.Fatalf("LoadEnvfile: %v", err)
	}
	return env
}

func TestCredentialResetRun(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mr.Set("session:aaa", "x")
	mr.Set("session:bbb", "y")
	mr.Set("rate_limit:1.2.3.4", "3")

	db := &fakeDB{rows: 7}
	env := newEnvFixture(t)

	reset := NewCredentialReset(db, rdb, env, "APP_KEY", "123456")
	secret, err := reset.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if secret == "" || secret == "stale" {
		t.Error("a fresh secret must be generated")
	}
	if env.Get("APP_KEY") != secret {
		t.Error("the secret must be written into the env file")
	}
	raw, err := os.ReadFile(env.Path())
	if err != nil {
		t.Fatalf("read env file: %v", err)
	}
	if !strings.Contains(string(raw), "APP_KEY="+secret) {
		t.Error("the secret must be persisted to disk")
	}

	if len(db.queries) != 1 || !strings.Contains(db.queries[0], "UPDATE users SET password_hash") {
		t.Errorf("expected one password reset statement, got %v", db.queries)
	}

	if mr.Exists("session:aaa") || mr.Exists("session:bbb") {
		t.Error("all cached sessions must be invalidated")
	}
	if !mr.Exists("rate_limit:1.2.3.4") {
		t.Error("unrelated keys must survive the purge")
	}
}

func TestCredentialResetWithoutRedis(t *testing.T) {
	db := &fakeDB{rows: 1}
	env := newEnvFixture(t)

	reset := NewCredentialReset(db, nil, env, "APP_KEY", "123456")
	if _, err := reset.Run(context.Background()); err != nil {
		t.Fatalf("Run without redis: %v", err)
	}
}

func TestCredentialResetDatabaseFailure(t *testing.T) {
	db := &fakeDB{err: fmt.Errorf("relation \"users\" does not exist")}
	env := newEnvFixture(t)

	reset := NewCredentialReset(db, nil, env, "APP_KEY", "123456")
	if _, err := reset.Run(context.Background()); err == nil {
		t.Fatal("expected error when the password reset fails")
	}
}
