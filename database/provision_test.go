package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestDiscoverProfiles(t *testing.T) {
	t.Run("derives one profile per declared database", func(t *testing.T) {
		values := map[string]string{
			"UPMS_DATABASE":   "upms",
			"REPORT_DATABASE": "reports",
			"REPORT_HOST":     "dbhost2",
		}

		profiles := DiscoverProfiles(values)
		if len(profiles) != 2 {
			t.Fatalf("expected 2 profiles, got %d", len(profiles))
		}

		byName := make(map[string]Profile)
		for _, p := range profiles {
			byName[p.Name] = p
		}

		upms, ok := byName["upms"]
		if !ok {
			t.Fatal("missing profile for upms")
		}
		if upms.Host != "127.0.0.1" || upms.Port != "5432" || upms.Username != "postgres" || upms.Password != "" {
			t.Errorf("upms should use global defaults, got %+v", upms)
		}

		reports, ok := byName["reports"]
		if !ok {
			t.Fatal("missing profile for reports")
		}
		if reports.Host != "dbhost2" {
			t.Errorf("reports should use its host override, got %s", reports.Host)
		}
		if reports.Port != "5432" || reports.Username != "postgres" {
			t.Errorf("reports should fall back to defaults for other fields, got %+v", reports)
		}
	})

	t.Run("global defaults fill missing overrides", func(t *testing.T) {
		values := map[string]string{
			"DB_HOST":       "primary.internal",
			"DB_PORT":       "5433",
			"DB_USERNAME":   "admin",
			"DB_PASSWORD":   "pw",
			"LOG_DB_NAME":   "logs",
			"LOG_USERNAME":  "logger",
			"UPMS_DATABASE": "upms",
		}

		profiles := DiscoverProfiles(values)
		byName := make(map[string]Profile)
		for _, p := range profiles {
			byName[p.Name] = p
		}

		logs := byName["logs"]
		if logs.Host != "primary.internal" || logs.Port != "5433" || logs.Username != "logger" || logs.Password != "pw" {
			t.Errorf("logs profile resolved wrong: %+v", logs)
		}
		upms := byName["upms"]
		if upms.Username != "admin" || upms.Password != "pw" {
			t.Errorf("upms profile should use global credentials: %+v", upms)
		}
	})

	t.Run("duplicate names collapse with last-seen winning", func(t *testing.T) {
		values := map[string]string{
			"ANALYTICS_DATABASE": "shared",
			"WAREHOUSE_DB_NAME":  "shared",
			"WAREHOUSE_HOST":     "w1",
		}

		profiles := DiscoverProfiles(values)
		if len(profiles) != 1 {
			t.Fatalf("expected 1 deduplicated profile, got %d", len(profiles))
		}
		// Keys are visited in sorted order, so WAREHOUSE_DB_NAME is last.
		if profiles[0].Host != "w1" {
			t.Errorf("last-seen profile should win, got host %s", profiles[0].Host)
		}
	})

	t.Run("blank values and unrelated keys are ignored", func(t *testing.T) {
		values := map[string]string{
			"EMPTY_DATABASE": "  ",
			"DB_HOST":        "h",
			"APP_NAME":       "panel",
		}
		if got := DiscoverProfiles(values); len(got) != 0 {
			t.Errorf("expected no profiles, got %v", got)
		}
	})

	t.Run("the primary DB_DATABASE key is itself discovered", func(t *testing.T) {
		values := map[string]string{
			"DB_DATABASE": "panel",
			"DB_HOST":     "pghost",
		}
		profiles := DiscoverProfiles(values)
		if len(profiles) != 1 || profiles[0].Name != "panel" || profiles[0].Host != "pghost" {
			t.Errorf("expected the primary database to be provisioned too, got %v", profiles)
		}
	})
}

func TestPrimaryProfile(t *testing.T) {
	t.Run("resolves from DB_DATABASE", func(t *testing.T) {
		p := PrimaryProfile(map[string]string{"DB_DATABASE": "panel_prod", "DB_HOST": "pg"})
		if p.Name != "panel_prod" || p.Host != "pg" {
			t.Errorf("unexpected primary profile: %+v", p)
		}
	})

	t.Run("defaults the name when undeclared", func(t *testing.T) {
		p := PrimaryProfile(map[string]string{})
		if p.Name != "panel" || p.Host != "127.0.0.1" || p.Port != "5432" {
			t.Errorf("unexpected default profile: %+v", p)
		}
	})
}

func TestProfileURLs(t *testing.T) {
	p := Profile{Name: "upms", Host: "db", Port: "5432", Username: "admin", Password: "p@ss word"}

	admin := p.AdminURL()
	if !strings.Contains(admin, "/postgres?") {
		t.Errorf("admin URL must target the postgres database: %s", admin)
	}
	if !strings.Contains(admin, "p%40ss+word") && !strings.Contains(admin, "p%40ss%20word") {
		t.Errorf("password must be URL-escaped: %s", admin)
	}

	own := p.URL()
	if !strings.Contains(own, "/upms?") {
		t.Errorf("profile URL must target its own database: %s", own)
	}
}

func TestSafePgIdent(t *testing.T) {
	tests := []struct {
		name  string
		ident string
		ok    bool
	}{
		{"plain name", "upms", true},
		{"with digits and underscore", "panel_2024", true},
		{"rejects quotes", `up"ms`, false},
		{"rejects semicolon", "a;DROP DATABASE b", false},
		{"rejects empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := safePgIdent(tt.ident); ok != tt.ok {
				t.Errorf("safePgIdent(%q) = %v, expected %v", tt.ident, ok, tt.ok)
			}
		})
	}
}

// --- provisioner fakes ---

type fakeRow struct {
	exists bool
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.exists
	return nil
}

type fakeConn struct {
	exists   bool
	queryErr error
	execErr  error
	executed []string
	closed   bool
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{exists: c.exists, err: c.queryErr}
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.executed = append(c.executed, sql)
	if c.execErr != nil {
		return pgconn.CommandTag{}, c.execErr
	}
	return pgconn.NewCommandTag("CREATE DATABASE"), nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func TestProvisionerEnsure(t *testing.T) {
	profile := Profile{Name: "upms", Host: "db", Port: "5432", Username: "postgres"}

	t.Run("existing database triggers no create", func(t *testing.T) {
		conn := &fakeConn{exists: true}
		p := &Provisioner{connect: func(ctx context.Context, url string) (adminConn, error) { return conn, nil }}

		created, err := p.ensure(context.Background(), profile)
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if created {
			t.Error("existing database must not be created again")
		}
		if len(conn.executed) != 0 {
			t.Errorf("expected no statements, got %v", conn.executed)
		}
		if !conn.closed {
			t.Error("admin connection must be closed")
		}
	})

	t.Run("absent database triggers exactly one create", func(t *testing.T) {
		conn := &fakeConn{exists: false}
		p := &Provisioner{connect: func(ctx context.Context, url string) (adminConn, error) { return conn, nil }}

		created, err := p.ensure(context.Background(), profile)
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if !created {
			t.Error("absent database must be created")
		}
		if len(conn.executed) != 1 || conn.executed[0] != "CREATE DATABASE upms" {
			t.Errorf("expected one CREATE DATABASE, got %v", conn.executed)
		}
	})

	t.Run("lost create race is not an error", func(t *testing.T) {
		conn := &fakeConn{exists: false, execErr: errors.New(`database "upms" already exists`)}
		p := &Provisioner{connect: func(ctx context.Context, url string) (adminConn, error) { return conn, nil }}

		created, err := p.ensure(context.Background(), profile)
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if created {
			t.Error("lost race should report the database as pre-existing")
		}
	})

	t.Run("unsafe identifier is rejected before connecting", func(t *testing.T) {
		p := &Provisioner{connect: func(ctx context.Context, url string) (adminConn, error) {
			t.Fatal("must not connect for an unsafe identifier")
			return nil, nil
		}}
		if _, err := p.ensure(context.Background(), Profile{Name: "bad;name"}); err == nil {
			t.Fatal("expected error for unsafe identifier")
		}
	})
}

func TestProvisionAllContinuesOnFailure(t *testing.T) {
	attempts := 0
	p := &Provisioner{connect: func(ctx context.Context, url string) (adminConn, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return &fakeConn{exists: false}, nil
	}}

	profiles := []Profile{
		{Name: "broken", Host: "down", Port: "5432", Username: "postgres"},
		{Name: "healthy", Host: "up", Port: "5432", Username: "postgres"},
	}

	created := p.ProvisionAll(context.Background(), profiles)
	if attempts != 2 {
		t.Errorf("expected both databases attempted, got %d attempts", attempts)
	}
	if created != 1 {
		t.Errorf("expected 1 database created, got %d", created)
	}
}
