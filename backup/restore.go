// Package backup restores the panel database from the most recent compressed
// SQL dump left in the backup directory by the nightly export job.
package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/gzip"

	"panelboot/metrics"
)

// ArtifactSuffix is the naming pattern for compressed SQL dumps.
const ArtifactSuffix = ".sql.gz"

// LatestArtifact returns the path of the newest artifact in dir, selected by
// modification time with ties broken by directory listing order. Returns the
// empty string when the directory holds no artifacts.
func LatestArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("cannot read backup directory %s: %w", dir, err)
	}

	var latest string
	var latestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ArtifactSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = entry.Name()
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(dir, latest), nil
}

// Target is the connection used to replay a dump. READ_DB_* values override
// the primary DB_* values so a restore can run against a read replica.
type Target struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// ResolveTarget derives the restore connection from the env-file mapping.
// A loopback host is rewritten to alias: inside the container network the
// database service is reachable under its service name, not loopback.
func ResolveTarget(values map[string]string, alias string) Target {
	t := Target{
		Host:     override(values, "READ_DB_HOST", "DB_HOST", "127.0.0.1"),
		Port:     override(values, "READ_DB_PORT", "DB_PORT", "5432"),
		Username: override(values, "READ_DB_USERNAME", "DB_USERNAME", "postgres"),
		Password: override(values, "READ_DB_PASSWORD", "DB_PASSWORD", ""),
		Database: override(values, "READ_DB_DATABASE", "DB_DATABASE", "panel"),
	}
	t.Host = RewriteLoopback(t.Host, alias)
	return t
}

func override(values map[string]string, readKey, key, fallback string) string {
	if v, ok := values[readKey]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// RewriteLoopback substitutes the in-cluster alias for loopback hosts; any
// other host passes through unchanged.
func RewriteLoopback(host, alias string) string {
	if host == "127.0.0.1" || strings.EqualFold(host, "localhost") {
		return alias
	}
	return host
}

// URL returns the target's connection URL.
func (t Target) URL() string {
	u := &neturl.URL{
		Scheme: "postgres",
		User:   neturl.UserPassword(t.Username, t.Password),
		Host:   net.JoinHostPort(t.Host, t.Port),
		Path:   "/" + t.Database,
	}
	q := neturl.Values{}
	q.Set("sslmode", "prefer")
	u.RawQuery = q.Encode()
	return u.String()
}

// Restorer drops and recreates the public schema of the target database, then
// replays the decompressed dump in one simple-protocol batch.
type Restorer struct {
	exec func(ctx context.Context, url, sql string) error
}

// NewRestorer returns a Restorer backed by real pgx connections.
func NewRestorer() *Restorer {
	return &Restorer{exec: execSimple}
}

// Restore replays the artifact into the target database. The schema drop is
// unconditional and nothing wraps the replay in a transaction: an interrupted
// stream leaves whatever partial state the server produced.
func (r *Restorer) Restore(ctx context.Context, target Target, artifact string) error {
	start := time.Now()

	f, err := os.Open(artifact)
	if err != nil {
		metrics.RecordRestore("failure", 0, 0)
		return fmt.Errorf("cannot open backup artifact %s: %w", artifact, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		metrics.RecordRestore("failure", 0, 0)
		return fmt.Errorf("cannot decompress backup artifact %s: %w", artifact, err)
	}
	defer zr.Close()

	dump, err := io.ReadAll(zr)
	if err != nil {
		metrics.RecordRestore("failure", 0, 0)
		return fmt.Errorf("cannot read backup artifact %s: %w", artifact, err)
	}

	log.Printf("🔄 [RESTORE] dropping and recreating public schema of '%s' on %s:%s", target.Database, target.Host, target.Port)
	if err := r.exec(ctx, target.URL(), "DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;"); err != nil {
		metrics.RecordRestore("failure", 0, 0)
		return fmt.Errorf("reset public schema: %w", err)
	}

	log.Printf("🔄 [RESTORE] replaying %s (%d bytes decompressed)", filepath.Base(artifact), len(dump))
	if err := r.exec(ctx, target.URL(), string(dump)); err != nil {
		metrics.RecordRestore("failure", 0, 0)
		return fmt.Errorf("replay backup: %w", err)
	}

	metrics.RecordRestore("success", time.Since(start), int64(len(dump)))
	log.Printf("✅ [RESTORE] restored '%s' from %s in %v", target.Database, filepath.Base(artifact), time.Since(start))
	return nil
}

// execSimple runs sql over the simple query protocol so a dump containing many
// statements can be replayed in a single batch.
func execSimple(ctx context.Context, url, sql string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if _, err := conn.PgConn().Exec(ctx, sql).ReadAll(); err != nil {
		return err
	}
	return nil
}
