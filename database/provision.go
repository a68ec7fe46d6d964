package database

import (
	"context"
	"fmt"
	"log"
	"net"
	neturl "net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"panelboot/metrics"
)

// Keys ending in one of these suffixes declare a database to provision.
var nameSuffixes = []string{"_DATABASE", "_DB_NAME"}

// Profile is the resolved connection information for one database to
// provision. Per-database overrides come from {PREFIX}_HOST/_PORT/_USERNAME/
// _PASSWORD siblings of the declaring key; globals fill the gaps.
type Profile struct {
	Name     string
	Host     string
	Port     string
	Username string
	Password string
}

// AdminURL returns the connection URL for the server's administrative
// 'postgres' database, used for existence checks and CREATE DATABASE.
func (p Profile) AdminURL() string {
	return p.serverURL("postgres")
}

// URL returns the connection URL for the profile's own database.
func (p Profile) URL() string {
	return p.serverURL(p.Name)
}

func (p Profile) serverURL(dbName string) string {
	u := &neturl.URL{
		Scheme: "postgres",
		User:   neturl.UserPassword(p.Username, p.Password),
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   "/" + dbName,
	}
	q := neturl.Values{}
	q.Set("sslmode", "prefer")
	u.RawQuery = q.Encode()
	return u.String()
}

// DiscoverProfiles derives the set of databases to provision from an env-file
// mapping. Keys are visited in sorted order so that the "last occurrence wins"
// rule for duplicate database names is deterministic; the first occurrence
// fixes the position in the returned slice.
func DiscoverProfiles(values map[string]string) []Profile {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	index := make(map[string]int)
	var profiles []Profile
	for _, key := range keys {
		suffix, ok := matchSuffix(key)
		if !ok {
			continue
		}
		name := strings.TrimSpace(values[key])
		if name == "" {
			continue
		}
		prefix := strings.TrimSuffix(key, suffix)
		profile := resolveProfile(values, prefix, name)
		if i, seen := index[name]; seen {
			profiles[i] = profile
			continue
		}
		index[name] = len(profiles)
		profiles = append(profiles, profile)
	}
	return profiles
}

// PrimaryProfile resolves the application's own database from the global DB_*
// keys, defaulting the name to "panel" when undeclared.
func PrimaryProfile(values map[string]string) Profile {
	name := strings.TrimSpace(values["DB_DATABASE"])
	if name == "" {
		name = strings.TrimSpace(values["DB_DB_NAME"])
	}
	if name == "" {
		name = "panel"
	}
	return resolveProfile(values, "DB", name)
}

func matchSuffix(key string) (string, bool) {
	for _, s := range nameSuffixes {
		if strings.HasSuffix(key, s) {
			return s, true
		}
	}
	return "", false
}

func resolveProfile(values map[string]string, prefix, name string) Profile {
	return Profile{
		Name:     name,
		Host:     lookup(values, prefix+"_HOST", lookup(values, "DB_HOST", "127.0.0.1")),
		Port:     lookup(values, prefix+"_PORT", lookup(values, "DB_PORT", "5432")),
		Username: lookup(values, prefix+"_USERNAME", lookup(values, "DB_USERNAME", "postgres")),
		Password: lookup(values, prefix+"_PASSWORD", lookup(values, "DB_PASSWORD", "")),
	}
}

// lookup returns the value for key, falling back only when the key is absent.
func lookup(values map[string]string, key, fallback string) string {
	if v, ok := values[key]; ok {
		return v
	}
	return fallback
}

var identRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// safePgIdent validates an identifier for direct interpolation into CREATE DATABASE.
func safePgIdent(name string) (string, bool) {
	if identRe.MatchString(name) {
		return name, true
	}
	return "", false
}

// adminConn is the slice of pgx.Conn the provisioner needs; it exists so tests
// can substitute a fake server.
type adminConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// Provisioner creates missing databases on their target servers.
type Provisioner struct {
	connect func(ctx context.Context, url string) (adminConn, error)
}

// NewProvisioner returns a Provisioner backed by real pgx connections.
func NewProvisioner() *Provisioner {
	return &Provisioner{
		connect: func(ctx context.Context, url string) (adminConn, error) {
			conn, err := pgx.Connect(ctx, url)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

// ProvisionAll ensures every profile's database exists. A failure for one
// database is logged and the loop continues; partial failure never aborts the
// batch. Returns the number of databases actually created.
func (p *Provisioner) ProvisionAll(ctx context.Context, profiles []Profile) int {
	created := 0
	for _, profile := range profiles {
		ok, err := p.ensure(ctx, profile)
		switch {
		case err != nil:
			metrics.RecordProvision("error")
			log.Printf("⚠️  [PROVISION] database '%s' on %s:%s failed: %v", profile.Name, profile.Host, profile.Port, err)
		case ok:
			metrics.RecordProvision("created")
			log.Printf("✅ [PROVISION] created database '%s' on %s:%s", profile.Name, profile.Host, profile.Port)
			created++
		default:
			metrics.RecordProvision("exists")
			log.Printf("✅ [PROVISION] database '%s' already exists on %s:%s", profile.Name, profile.Host, profile.Port)
		}
	}
	return created
}

// ensure reports whether the database was created. The existence check and the
// CREATE DATABASE are separate statements; the race window between them is
// accepted.
func (p *Provisioner) ensure(ctx context.Context, profile Profile) (bool, error) {
	safe, ok := safePgIdent(profile.Name)
	if !ok {
		return false, fmt.Errorf("database name '%s' contains unsupported characters", profile.Name)
	}

	conn, err := p.connect(ctx, profile.AdminURL())
	if err != nil {
		return false, fmt.Errorf("connect to admin database: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", profile.Name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+safe); err != nil {
		// Another bootstrap run may have won the race between check and create.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return false, nil
		}
		return false, fmt.Errorf("create database: %w", err)
	}
	return true, nil
}
