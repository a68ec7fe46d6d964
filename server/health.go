package server

import (
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Step names reported by the bootstrap status endpoint.
const (
	StepConfig      = "config"
	StepDatabases   = "databases"
	StepMigrations  = "migrations"
	StepRestore     = "restore"
	StepCredentials = "credentials"
)

// ReadyState tracks bootstrap progress for health checks and the status report.
type ReadyState struct {
	db  atomic.Pointer[pgxpool.Pool]
	rdb atomic.Pointer[redis.Client]

	configReady      atomic.Bool
	databasesReady   atomic.Bool
	migrationsReady  atomic.Bool
	restoreReady     atomic.Bool
	credentialsReady atomic.Bool

	startedAt time.Time
}

// NewReadyState creates a ReadyState anchored at the process start time.
func NewReadyState(startedAt time.Time) *ReadyState {
	return &ReadyState{startedAt: startedAt}
}

// SetDB publishes the database pool once it is available.
func (r *ReadyState) SetDB(pool *pgxpool.Pool) { r.db.Store(pool) }

// SetRedis publishes the session store client once it is available.
func (r *ReadyState) SetRedis(rdb *redis.Client) { r.rdb.Store(rdb) }

// GetDB returns the database pool, or nil before migrations ran.
func (r *ReadyState) GetDB() *pgxpool.Pool { return r.db.Load() }

// GetRedis returns the session store client, or nil when unconfigured.
func (r *ReadyState) GetRedis() *redis.Client { return r.rdb.Load() }

// MarkConfigReady marks the configuration step as complete.
func (r *ReadyState) MarkConfigReady() { r.configReady.Store(true) }

// MarkDatabasesReady marks the provisioning step as complete.
func (r *ReadyState) MarkDatabasesReady() { r.databasesReady.Store(true) }

// MarkMigrationsReady marks the migration step as complete.
func (r *ReadyState) MarkMigrationsReady() { r.migrationsReady.Store(true) }

// MarkRestoreReady marks the restore step as complete (or skipped).
func (r *ReadyState) MarkRestoreReady() { r.restoreReady.Store(true) }

// MarkCredentialsReady marks the credential reset as complete.
func (r *ReadyState) MarkCredentialsReady() { r.credentialsReady.Store(true) }

// IsFullyReady returns true once every bootstrap step has completed.
func (r *ReadyState) IsFullyReady() bool {
	return r.configReady.Load() &&
		r.databasesReady.Load() &&
		r.migrationsReady.Load() &&
		r.restoreReady.Load() &&
		r.credentialsReady.Load()
}

// Steps returns the per-step completion map for the status report.
func (r *ReadyState) Steps() map[string]bool {
	return map[string]bool{
		StepConfig:      r.configReady.Load(),
		StepDatabases:   r.databasesReady.Load(),
		StepMigrations:  r.migrationsReady.Load(),
		StepRestore:     r.restoreReady.Load(),
		StepCredentials: r.credentialsReady.Load(),
	}
}

// Uptime returns the time elapsed since process start.
func (r *ReadyState) Uptime() time.Duration {
	return time.Since(r.startedAt)
}
