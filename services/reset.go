// Package services holds the post-migration bootstrap tasks.
package services

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"panelboot/config"
	"panelboot/crypto"
	"panelboot/metrics"
)

// Database is the slice of the connection pool the reset needs.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CredentialReset regenerates the application secret key and resets every
// user's password to the configured default. Because every credential changes,
// cached sessions are invalidated as well.
type CredentialReset struct {
	db              Database
	rdb             *redis.Client
	env             *config.Envfile
	secretKeyName   string
	defaultPassword string
}

// NewCredentialReset wires a reset against the given database, session store,
// and env file. rdb may be nil when no session store is configured.
func NewCredentialReset(db Database, rdb *redis.Client, env *config.Envfile, secretKeyName, defaultPassword string) *CredentialReset {
	return &CredentialReset{
		db:              db,
		rdb:             rdb,
		env:             env,
		secretKeyName:   secretKeyName,
		defaultPassword: defaultPassword,
	}
}

// Run performs the full reset and returns the regenerated secret key.
func (s *CredentialReset) Run(ctx context.Context) (string, error) {
	secret, err := s.rotateSecretKey()
	if err != nil {
		return "", err
	}
	log.Printf("✅ [RESET] regenerated application secret key (%s)", s.secretKeyName)

	reset, err := s.resetPasswords(ctx)
	if err != nil {
		return secret, err
	}
	metrics.AddPasswordsReset(reset)
	log.Printf("✅ [RESET] reset %d user password(s) to the default", reset)

	if s.rdb != nil {
		purged, err := s.purgeSessions(ctx)
		if err != nil {
			// Stale sessions expire on their own; not worth failing the boot over.
			log.Printf("⚠️  [RESET] session purge failed: %v", err)
		} else {
			metrics.AddSessionsPurged(purged)
			log.Printf("✅ [RESET] invalidated %d cached session(s)", purged)
		}
	}

	return secret, nil
}

// rotateSecretKey writes a fresh secret into the env file so the application
// and the bootstrap server agree on the signing key.
func (s *CredentialReset) rotateSecretKey() (string, error) {
	secret, err := crypto.GenerateSecretKey()
	if err != nil {
		return "", err
	}
	s.env.Set(s.secretKeyName, secret)
	if err := s.env.Save(); err != nil {
		return "", fmt.Errorf("persist secret key: %w", err)
	}
	return secret, nil
}

// resetPasswords sets every user's password to the known default. One hash is
// computed with a fresh salt and applied to all rows.
func (s *CredentialReset) resetPasswords(ctx context.Context) (int64, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return 0, err
	}
	hash := crypto.HashPassword(s.defaultPassword, salt)

	tag, err := s.db.Exec(ctx, "UPDATE users SET password_hash = $1, salt = $2, updated_at = NOW()", hash, salt)
	if err != nil {
		return 0, fmt.Errorf("reset user passwords: %w", err)
	}
	return tag.RowsAffected(), nil
}

// purgeSessions removes all cached sessions from Redis.
func (s *CredentialReset) purgeSessions(ctx context.Context) (int64, error) {
	var purged int64
	iter := s.rdb.Scan(ctx, 0, "session:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return purged, err
		}
		purged++
	}
	if err := iter.Err(); err != nil {
		return purged, err
	}
	return purged, nil
}
