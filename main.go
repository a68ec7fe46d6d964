// panelboot - container entrypoint for the admin panel backend.
//
// On startup it validates the runtime environment, materializes the env file
// from its template, installs dependencies and tooling when missing, waits for
// PostgreSQL to accept connections, provisions every database declared in the
// env file, applies schema migrations, optionally restores the newest
// compressed backup, resets credentials, and then serves HTTP until stopped.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"panelboot/backup"
	"panelboot/config"
	"panelboot/database"
	"panelboot/metrics"
	"panelboot/server"
	"panelboot/services"
	"panelboot/tools"
	"panelboot/utils"
)

// appSecret holds the rotated application key for the JWT-guarded status endpoint.
var appSecret atomic.Value // string

func main() {
	utils.InitLogging()
	cfg := config.Load()

	if err := run(context.Background(), cfg); err != nil {
		log.Fatalf("💥 [FATAL] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ready := server.NewReadyState(time.Now())

	// Step 1: the app directory is a hard precondition.
	if info, err := os.Stat(cfg.AppDir); err != nil || !info.IsDir() {
		return fmt.Errorf("app directory %s does not exist", cfg.AppDir)
	}
	log.Printf("✅ [BOOT] app directory %s found", cfg.AppDir)

	// Step 2: materialize the env file from its template when absent.
	if err := materializeConfig(cfg.EnvFile, cfg.EnvTemplate); err != nil {
		return err
	}
	env, err := config.LoadEnvfile(cfg.EnvFile)
	if err != nil {
		return err
	}
	ready.MarkConfigReady()
	log.Printf("✅ [BOOT] loaded configuration from %s", cfg.EnvFile)

	// Steps 3-4: conditional dependency and tooling installation. Failures
	// here are logged, not fatal; the pipeline has no fallback either way.
	runStep("deps", func() {
		err := tools.EnsureDependencies(ctx, tools.DepsOptions{
			AppDir:           cfg.AppDir,
			Marker:           cfg.DepsMarker,
			RuntimeBinary:    cfg.RuntimeBinary,
			LegacyBelow:      cfg.RuntimeLegacyBelow,
			InstallCmd:       cfg.DepsInstallCmd,
			InstallCmdLegacy: cfg.DepsInstallCmdLegacy,
		})
		utils.LogError("dependency install", err)
	})
	runStep("tooling", func() {
		utils.LogError("tool install", tools.EnsureClientTool(ctx, cfg.ClientBinary, cfg.ClientInstallCmd))
	})

	// Step 5: verified readiness instead of a fixed startup sleep.
	primary := database.PrimaryProfile(env.Values())
	if err := database.WaitForDatabase(ctx, primary.Host, primary.Port, cfg.WaitTimeout); err != nil {
		return err
	}

	// Step 6: provision every database declared in the env file.
	runStep("provision", func() {
		profiles := database.DiscoverProfiles(env.Values())
		log.Printf("🔍 [PROVISION] discovered %d database(s) to provision", len(profiles))
		database.NewProvisioner().ProvisionAll(ctx, profiles)
	})
	ready.MarkDatabasesReady()

	// Step 7: connect to the primary database and apply migrations.
	dbPool, err := database.SetupDatabase(ctx, primary.URL())
	if err != nil {
		return err
	}
	defer dbPool.Close()
	ready.SetDB(dbPool)
	ready.MarkMigrationsReady()

	// Session store; optional, checked but never fatal.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  [BOOT] redis at %s unreachable: %v (continuing without session store)", cfg.RedisURL, err)
		rdb = nil
	} else {
		ready.SetRedis(rdb)
	}

	// Step 8: restore from the newest backup artifact when the directory exists.
	runStep("restore", func() {
		restoreLatestBackup(ctx, cfg, env)
	})
	ready.MarkRestoreReady()

	// Step 9: rotate the secret key, reset passwords, invalidate sessions.
	runStep("credentials", func() {
		reset := services.NewCredentialReset(dbPool, rdb, env, cfg.SecretKeyName, cfg.ResetUserPassword)
		secret, err := reset.Run(ctx)
		if err != nil {
			utils.LogError("credential reset", err)
			return
		}
		appSecret.Store(secret)
	})
	ready.MarkCredentialsReady()

	// Step 10: serve until stopped.
	app := server.New(ready, func() []byte {
		if s, ok := appSecret.Load().(string); ok {
			return []byte(s)
		}
		return nil
	})
	log.Printf("🚀 [BOOT] bootstrap complete in %v, starting HTTP server on port %s", ready.Uptime(), cfg.Port)
	return server.ListenDualStack(app, cfg.Port)
}

// materializeConfig copies the template to the env file when the env file is
// absent. Both missing is a fatal precondition.
func materializeConfig(envFile, template string) error {
	if _, err := os.Stat(envFile); err == nil {
		return nil
	}
	src, err := os.Open(template)
	if err != nil {
		return fmt.Errorf("configuration file %s is missing and template %s cannot be read: %w", envFile, template, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(envFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("cannot create configuration file %s: %w", envFile, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("cannot materialize configuration file %s: %w", envFile, err)
	}
	log.Printf("✅ [BOOT] materialized %s from %s", envFile, template)
	return nil
}

// restoreLatestBackup replays the newest artifact; every failure is a log
// line, never an exit code.
func restoreLatestBackup(ctx context.Context, cfg *config.Config, env *config.Envfile) {
	if info, err := os.Stat(cfg.BackupDir); err != nil || !info.IsDir() {
		log.Printf("ℹ️  [RESTORE] backup directory %s not present, skipping restore", cfg.BackupDir)
		return
	}

	artifact, err := backup.LatestArtifact(cfg.BackupDir)
	if err != nil {
		utils.LogError("backup scan", err)
		return
	}
	if artifact == "" {
		log.Printf("⚠️  [RESTORE] no %s artifacts in %s, skipping restore", backup.ArtifactSuffix, cfg.BackupDir)
		return
	}

	target := backup.ResolveTarget(env.Values(), cfg.RestoreAlias)
	if err := backup.NewRestorer().Restore(ctx, target, artifact); err != nil {
		utils.LogError("backup restore", err)
	}
}

// runStep times a bootstrap step for the metrics endpoint.
func runStep(name string, fn func()) {
	start := time.Now()
	fn()
	metrics.ObserveStep(name, time.Since(start))
}
