// Package tools handles the conditional installation steps: application
// dependencies (skipped when the marker directory already exists) and
// auxiliary client binaries (skipped when already on PATH). All real work is
// delegated to external commands; this package only decides whether to run
// them and which variant to run.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)`)

// DetectRuntimeVersion runs "<bin> --version" and extracts the first
// major.minor pair from its output. Returns the major version and the raw
// matched string.
func DetectRuntimeVersion(ctx context.Context, bin string) (int, string, error) {
	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		return 0, "", fmt.Errorf("detect %s version: %w", bin, err)
	}
	m := versionRe.FindSubmatch(bytes.TrimSpace(out))
	if m == nil {
		return 0, "", fmt.Errorf("no version string in %s --version output", bin)
	}
	major, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, "", fmt.Errorf("parse %s major version: %w", bin, err)
	}
	return major, string(m[0]), nil
}

// DepsOptions controls EnsureDependencies.
type DepsOptions struct {
	AppDir           string
	Marker           string // directory relative to AppDir whose presence skips the install
	RuntimeBinary    string // external runtime whose version selects the command; empty disables detection
	LegacyBelow      int    // majors below this use InstallCmdLegacy
	InstallCmd       string
	InstallCmdLegacy string
}

// EnsureDependencies installs application dependencies when the marker
// directory is absent. The install command is chosen by the detected runtime
// major version, mirroring how older runtimes need a different invocation.
func EnsureDependencies(ctx context.Context, opts DepsOptions) error {
	if opts.InstallCmd == "" {
		return nil
	}
	marker := filepath.Join(opts.AppDir, opts.Marker)
	if _, err := os.Stat(marker); err == nil {
		log.Printf("✅ [DEPS] %s present, skipping dependency install", marker)
		return nil
	}

	cmd := opts.InstallCmd
	if opts.RuntimeBinary != "" && opts.InstallCmdLegacy != "" {
		major, raw, err := DetectRuntimeVersion(ctx, opts.RuntimeBinary)
		if err != nil {
			log.Printf("⚠️  [DEPS] %v; using default install command", err)
		} else if major < opts.LegacyBelow {
			log.Printf("🔍 [DEPS] detected %s %s, using legacy install command", opts.RuntimeBinary, raw)
			cmd = opts.InstallCmdLegacy
		} else {
			log.Printf("🔍 [DEPS] detected %s %s", opts.RuntimeBinary, raw)
		}
	}

	log.Printf("📦 [DEPS] installing dependencies: %s", cmd)
	return runShell(ctx, opts.AppDir, cmd)
}

// EnsureClientTool installs bin via installCmd when it is not already on PATH.
// A failed install is surfaced to the caller; there is no fallback.
func EnsureClientTool(ctx context.Context, bin, installCmd string) error {
	if bin == "" {
		return nil
	}
	if path, err := exec.LookPath(bin); err == nil {
		log.Printf("✅ [TOOLS] %s already installed (%s)", bin, path)
		return nil
	}
	if installCmd == "" {
		log.Printf("⚠️  [TOOLS] %s not found and no install command configured", bin)
		return nil
	}
	log.Printf("📦 [TOOLS] installing %s: %s", bin, installCmd)
	return runShell(ctx, "", installCmd)
}

// runShell executes command through the shell with output passed through.
func runShell(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", strings.TrimSpace(command), err)
	}
	return nil
}
