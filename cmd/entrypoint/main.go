package main

import (
	"log"
	"os"
	"syscall"
	"time"
)

// A tiny entrypoint that ensures sane env defaults and then execs the
// bootstrap binary. STARTUP_DELAY is an explicit operator knob; database
// readiness itself is verified by the bootstrap's polling probe, not here.
func main() {
	if os.Getenv("PORT") == "" {
		_ = os.Setenv("PORT", "8080")
	}

	if delay := os.Getenv("STARTUP_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			log.Printf("Applying startup delay: %v", d)
			time.Sleep(d)
		}
	}

	target := os.Getenv("PANELBOOT_BINARY")
	if target == "" {
		target = "/app/panelboot"
	}
	if err := syscall.Exec(target, []string{target}, os.Environ()); err != nil {
		log.Fatalf("failed to exec %s: %v", target, err)
	}
}
