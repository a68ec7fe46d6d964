package server

import (
	"context"
	"log"
	"net"
	"syscall"

	"github.com/gofiber/fiber/v2"
)

// ListenDualStack binds the server on IPv6 with IPv4 mapping enabled, falling
// back to IPv4-only when the host has no IPv6 stack. Either way the server
// ends up reachable on all interfaces.
func ListenDualStack(app *fiber.App, port string) error {
	addrIPv6 := "[::]:" + port

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if network != "tcp6" {
				return nil
			}
			var sockErr error
			if controlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 0)
			}); controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}

	ln6, err := lc.Listen(context.Background(), "tcp6", addrIPv6)
	if err == nil {
		log.Printf("🌐 [SERVER] listening on %s (dual-stack)", addrIPv6)
		return app.Listener(ln6)
	}

	addrIPv4 := "0.0.0.0:" + port
	log.Printf("🔄 [SERVER] IPv6 bind failed (%v), falling back to %s", err, addrIPv4)

	ln4, err := net.Listen("tcp4", addrIPv4)
	if err != nil {
		log.Printf("💥 [SERVER] both IPv6 and IPv4 binds failed")
		return err
	}

	log.Printf("🌐 [SERVER] listening on %s (IPv4)", addrIPv4)
	return app.Listener(ln4)
}
