package server

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// fiberResponseWriter adapts a Fiber context to http.ResponseWriter so
// standard net/http handlers (promhttp) can serve under Fiber.
type fiberResponseWriter struct {
	ctx    *fiber.Ctx
	status int
	header http.Header
}

func newFiberResponseWriter(ctx *fiber.Ctx) *fiberResponseWriter {
	return &fiberResponseWriter{ctx: ctx, status: 200, header: make(http.Header)}
}

func (w *fiberResponseWriter) Header() http.Header {
	return w.header
}

func (w *fiberResponseWriter) Write(data []byte) (int, error) {
	for key, values := range w.header {
		for _, value := range values {
			w.ctx.Set(key, value)
		}
	}
	if w.status != 200 {
		w.ctx.Status(w.status)
	}
	return w.ctx.Write(data)
}

func (w *fiberResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
}
