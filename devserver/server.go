// Package devserver exposes a store over HTTP for local development.
// It speaks the same document model as the bindings, backed by the
// in-memory driver, so frontends can develop against it without a
// Firestore project.
package devserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aep/firebind/store"
)

var started = time.Now()

type server struct {
	st store.Store
}

func (s *server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"store":  s.st.ID(),
		"uptime": time.Since(started).String(),
	})
}

func newServer(st store.Store) *server {
	return &server{st: st}
}

func newEcho(s *server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Binder = &Binder{
		defaultBinder: &echo.DefaultBinder{},
	}

	e.Use(middleware.Logger())
	e.Use(TracingMiddleware)
	e.Use(PrometheusMiddleware)

	e.GET("/status", s.handleStatus)
	e.GET("/c/:collection", s.handleList)
	e.POST("/q/:collection", s.handleQuery)
	e.GET("/c/:collection/:id", s.handleGetDocument)
	e.PUT("/c/:collection/:id", s.handlePutDocument)
	e.POST("/c/:collection", s.handleInsertDocument)
	e.DELETE("/c/:collection/:id", s.handleDeleteDocument)
	e.GET("/watch/:collection", s.handleWatch)

	return e
}

func Main(listen string) {
	st := store.NewMemory()
	defer st.Close()

	s := newServer(st)
	e := newEcho(s)

	go s.statsd()

	e.Logger.Fatal(e.Start(listen))
}
