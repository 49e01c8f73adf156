// Package server exposes the render pipeline over HTTP. The same handler
// set backs the headless API binary and the desktop studio's loopback
// artifact endpoint.
package server

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"scad-studio/internal/domain"
	"scad-studio/internal/render"
)

// renderer runs one source-to-artifact cycle.
type renderer interface {
	Render(ctx context.Context, req render.Request) (domain.Artifact, error)
}

// artifactOpener resolves committed refs to their bytes.
type artifactOpener interface {
	Open(ref string) (io.ReadCloser, domain.Artifact, error)
}

// libraryStore accepts uploads and lists what is installed.
type libraryStore interface {
	Save(name string, r io.Reader) error
	List() []string
}

// Server is the HTTP surface over the render, artifact, and library
// components.
type Server struct {
	echo      *echo.Echo
	renderer  renderer
	artifacts artifactOpener
	libraries libraryStore
}

// New wires routes and middleware around the given components.
func New(renderer renderer, artifacts artifactOpener, libraries libraryStore) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:      e,
		renderer:  renderer,
		artifacts: artifacts,
		libraries: libraries,
	}

	api := e.Group("/api")
	api.GET("/hello", s.handleHello)
	api.POST("/render", s.handleRender)
	api.POST("/getstl", s.handleGetModel)
	api.GET("/view3d", s.handleView3D)
	api.POST("/upload-library", s.handleUploadLibrary)
	api.GET("/libraries", s.handleListLibraries)

	return s
}

// Handler exposes the router, used by tests and by the desktop studio's
// in-process listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
