package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/h2non/filetype"
	"github.com/labstack/echo/v4"

	"scad-studio/internal/artifact"
	"scad-studio/internal/domain"
	"scad-studio/internal/render"
)

// meshContentType is served for STL artifacts; browsers have no registered
// type for them.
const meshContentType = "model/stl"

// renderRequest is the JSON body for render endpoints.
type renderRequest struct {
	Source string `json:"source"`
	Format string `json:"format"`
}

// renderResponse points the client at the committed artifact.
type renderResponse struct {
	ArtifactRef string            `json:"artifactRef"`
	ViewPath    string            `json:"viewPath"`
	Kind        domain.OutputKind `json:"kind"`
	Size        int64             `json:"size"`
}

// errorResponse is the uniform error body. Details carries compiler stderr
// verbatim when there is any.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// handleHello is a liveness probe.
func (s *Server) handleHello(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "render service is running",
	})
}

// handleRender compiles source text and returns the artifact ref plus the
// path to view it.
func (s *Server) handleRender(c echo.Context) error {
	meta, err := s.renderFromBody(c)
	if err != nil {
		return s.renderError(c, err)
	}

	return c.JSON(http.StatusOK, renderResponse{
		ArtifactRef: meta.Ref,
		ViewPath:    "/api/view3d?ref=" + meta.Ref,
		Kind:        meta.Kind,
		Size:        meta.Size,
	})
}

// handleGetModel compiles source text and streams the artifact back as a
// download in one round trip.
func (s *Server) handleGetModel(c echo.Context) error {
	meta, err := s.renderFromBody(c)
	if err != nil {
		return s.renderError(c, err)
	}

	f, meta, err := s.artifacts.Open(meta.Ref)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   string(render.KindInternal),
			Message: fmt.Sprintf("open rendered artifact: %v", err),
		})
	}
	defer f.Close()

	name := "model" + meta.Kind.Extension()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Stream(http.StatusOK, contentTypeFor(meta.Kind, nil), f)
}

// handleView3D streams a committed artifact inline for the viewer. A ref
// that never produced an artifact is a plain 404 with an error body; no
// artifact bytes are ever served for it.
func (s *Server) handleView3D(c echo.Context) error {
	ref := c.QueryParam("ref")
	if ref == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   string(render.KindInvalidRequest),
			Message: "missing ref query parameter",
		})
	}

	f, meta, err := s.artifacts.Open(ref)
	if errors.Is(err, artifact.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{
			Error:   "not_found",
			Message: "no artifact for ref " + ref,
		})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   string(render.KindInternal),
			Message: fmt.Sprintf("open artifact: %v", err),
		})
	}
	defer f.Close()

	// Sniff image artifacts so the browser displays rather than downloads.
	var head []byte
	if meta.Kind == domain.OutputKindImage {
		head = make([]byte, 261)
		n, _ := io.ReadFull(f, head)
		head = head[:n]
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, "inline")
	return c.Stream(http.StatusOK, contentTypeFor(meta.Kind, head), io.MultiReader(bytes.NewReader(head), f))
}

// handleUploadLibrary stores one multipart library file.
func (s *Server) handleUploadLibrary(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   string(render.KindInvalidRequest),
			Message: "missing file field in multipart form",
		})
	}

	src, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   string(render.KindInternal),
			Message: fmt.Sprintf("open uploaded file: %v", err),
		})
	}
	defer src.Close()

	if err := s.libraries.Save(fh.Filename, src); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   string(render.KindInvalidRequest),
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   "library uploaded: " + fh.Filename,
		"libraries": s.libraries.List(),
	})
}

// handleListLibraries returns the installed library names.
func (s *Server) handleListLibraries(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"libraries": s.libraries.List(),
	})
}

// renderFromBody binds the request body and runs one render cycle.
func (s *Server) renderFromBody(c echo.Context) (domain.Artifact, error) {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return domain.Artifact{}, &render.Error{
			Kind:    render.KindInvalidRequest,
			Message: "malformed request body",
			Err:     err,
		}
	}

	return s.renderer.Render(c.Request().Context(), render.Request{
		Source: req.Source,
		Kind:   domain.OutputKind(req.Format),
	})
}

// renderError maps classified render failures to status codes and a
// uniform body.
func (s *Server) renderError(c echo.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		// Client went away; nothing useful to send.
		return c.NoContent(http.StatusInternalServerError)
	}

	var rErr *render.Error
	if !errors.As(err, &rErr) {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   string(render.KindInternal),
			Message: err.Error(),
		})
	}

	status := http.StatusInternalServerError
	switch rErr.Kind {
	case render.KindInvalidRequest:
		status = http.StatusBadRequest
	case render.KindCompilationFailed:
		status = http.StatusUnprocessableEntity
	case render.KindCompilationTimedOut:
		status = http.StatusGatewayTimeout
	}

	return c.JSON(status, errorResponse{
		Error:   string(rErr.Kind),
		Message: rErr.Message,
		Details: rErr.Stderr,
	})
}

// contentTypeFor picks the response content type, sniffing image bytes
// when available.
func contentTypeFor(kind domain.OutputKind, head []byte) string {
	if kind == domain.OutputKindImage {
		if t, err := filetype.Match(head); err == nil && t.MIME.Value != "" {
			return t.MIME.Value
		}
		return "image/png"
	}
	return meshContentType
}
