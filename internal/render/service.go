// Package render coordinates one compile-and-commit cycle per request.
package render

import (
	"context"
	"errors"
	"strings"

	"scad-studio/internal/artifact"
	"scad-studio/internal/compile"
	"scad-studio/internal/domain"
)

// Request is one user-initiated render: source text plus the requested
// output format. Source is immutable once handed to the service.
type Request struct {
	Source string
	Kind   domain.OutputKind
}

// invoker isolates the compiler behind an interface for testing.
type invoker interface {
	Invoke(ctx context.Context, req compile.Request) (compile.Outcome, error)
}

// artifactAllocator is the slice of the artifact store the service needs.
type artifactAllocator interface {
	Allocate(kind domain.OutputKind) (artifact.Handle, error)
	Commit(h artifact.Handle) (domain.Artifact, error)
	Discard(h artifact.Handle) error
}

// Service validates render requests, drives the compiler invoker exactly
// once per call, and commits successful outputs to the artifact store. It
// holds no mutable state and is safe for concurrent use; path uniqueness
// comes from the store's per-render directories.
type Service struct {
	invoker invoker
	store   artifactAllocator
}

// NewService wires the orchestrator.
func NewService(inv invoker, store artifactAllocator) *Service {
	return &Service{invoker: inv, store: store}
}

// Render turns source text into a committed artifact ref or a classified
// error. Compilation is never retried here: the same source compiles to the
// same outcome, so a retry would only burn another external process.
func (s *Service) Render(ctx context.Context, req Request) (domain.Artifact, error) {
	if strings.TrimSpace(req.Source) == "" {
		return domain.Artifact{}, invalidRequest("source text is empty")
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.OutputKindMesh
	}
	if !kind.Valid() {
		return domain.Artifact{}, invalidRequest("unsupported output format: " + string(kind))
	}

	handle, err := s.store.Allocate(kind)
	if err != nil {
		return domain.Artifact{}, internalError("allocate render workspace", err)
	}

	outcome, err := s.invoker.Invoke(ctx, compile.Request{
		Source:     req.Source,
		Kind:       kind,
		Dir:        handle.Dir,
		InputPath:  handle.InputPath,
		OutputPath: handle.OutputPath,
	})
	if err != nil {
		_ = s.store.Discard(handle)
		if errors.Is(err, context.Canceled) {
			return domain.Artifact{}, err
		}
		return domain.Artifact{}, fromCompile(err)
	}

	handle.OutputPath = outcome.ArtifactPath
	meta, err := s.store.Commit(handle)
	if err != nil {
		_ = s.store.Discard(handle)
		return domain.Artifact{}, internalError("commit artifact", err)
	}

	return meta, nil
}
