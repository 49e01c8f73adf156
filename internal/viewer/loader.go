// Package viewer is the client-side core: it fetches mesh artifacts,
// decodes them, and owns the viewport render-state machine.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"scad-studio/internal/mesh"
)

// LoadErrorKind separates transport problems from bad artifact bytes.
type LoadErrorKind string

const (
	// LoadErrorKindNetwork means the fetch could not complete or came
	// back with a non-success status.
	LoadErrorKindNetwork LoadErrorKind = "network_failure"
	// LoadErrorKindMalformed means the bytes arrived but do not decode
	// as a mesh.
	LoadErrorKindMalformed LoadErrorKind = "malformed_artifact"
)

// LoadError is a classified load failure.
type LoadError struct {
	Kind   LoadErrorKind `json:"kind"`
	Detail string        `json:"detail"`
	Err    error         `json:"-"`
}

// Error formats the failure for logs and UI.
func (e *LoadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Result is one finished load attempt. Exactly one of Mesh and Err is set.
type Result struct {
	URL  string
	Mesh *mesh.Mesh
	Err  *LoadError
}

// Loader fetches artifact bytes and decodes them, one in-flight load at a
// time. Issuing a new load cancels the previous request outright so a slow
// stale response can neither clobber a newer result nor waste bandwidth:
// delivery is last-requested-wins by generation.
type Loader struct {
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// NewLoader creates a loader. A nil client gets a 30-second default.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{client: client}
}

// Load starts fetching url and invokes deliver with the outcome. Any prior
// in-flight load is cancelled first; a cancelled load delivers nothing.
// Each call produces an independent mesh instance, never a cached one.
func (l *Loader) Load(ctx context.Context, url string, deliver func(Result)) {
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	go func() {
		result := l.fetch(ctx, url)
		if !l.stillCurrent(gen) {
			return
		}
		if result.Err != nil && errors.Is(result.Err.Err, context.Canceled) {
			return
		}
		deliver(result)
	}()
}

// Cancel aborts the in-flight load, if any.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
}

// stillCurrent reports whether gen is the latest issued load.
func (l *Loader) stillCurrent(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.gen
}

// fetch performs the network round trip and decode for one attempt.
func (l *Loader) fetch(ctx context.Context, url string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{URL: url, Err: &LoadError{
			Kind:   LoadErrorKindNetwork,
			Detail: fmt.Sprintf("build request: %v", err),
			Err:    err,
		}}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return Result{URL: url, Err: &LoadError{
			Kind:   LoadErrorKindNetwork,
			Detail: fmt.Sprintf("fetch artifact: %v", err),
			Err:    err,
		}}
	}
	defer resp.Body.Close()

	// Do not try to decode an error body as a mesh.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{URL: url, Err: &LoadError{
			Kind:   LoadErrorKindNetwork,
			Detail: resp.Status,
		}}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{URL: url, Err: &LoadError{
			Kind:   LoadErrorKindNetwork,
			Detail: fmt.Sprintf("read artifact body: %v", err),
			Err:    err,
		}}
	}

	m, err := mesh.Decode(data)
	if err != nil {
		return Result{URL: url, Err: &LoadError{
			Kind:   LoadErrorKindMalformed,
			Detail: err.Error(),
			Err:    err,
		}}
	}

	return Result{URL: url, Mesh: m}
}
