package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"scad-studio/internal/mesh"
)

// State is the viewport lifecycle phase.
type State string

const (
	// StateEmpty shows the rest placeholder, no model loaded.
	StateEmpty State = "empty"
	// StateLoading means a fetch-and-decode is in flight.
	StateLoading State = "loading"
	// StateDisplaying means normalized geometry is on screen.
	StateDisplaying State = "displaying"
	// StateFailed means the last load ended in a classified error.
	StateFailed State = "failed"
)

// ErrNothingToRetry is returned by Retry outside the failed state.
var ErrNothingToRetry = errors.New("no failed load to retry")

// meshLoader is the slice of Loader the session depends on.
type meshLoader interface {
	Load(ctx context.Context, url string, deliver func(Result))
	Cancel()
}

// Snapshot is a point-in-time read of the session for UI consumers.
type Snapshot struct {
	State         State   `json:"state"`
	URL           string  `json:"url,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	TriangleCount int     `json:"triangleCount"`
	Scale         float32 `json:"scale,omitempty"`
}

// Session owns the viewport state machine. Loading a new model replaces
// whatever is on screen: the previous mesh is dropped as soon as the load
// starts, not when it finishes, so the viewport never shows stale geometry
// next to a newer request.
type Session struct {
	loader     meshLoader
	events     *EventBus
	targetSpan float32

	mu      sync.RWMutex
	state   State
	lastURL string
	reason  string
	mesh    *mesh.Mesh
	norm    mesh.Normalization
}

// NewSession creates an empty session. A zero targetSpan uses the mesh
// package default; a nil bus gets a private one.
func NewSession(loader *Loader, targetSpan float32, events *EventBus) *Session {
	return newSession(loader, targetSpan, events)
}

// newSession exists so tests can inject a fake loader.
func newSession(loader meshLoader, targetSpan float32, events *EventBus) *Session {
	if events == nil {
		events = NewEventBus(0)
	}
	return &Session{
		loader:     loader,
		events:     events,
		targetSpan: targetSpan,
		state:      StateEmpty,
	}
}

// isValidTransition encodes the allowed state graph.
func isValidTransition(from, to State) bool {
	switch from {
	case StateEmpty:
		return to == StateLoading
	case StateLoading:
		return to == StateDisplaying || to == StateFailed || to == StateLoading || to == StateEmpty
	case StateDisplaying:
		return to == StateLoading || to == StateEmpty
	case StateFailed:
		return to == StateLoading || to == StateEmpty
	}
	return false
}

// Load starts displaying the artifact at url, cancelling any load already
// in flight.
func (s *Session) Load(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("artifact URL must not be empty")
	}
	return s.startLoad(url)
}

// Retry re-issues the last failed load. It is only meaningful from the
// failed state.
func (s *Session) Retry() error {
	s.mu.RLock()
	state, url := s.state, s.lastURL
	s.mu.RUnlock()

	if state != StateFailed || url == "" {
		return ErrNothingToRetry
	}
	return s.startLoad(url)
}

// Clear cancels any in-flight load and returns to the rest state.
func (s *Session) Clear() {
	s.loader.Cancel()

	s.mu.Lock()
	s.state = StateEmpty
	s.mesh = nil
	s.norm = mesh.Normalization{}
	s.reason = ""
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventTypeState, State: StateEmpty})
}

// startLoad transitions to loading and hands the URL to the loader.
func (s *Session) startLoad(url string) error {
	s.mu.Lock()
	if !isValidTransition(s.state, StateLoading) {
		from := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start load from state %q", from)
	}
	s.state = StateLoading
	s.lastURL = url
	s.mesh = nil
	s.norm = mesh.Normalization{}
	s.reason = ""
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventTypeState, State: StateLoading, URL: url})
	s.loader.Load(context.Background(), url, s.applyResult)
	return nil
}

// applyResult folds one load outcome into the state machine. The loader
// has already filtered out cancelled and superseded attempts, but the URL
// guard keeps an out-of-order delivery from flipping a newer load's state.
func (s *Session) applyResult(res Result) {
	s.mu.Lock()
	if s.state != StateLoading || res.URL != s.lastURL {
		s.mu.Unlock()
		return
	}

	if res.Err != nil {
		s.state = StateFailed
		s.reason = res.Err.Error()
		s.mu.Unlock()

		s.events.Publish(Event{
			Type:    EventTypeError,
			State:   StateFailed,
			URL:     res.URL,
			Message: res.Err.Error(),
		})
		return
	}

	norm := mesh.Normalize(res.Mesh, s.targetSpan)
	fitted := norm.Apply(res.Mesh)

	s.state = StateDisplaying
	s.mesh = fitted
	s.norm = norm
	count := fitted.TriangleCount()
	s.mu.Unlock()

	s.events.Publish(Event{
		Type:          EventTypeMesh,
		State:         StateDisplaying,
		URL:           res.URL,
		TriangleCount: count,
		Scale:         norm.Scale,
	})
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Mesh returns the normalized geometry, or nil outside the displaying
// state.
func (s *Session) Mesh() *mesh.Mesh {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mesh
}

// Snapshot returns a copy of the externally visible session fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:  s.state,
		URL:    s.lastURL,
		Reason: s.reason,
		Scale:  s.norm.Scale,
	}
	if s.mesh != nil {
		snap.TriangleCount = s.mesh.TriangleCount()
	}
	return snap
}

// Events exposes the session's event bus for incremental polling.
func (s *Session) Events() *EventBus {
	return s.events
}
