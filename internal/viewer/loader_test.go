package viewer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scad-studio/internal/mesh"
)

// encodedCube returns binary STL bytes for a small two-triangle mesh.
func encodedCube(t *testing.T) []byte {
	t.Helper()
	return mesh.EncodeBinary(cubeMesh())
}

// awaitResult waits for one delivery or fails the test.
func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for load result")
		return Result{}
	}
}

// TestLoaderFetchesAndDecodes checks the happy path end to end over HTTP.
func TestLoaderFetchesAndDecodes(t *testing.T) {
	payload := encodedCube(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	results := make(chan Result, 1)
	loader := NewLoader(srv.Client())
	loader.Load(context.Background(), srv.URL, func(res Result) { results <- res })

	res := awaitResult(t, results)
	require.Nil(t, res.Err)
	require.NotNil(t, res.Mesh)
	assert.Equal(t, 2, res.Mesh.TriangleCount())
	assert.Equal(t, srv.URL, res.URL)
}

// TestLoaderClassifiesHTTPErrorAsNetwork checks a non-success status is a
// network failure and the error body is never decoded as a mesh.
func TestLoaderClassifiesHTTPErrorAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "artifact not found", http.StatusNotFound)
	}))
	defer srv.Close()

	results := make(chan Result, 1)
	loader := NewLoader(srv.Client())
	loader.Load(context.Background(), srv.URL, func(res Result) { results <- res })

	res := awaitResult(t, results)
	require.NotNil(t, res.Err)
	assert.Equal(t, LoadErrorKindNetwork, res.Err.Kind)
	assert.Contains(t, res.Err.Detail, "404")
	assert.Nil(t, res.Mesh)
}

// TestLoaderClassifiesBadBytesAsMalformed checks decode failures keep
// their own kind.
func TestLoaderClassifiesBadBytesAsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>definitely not a mesh</html>"))
	}))
	defer srv.Close()

	results := make(chan Result, 1)
	loader := NewLoader(srv.Client())
	loader.Load(context.Background(), srv.URL, func(res Result) { results <- res })

	res := awaitResult(t, results)
	require.NotNil(t, res.Err)
	assert.Equal(t, LoadErrorKindMalformed, res.Err.Kind)
	assert.ErrorIs(t, res.Err.Err, mesh.ErrMalformed)
}

// TestLoaderLastRequestedWins checks that when a second load is issued
// while the first is still in flight, only the second result is ever
// delivered, even if the first response arrives late.
func TestLoaderLastRequestedWins(t *testing.T) {
	payload := encodedCube(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		w.Write(payload)
	}))
	defer srv.Close()
	defer close(release)

	results := make(chan Result, 2)
	loader := NewLoader(srv.Client())
	loader.Load(context.Background(), srv.URL+"/slow", func(res Result) { results <- res })
	loader.Load(context.Background(), srv.URL+"/fast", func(res Result) { results <- res })

	res := awaitResult(t, results)
	require.Nil(t, res.Err)
	assert.Equal(t, srv.URL+"/fast", res.URL)

	// The superseded load must stay silent.
	select {
	case res := <-results:
		t.Fatalf("stale load delivered a result for %s", res.URL)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestLoaderCancelSuppressesDelivery checks an explicit cancel drops the
// in-flight result.
func TestLoaderCancelSuppressesDelivery(t *testing.T) {
	payload := encodedCube(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	results := make(chan Result, 1)
	loader := NewLoader(srv.Client())
	loader.Load(context.Background(), srv.URL, func(res Result) { results <- res })
	loader.Cancel()
	close(release)

	select {
	case res := <-results:
		t.Fatalf("cancelled load delivered a result for %s", res.URL)
	case <-time.After(100 * time.Millisecond):
	}
}
