// Package bootstrap wires configuration, the render pipeline, the artifact
// store, and the viewer session into the desktop studio application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"scad-studio/internal/artifact"
	"scad-studio/internal/compile"
	"scad-studio/internal/config"
	"scad-studio/internal/diagnostics"
	"scad-studio/internal/domain"
	"scad-studio/internal/library"
	"scad-studio/internal/render"
	"scad-studio/internal/server"
	"scad-studio/internal/viewer"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// ErrRenderInProgress guards the single-active-render policy.
var ErrRenderInProgress = errors.New("a render is already in progress")

// ErrNoActiveRender is returned when there is nothing to cancel.
var ErrNoActiveRender = errors.New("no render in progress")

var libraryDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "OpenSCAD libraries",
		Pattern:     "*.scad",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// renderRunner isolates the render orchestrator behind an interface.
type renderRunner interface {
	Render(ctx context.Context, req render.Request) (domain.Artifact, error)
}

// App wires configuration, rendering, artifacts, libraries, and the viewer
// session together and exposes them to the UI runtime.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Artifacts   *artifact.Store
	Libraries   *library.Store
	Session     *viewer.Session
	Diagnostics domain.DiagnosticReport

	assets      fs.FS
	checker     *diagnostics.Checker
	events      *viewer.EventBus
	newRenderer func(domain.Settings) renderRunner

	mu          sync.Mutex
	cancel      context.CancelFunc
	runtimeCtx  context.Context
	artifactLn  net.Listener
	baseURL     string
	watchCancel context.CancelFunc
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".scad-studio", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	artifacts, err := artifact.NewStore(settings.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	libraries, err := library.NewStore(settings.LibrariesDir)
	if err != nil {
		return nil, fmt.Errorf("open library store: %w", err)
	}

	events := viewer.NewEventBus(1000)
	session := viewer.NewSession(viewer.NewLoader(nil), float32(settings.ViewerTargetSpan), events)

	app := &App{
		Settings:    settings,
		Store:       store,
		Artifacts:   artifacts,
		Libraries:   libraries,
		Session:     session,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		events:      events,
	}
	app.newRenderer = func(s domain.Settings) renderRunner {
		invoker := compile.NewInvoker(
			s.CompilerPath,
			time.Duration(s.RenderTimeoutSeconds)*time.Second,
			libraries,
		)
		return render.NewService(invoker, artifacts)
	}

	return app, nil
}

// Run starts the desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "SCAD Studio",
		Width:       1280,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the runtime context, starts the loopback artifact server,
// and begins watching the libraries directory.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	if err := a.startArtifactServer(); err != nil {
		a.publishEvent(viewer.Event{
			Type:    viewer.EventTypeError,
			Message: fmt.Sprintf("start artifact server: %v", err),
		})
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.watchCancel = watchCancel
	a.mu.Unlock()
	go func() {
		if err := a.Libraries.Watch(watchCtx); err != nil {
			a.publishEvent(viewer.Event{
				Type:    viewer.EventTypeError,
				Message: fmt.Sprintf("watch libraries: %v", err),
			})
		}
	}()
}

// Shutdown releases the loopback listener, the watcher, and the registry.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.runtimeCtx = nil
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	if a.artifactLn != nil {
		_ = a.artifactLn.Close()
		a.artifactLn = nil
	}
	_ = a.Artifacts.Close()
}

// startArtifactServer serves artifacts on a loopback port so the embedded
// viewer can fetch them over plain HTTP.
func (a *App) startArtifactServer() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen on loopback: %w", err)
	}

	srv := server.New(appRenderer{app: a}, a.Artifacts, a.Libraries)

	a.mu.Lock()
	a.artifactLn = ln
	a.baseURL = "http://" + ln.Addr().String()
	a.mu.Unlock()

	go func() {
		_ = http.Serve(ln, srv.Handler())
	}()
	return nil
}

// appRenderer adapts the app's per-request renderer construction to the
// HTTP server's renderer interface.
type appRenderer struct {
	app *App
}

// Render runs one render cycle with the currently persisted settings.
func (r appRenderer) Render(ctx context.Context, req render.Request) (domain.Artifact, error) {
	return r.app.renderOnce(ctx, req)
}

// renderOnce loads settings and drives a single compile-and-commit cycle.
func (a *App) renderOnce(ctx context.Context, req render.Request) (domain.Artifact, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return a.newRenderer(settings).Render(ctx, req)
}

// ArtifactBaseURL returns the loopback base URL for artifact delivery.
func (a *App) ArtifactBaseURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseURL
}

// StartRender compiles the given source asynchronously and, on success,
// loads the resulting mesh into the viewer session. Only one render may be
// in flight at a time.
func (a *App) StartRender(source string, format string) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return ErrRenderInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	a.publishEvent(viewer.Event{Type: viewer.EventTypeState, Message: "render started"})

	go a.runRender(ctx, source, domain.OutputKind(format))
	return nil
}

// CancelRender cancels the in-flight render, if any.
func (a *App) CancelRender() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel == nil {
		return ErrNoActiveRender
	}
	cancel()
	return nil
}

// runRender executes one render and maps the outcome to viewer activity.
func (a *App) runRender(ctx context.Context, source string, kind domain.OutputKind) {
	defer a.clearActiveRender()

	meta, err := a.renderOnce(ctx, render.Request{Source: source, Kind: kind})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.publishEvent(viewer.Event{Type: viewer.EventTypeState, Message: "render cancelled"})
			return
		}

		message := err.Error()
		var rErr *render.Error
		if errors.As(err, &rErr) && rErr.Stderr != "" {
			message = rErr.Message + "\n" + rErr.Stderr
		}
		a.publishEvent(viewer.Event{Type: viewer.EventTypeError, Message: message})
		return
	}

	a.publishEvent(viewer.Event{
		Type:    viewer.EventTypeState,
		Message: "render complete: " + meta.Ref,
	})

	if meta.Kind != domain.OutputKindMesh {
		return
	}
	if err := a.Session.Load(a.artifactURL(meta.Ref)); err != nil {
		a.publishEvent(viewer.Event{
			Type:    viewer.EventTypeError,
			Message: fmt.Sprintf("load rendered mesh: %v", err),
		})
	}
}

// artifactURL builds the loopback delivery URL for a committed ref.
func (a *App) artifactURL(ref string) string {
	return a.ArtifactBaseURL() + "/api/view3d?ref=" + ref
}

// clearActiveRender clears the cancellation handle after a render settles.
func (a *App) clearActiveRender() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = nil
}

// RetryView re-issues the last failed mesh load.
func (a *App) RetryView() error {
	return a.Session.Retry()
}

// ClearView returns the viewport to its rest state.
func (a *App) ClearView() {
	a.Session.Clear()
}

// ViewerState returns the current viewport snapshot.
func (a *App) ViewerState() viewer.Snapshot {
	return a.Session.Snapshot()
}

// ViewerEvents returns all events with sequence greater than sinceSeq.
func (a *App) ViewerEvents(sinceSeq int64) []viewer.Event {
	return a.events.Since(sinceSeq)
}

// ViewerGeometry returns the normalized mesh as a flat vertex array, nine
// floats per triangle, ready for the canvas renderer.
func (a *App) ViewerGeometry() []float32 {
	m := a.Session.Mesh()
	if m == nil {
		return nil
	}

	out := make([]float32, 0, len(m.Triangles)*9)
	for _, tri := range m.Triangles {
		for _, v := range tri {
			out = append(out, v.X, v.Y, v.Z)
		}
	}
	return out
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	report := a.Diagnostics
	a.mu.Unlock()

	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes
// diagnostics. Directory changes take effect for new renders; the artifact
// registry keeps using the store it was opened with until restart.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// ListLibraries returns the installed library file names.
func (a *App) ListLibraries() []string {
	return a.Libraries.List()
}

// LibraryCatalog lists downloadable community libraries.
func (a *App) LibraryCatalog() []domain.LibraryOption {
	return a.Libraries.Catalog()
}

// InstallLibrary downloads one catalog library into the store.
func (a *App) InstallLibrary(id string) error {
	return a.Libraries.Install(context.Background(), id)
}

// ImportLibrary opens a native file dialog and copies the chosen library
// file into the store. Returns the stored name, or empty on cancel.
func (a *App) ImportLibrary() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select library file",
		Filters: libraryDialogFilter,
	})
	if err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open library file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	if err := a.Libraries.Save(name, f); err != nil {
		return "", err
	}
	return name, nil
}

// FixDiagnostic attempts an automatic fix for one failed check and returns
// the refreshed report.
func (a *App) FixDiagnostic(id string) (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	switch id {
	case "models_dir":
		if err := os.MkdirAll(settings.ModelsDir, 0o755); err != nil {
			return domain.DiagnosticReport{}, fmt.Errorf("create models directory: %w", err)
		}
	case "libraries_dir":
		if err := os.MkdirAll(settings.LibrariesDir, 0o755); err != nil {
			return domain.DiagnosticReport{}, fmt.Errorf("create libraries directory: %w", err)
		}
	case "compiler":
		return domain.DiagnosticReport{}, errors.New(
			"the compiler cannot be installed automatically; install OpenSCAD and set its path in settings")
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("no automatic fix for diagnostic: %s", id)
	}

	return a.RefreshDiagnostics()
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event viewer.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "viewer:event", published)
	}
}

// runtimeContext returns the runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and applies defaults for zero values.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.CompilerPath = strings.TrimSpace(settings.CompilerPath)
	settings.ModelsDir = strings.TrimSpace(settings.ModelsDir)
	settings.LibrariesDir = strings.TrimSpace(settings.LibrariesDir)
	settings.ListenAddr = strings.TrimSpace(settings.ListenAddr)

	def := config.DefaultSettings()
	if settings.CompilerPath == "" {
		settings.CompilerPath = def.CompilerPath
	}
	if settings.RenderTimeoutSeconds <= 0 {
		settings.RenderTimeoutSeconds = def.RenderTimeoutSeconds
	}
	if settings.ViewerTargetSpan <= 0 {
		settings.ViewerTargetSpan = def.ViewerTargetSpan
	}
	return settings
}
