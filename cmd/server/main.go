// Command server runs the headless render API: the same pipeline as the
// desktop studio, exposed over HTTP for scripted and remote use.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"scad-studio/internal/artifact"
	"scad-studio/internal/compile"
	"scad-studio/internal/config"
	"scad-studio/internal/diagnostics"
	"scad-studio/internal/library"
	"scad-studio/internal/render"
	"scad-studio/internal/server"
)

const (
	sweepInterval = time.Hour
	artifactTTL   = 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "path to the settings file")
	addr := flag.String("addr", "", "listen address, overrides the configured one")
	flag.Parse()

	path := *configPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("resolve user home: %v", err)
		}
		path = filepath.Join(homeDir, ".scad-studio", "settings.json")
	}

	settings, err := config.NewJSONStore(path).Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	if *addr != "" {
		settings.ListenAddr = *addr
	}

	report := diagnostics.NewChecker().Run(settings)
	for _, item := range report.Items {
		log.Printf("diagnostic %s: %s %s", item.ID, item.Status, item.Message)
	}
	if report.HasFailures {
		log.Print("startup diagnostics reported failures; renders may not succeed")
	}

	artifacts, err := artifact.NewStore(settings.ModelsDir)
	if err != nil {
		log.Fatalf("open artifact store: %v", err)
	}
	defer artifacts.Close()

	libraries, err := library.NewStore(settings.LibrariesDir)
	if err != nil {
		log.Fatalf("open library store: %v", err)
	}

	invoker := compile.NewInvoker(
		settings.CompilerPath,
		time.Duration(settings.RenderTimeoutSeconds)*time.Second,
		libraries,
	)
	srv := server.New(render.NewService(invoker, artifacts), artifacts, libraries)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := libraries.Watch(rootCtx); err != nil {
			log.Printf("library watcher: %v", err)
		}
	}()

	go sweepLoop(rootCtx, artifacts)

	go func() {
		log.Printf("listening on %s", settings.ListenAddr)
		if err := srv.Start(settings.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// sweepLoop evicts expired artifacts on a fixed interval.
func sweepLoop(ctx context.Context, artifacts *artifact.Store) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := artifacts.Sweep(artifactTTL)
			if err != nil {
				log.Printf("sweep artifacts: %v", err)
				continue
			}
			if evicted > 0 {
				log.Printf("swept %d expired artifacts", evicted)
			}
		}
	}
}
