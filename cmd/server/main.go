package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"overlay-sync/internal/overlay"
	"overlay-sync/internal/platform/config"
	"overlay-sync/internal/platform/logger"
	"overlay-sync/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	library, err := overlay.NewLibrary(cfg.MediaPath, cfg.MaxFileSize, log)
	if err != nil {
		log.Error("media library init failed", "error", err)
		os.Exit(1)
	}

	state := overlay.NewSharedState()
	met := metrics.New()
	registry := overlay.NewConnectionRegistry(log, met)
	svc := overlay.NewService(state, registry, log, met)
	h := overlay.NewHandler(svc, state, registry, library, log, met)

	// Items whose backing file disappeared are pruned before any client
	// sees a checksum.
	if pruned := state.PruneMissing(library.Exists); len(pruned) > 0 {
		log.Info("pruned items with missing files", "count", len(pruned))
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			counts := registry.Counts()
			met.SetConnections(counts["control"], counts["overlay"])
			met.SetMediaItems(state.ItemCount())
		}).ServeHTTP(w, r)
	})
	r.Get("/health", h.Health)
	r.Get("/ws/control", h.ControlSocket)
	r.Get("/ws/overlay", h.OverlaySocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state/version", h.StateVersion)
		r.Get("/media", h.ListMedia)
		r.Get("/media/scan", h.ScanMedia)
		r.Post("/media/upload", h.UploadMedia)
		r.Delete("/media/library/{filename}", h.DeleteFromLibrary)
		r.Delete("/media/{media_id}", h.DeleteMedia)
	})
	r.Handle("/static/media/*", http.StripPrefix("/static/media/", http.FileServer(http.Dir(library.Dir()))))

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"media_path", cfg.MediaPath,
		"log_level", cfg.LogLevel,
		"state_version", state.Version(),
		"state_checksum", state.Checksum(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
