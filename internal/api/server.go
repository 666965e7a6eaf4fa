package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/imgdup/internal/api/handlers"
	"github.com/eargollo/imgdup/internal/config"
	"github.com/eargollo/imgdup/internal/scan"
	"github.com/eargollo/imgdup/internal/scheduler"
	"github.com/eargollo/imgdup/internal/trash"
)

// Deps are the collaborators the HTTP API is served from.
type Deps struct {
	DB      *sql.DB
	Cfg     *config.Config
	Manager *scan.Manager
	Trash   *trash.Manager
	Sched   *scheduler.Scheduler
	// ScanJob is what the scheduler runs when the schedule is changed over
	// the API.
	ScanJob func()
	Version string
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: NewRouter(d), ReadHeaderTimeout: 10 * time.Second},
	}
}

// NewRouter builds the chi router for the API.
func NewRouter(d Deps) http.Handler {
	if d.Cfg == nil {
		d.Cfg = config.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	statusH := &handlers.StatusHandler{Manager: d.Manager, Sched: d.Sched, Version: d.Version}
	scansH := &handlers.ScansHandler{DB: d.DB, Manager: d.Manager}
	groupsH := &handlers.GroupsHandler{Manager: d.Manager}
	recordsH := &handlers.RecordsHandler{
		Manager:   d.Manager,
		ThumbSize: max(d.Cfg.Thumbnail.Width, d.Cfg.Thumbnail.Height),
	}
	statsH := &handlers.StatsHandler{DB: d.DB, Manager: d.Manager}
	configH := &handlers.ConfigHandler{Cfg: d.Cfg, Manager: d.Manager, Sched: d.Sched, ScanJob: d.ScanJob}
	trashH := &handlers.TrashHandler{Trash: d.Trash, Manager: d.Manager, RetentionDays: configH.RetentionDays}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Delete("/scans/current", scansH.Cancel)

		r.Get("/groups", groupsH.List)
		r.Get("/groups/{id}", groupsH.Get)

		r.Get("/records/errors", recordsH.Errors)
		r.Get("/records/info", recordsH.Info)
		r.Get("/thumbnail", recordsH.Thumbnail)
		r.Get("/preview", recordsH.Preview)

		r.Post("/trash", trashH.Move)
		r.Get("/trash", trashH.List)
		r.Post("/trash/{id}/restore", trashH.Restore)
		r.Delete("/trash", trashH.PurgeAll)

		r.Get("/stats", statsH.ServeHTTP)

		r.Get("/config", configH.Get)
		r.Patch("/config", configH.Update)
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
