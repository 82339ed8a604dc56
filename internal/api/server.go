package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lbaroni/picsift/internal/api/handlers"
	"github.com/lbaroni/picsift/internal/config"
	"github.com/lbaroni/picsift/internal/dupes"
	"github.com/lbaroni/picsift/internal/library"
	"github.com/lbaroni/picsift/internal/scan"
	"github.com/lbaroni/picsift/internal/scheduler"
	"github.com/lbaroni/picsift/internal/trash"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(
	addr string,
	cfg *config.Config,
	store *library.Store,
	grouper *dupes.Grouper,
	exec *dupes.Executor,
	mgr *scan.Manager,
	trashMgr *trash.Manager,
	sched *scheduler.Scheduler,
	version string,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Store: store, Manager: mgr, Sched: sched, Version: version}
	syncH := &handlers.SyncHandler{Manager: mgr}
	dupesH := &handlers.DuplicatesHandler{
		Grouper:          grouper,
		Exec:             exec,
		DefaultThreshold: cfg.SimilarityThreshold,
	}
	trashH := &handlers.TrashHandler{Trash: trashMgr}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/sync", syncH.Create)
		r.Delete("/sync/current", syncH.Cancel)

		r.Get("/duplicates/summary", dupesH.Summary)
		r.Get("/duplicates", dupesH.List)
		r.Post("/duplicates/trash", dupesH.Trash)
		r.Post("/duplicates/folder-rule", dupesH.FolderRule)

		r.Get("/trash", trashH.List)
		r.Post("/trash/{id}/restore", trashH.Restore)
		r.Delete("/trash", trashH.PurgeAll)
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
