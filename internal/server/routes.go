package server

import (
	"net/http"

	"github.com/ternarybob/stockcheck/internal/handlers"
)

const collectionsPrefix = "/api/collections/"

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Stock checks
	mux.HandleFunc("/api/stock/check", s.app.StockHandler.CheckHandler)   // POST - start a check
	mux.HandleFunc("/api/stock/cancel", s.app.StockHandler.CancelHandler) // POST - cancel the active check
	mux.HandleFunc("/api/stock/current", s.app.StockHandler.CurrentHandler)
	mux.HandleFunc("/api/stock/runs", s.app.StockHandler.ListRunsHandler)
	mux.HandleFunc("/api/stock/runs/", s.app.StockHandler.GetRunHandler) // GET /{id}

	// API routes - Collections
	mux.HandleFunc("/api/sites", s.app.CollectionHandler.SitesHandler)
	mux.HandleFunc("/api/collections", s.handleCollectionsRoute) // GET (list), POST (save)
	mux.HandleFunc("/api/collections/export", s.app.CollectionHandler.ExportHandler)
	mux.HandleFunc("/api/collections/import", s.app.CollectionHandler.ImportHandler)
	mux.HandleFunc(collectionsPrefix, s.handleCollectionRoutes) // /{artist} and subpaths

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.JobsHandler)
	mux.HandleFunc("/api/scheduler/trigger", s.app.SchedulerHandler.TriggerStockCheckHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleCollectionsRoute routes /api/collections requests (list and save)
func (s *Server) handleCollectionsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.CollectionHandler.ListHandler, s.app.CollectionHandler.SaveHandler)
}

// handleCollectionRoutes routes /api/collections/{artist}[/action] requests
func (s *Server) handleCollectionRoutes(w http.ResponseWriter, r *http.Request) {
	h := s.app.CollectionHandler
	segments := handlers.PathSegments(r, collectionsPrefix)

	switch len(segments) {
	case 1:
		artist := segments[0]
		RouteResourceItem(w, r,
			func(w http.ResponseWriter, r *http.Request) { h.GetHandler(w, r, artist) },
			nil,
			func(w http.ResponseWriter, r *http.Request) { h.DeleteHandler(w, r, artist) },
		)
	case 2:
		artist := segments[0]
		action, ok := map[string]func(http.ResponseWriter, *http.Request, string){
			"owned":      h.OwnedHandler,
			"ignored":    h.IgnoredHandler,
			"ignore-all": h.IgnoreAllHandler,
		}[segments[1]]
		if !ok {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		RouteByMethod(w, r, MethodRouter{
			"POST": func(w http.ResponseWriter, r *http.Request) { action(w, r, artist) },
		})
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
