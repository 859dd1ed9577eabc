package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/deckpack/internal/deckservice"
	"github.com/starford/deckpack/internal/sse"
)

// RouterOption configures optional routes.
type RouterOption func(*routerOptions)

type routerOptions struct {
	search Searcher
}

// WithSearch mounts GET /search over the note index.
func WithSearch(s Searcher) RouterOption {
	return func(o *routerOptions) { o.search = s }
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, receives build events and is mounted at GET /events
// inside the auth group.
func NewRouter(svc *deckservice.Service, authEnabled bool, token string, events *sse.Broker, opts ...RouterOption) chi.Router {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	h := NewHandler(svc, events)
	mh := NewMediaHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Stateless build.
	r.Post("/validate", h.Validate)
	r.Post("/build", h.Build)

	// Workspace definitions.
	r.Get("/definitions", h.ListDefinitions)
	r.Get("/definitions/*", h.GetDefinition)
	r.Put("/definitions/*", h.PutDefinition)
	r.Delete("/definitions/*", h.DeleteDefinition)

	// Workspace builds and their packages.
	r.Post("/builds", h.BuildAll)
	r.Post("/builds/*", h.BuildDefinition)
	r.Get("/packages/*", h.DownloadPackage)

	// Live import.
	r.Post("/imports/*", h.ImportDefinition)

	// Media library.
	r.Get("/media", mh.List)
	r.Post("/media", mh.Upload)
	r.Get("/media/{filename}", mh.ServeFile)

	if o.search != nil {
		sh := &SearchHandler{idx: o.search}
		r.Get("/search", sh.Search)
	}

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
