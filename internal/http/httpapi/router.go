package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"scenebatch/internal/http/handlers"
	"scenebatch/internal/infra"
	"scenebatch/internal/middleware"
)

// NewRouter wires the public HTTP surface. lookup may be nil when no GeoIP
// database is configured.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, lookup middleware.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.I18N(cfg.DefaultLocale, lookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/batches", func(r chi.Router) {
		r.Use(middleware.Identity)
		r.Post("/", app.SubmitBatch)
		r.Get("/{batch_id}", app.GetBatchStatus)
		r.Get("/{batch_id}/events", app.StreamProgress)
		r.Get("/{batch_id}/archive", app.ArchiveBatch)
	})

	// Generated images and thumbnails, served straight from the object store.
	if app.Store != nil {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(app.Store.BasePath())))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
