package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/server/services"
)

type AppAPIServerConfig struct {
	HTTPServerConfig
}

type AppAPIServer struct {
	APIServer
}

func NewAppAPIServer(coreAPI *AppAPIRouter, config AppAPIServerConfig, httpServerFactory HTTPServerFactory, logFactory logger.LogFactory) (*AppAPIServer, error) {
	httpServer, err := httpServerFactory(coreAPI, config.HTTPServerConfig, logFactory("AppAPIServer"))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP server: %w", err)
	}
	return &AppAPIServer{
		APIServer: httpServer,
	}, nil
}

type AppAPIRouter struct {
	chi.Router
}

func NewAppAPIRouter(
	status *StatusAPI,
	node *NodeAPI,
	build *BuildAPI,
	repo *RepoAPI,
	notificationService services.NotificationService,
	logFactory logger.LogFactory) *AppAPIRouter {

	logger := logFactory("AppAPIRouter")

	middleware.DefaultLogger = middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true})
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Compress(6))

	r.Route("/api", func(r chi.Router) {

		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:4200", "http://127.0.0.1:4200"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link", "Id", "Location"},
			AllowCredentials: true,
			MaxAge:           300, // Maximum value not ignored by any of major browsers
		}))

		// Websocket connections stay open, the request timeout only covers
		// the plain REST routes.
		r.Method(http.MethodGet, "/websocket", notificationService.WebsocketHandler())

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/status", func(r chi.Router) {
				r.Get("/", status.Get)
				r.Post("/maintenance", status.SetMaintenance)
			})
			r.Get("/nodes", node.List)
			r.Get("/node/{machineID}", node.Get)
			r.Route("/build", func(r chi.Router) {
				r.Post("/", build.Trigger)
				r.Route("/{build_id}", func(r chi.Router) {
					r.Get("/", build.Get)
					r.Post("/rebuild", build.Rebuild)
				})
			})
			r.Route("/repository/{repo_id}", func(r chi.Router) {
				r.Get("/", repo.Get)
				r.Put("/", repo.ChangeURL)
			})
		})
	})

	return &AppAPIRouter{Router: r}
}
