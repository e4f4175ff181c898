package admin

import (
	"net/http"

	"github.com/gorilla/mux"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/metrics"
)

// SetupRoutes registers the admin API on router.
func SetupRoutes(router *mux.Router, h *Handlers, logger logging.Logger) {
	router.Use(LoggingMiddleware(logger))

	// Liveness and metrics
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Datasources
	api.HandleFunc("/datasources", h.ListDataSources).Methods(http.MethodGet)
	api.HandleFunc("/datasources", h.CreateDataSource).Methods(http.MethodPost)
	api.HandleFunc("/datasources/{name}", h.GetDataSource).Methods(http.MethodGet)
	api.HandleFunc("/datasources/{name}", h.DeleteDataSource).Methods(http.MethodDelete)
	api.HandleFunc("/datasources/{name}/health", h.SetHealth).Methods(http.MethodPut)

	// Routing settings
	api.HandleFunc("/routing", h.GetRouting).Methods(http.MethodGet)
	api.HandleFunc("/routing/strategy", h.SetStrategy).Methods(http.MethodPut)
	api.HandleFunc("/routing/default", h.SetDefault).Methods(http.MethodPut)

	// Health and breakers
	api.HandleFunc("/health/check", h.CheckHealth).Methods(http.MethodPost)
	api.HandleFunc("/breakers", h.ListBreakers).Methods(http.MethodGet)
}

// NewRouter builds a router serving h.
func NewRouter(h *Handlers, logger logging.Logger) *mux.Router {
	router := mux.NewRouter()
	SetupRoutes(router, h, logger)
	return router
}
