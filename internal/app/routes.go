package app

import (
	"github.com/gorilla/mux"

	"admission-gateway/internal/handlers"
	"admission-gateway/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the gateway.
//
// There are exactly two surfaces: the health check and the catch-all
// admission route. Everything else a client sends is gateway traffic and
// goes through the pipeline.
func SetupRoutes(router *mux.Router, gateway *handlers.Gateway, health *handlers.Health) {
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health", health.Handle).Methods("GET")

	// Any path, any method: the pipeline decides, the dispatcher forwards.
	router.PathPrefix("/").HandlerFunc(gateway.Handle)
}
