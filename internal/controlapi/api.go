// Package controlapi implements the REST API of the Booker control plane.
package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/booker/internal/admission"
	"github.com/rafaeljc/booker/internal/store"
	"github.com/rafaeljc/booker/internal/validation"
)

// API holds the router and the dependencies of the control plane handlers.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// store serves the admin endpoints that need no admission logic.
	store store.Store

	// admission runs every booking write as one unit of work.
	admission *admission.Service

	// apiKeyHash is the SHA-256 hex digest of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication (tests only).
	skipAuth bool
}

// NewAPI creates an API with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(st store.Store, svc *admission.Service, apiKeyHash string) *API {
	return NewAPIWithConfig(st, svc, apiKeyHash, false)
}

// NewAPIWithConfig creates an API with explicit control over authentication.
// skipAuth is for tests and for development setups without an API key.
//
// Panics if st or svc are nil, or if apiKeyHash is empty while
// authentication is enabled.
func NewAPIWithConfig(st store.Store, svc *admission.Service, apiKeyHash string, skipAuth bool) *API {
	validation.AssertNotNilInterface(st, "controlapi store")
	validation.AssertNotNil(svc, "controlapi admission service")

	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		store:      st,
		admission:  svc,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/resource-types", func(r chi.Router) {
			r.Post("/", a.handleCreateResourceType)
			r.Get("/", a.handleListResourceTypes)
		})

		r.Route("/resources", func(r chi.Router) {
			r.Post("/", a.handleCreateResource)
			r.Get("/", a.handleListResources)
			r.Get("/{id}", a.handleGetResource)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", a.handleCreateRule)
			r.Get("/", a.handleListRules)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetRule)
				r.Patch("/", a.handleUpdateRule)
				r.Delete("/", a.handleDeleteRule)
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", a.handleCreateBooking)
			r.Get("/", a.handleListBookings)
			r.Post("/preview", a.handlePreviewBooking)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetBooking)
				r.Put("/", a.handleUpdateBooking)
				r.Post("/cancel", a.handleCancelBooking)
				r.Post("/reschedule", a.handleRescheduleBooking)
				r.Get("/reschedules", a.handleListReschedules)
			})
		})

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", a.handleCreateRequest)
			r.Get("/", a.handleListRequests)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetRequest)
				r.Post("/approve", a.handleApproveRequest)
				r.Post("/reject", a.handleRejectRequest)
			})
		})
	})
}

// handleHealthCheck reports that the process serves HTTP. Dependency checks
// live on the observability server's readiness check.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
