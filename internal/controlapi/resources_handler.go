package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/store"
)

// handleCreateResourceType processes POST /api/v1/resource-types.
func (a *API) handleCreateResourceType(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceTypeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t := store.ResourceType{Name: req.Name, Description: req.Description}
	if err := a.store.CreateResourceType(r.Context(), &t); err != nil {
		writeStoreError(w, r, err, "resource type")
		return
	}

	logger.FromContext(r.Context()).Info("resource type created", slog.Int64("resource_type_id", t.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResourceType(t))
}

// handleListResourceTypes processes GET /api/v1/resource-types. The catalog
// of types is small, so it is not paginated.
func (a *API) handleListResourceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := a.store.ListResourceTypes(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "resource type")
		return
	}

	dtos := make([]ResourceType, len(types))
	for i, t := range types {
		dtos[i] = toResourceType(t)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"data": dtos})
}

// handleCreateResource processes POST /api/v1/resources.
func (a *API) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	res := store.Resource{
		TypeID:   req.ResourceTypeID,
		Name:     req.Name,
		Active:   active,
		Metadata: nonNilMap(req.Metadata),
	}
	if err := a.store.CreateResource(r.Context(), &res); err != nil {
		writeStoreError(w, r, err, "resource")
		return
	}

	// Re-read to return the joined type name.
	created, err := a.store.GetResource(r.Context(), res.ID)
	if err != nil {
		writeStoreError(w, r, err, "resource")
		return
	}

	logger.FromContext(r.Context()).Info("resource created", slog.Int64("resource_id", created.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResource(created))
}

// handleListResources processes GET /api/v1/resources.
// Filters: type_id, active_only.
func (a *API) handleListResources(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	typeID, err := parseOptionalID(r, "type_id")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	activeOnly, err := parseOptionalBool(r, "active_only")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}

	resources, total, err := a.store.ListResources(r.Context(), store.ResourceFilter{
		TypeID:     typeID,
		ActiveOnly: activeOnly,
		Limit:      p.limit(),
		Offset:     p.offset(),
	})
	if err != nil {
		writeStoreError(w, r, err, "resource")
		return
	}

	dtos := make([]Resource, len(resources))
	for i, res := range resources {
		dtos[i] = toResource(res)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, p.response(dtos, total))
}

// handleGetResource processes GET /api/v1/resources/{id}.
func (a *API) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	res, err := a.store.GetResource(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "resource")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResource(res))
}
