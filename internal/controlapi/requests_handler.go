package controlapi

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/booker/internal/admission"
	"github.com/rafaeljc/booker/internal/store"
)

// handleCreateRequest processes POST /api/v1/requests. The request stays
// pending until an admin approves it; no conflict check happens yet.
func (a *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	created, err := a.admission.CreateRequest(r.Context(), admission.RequestInput{
		ResourceID:  req.ResourceID,
		RequesterID: req.RequesterID,
		Title:       req.Title,
		Date:        req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Note:        req.Note,
		Attributes:  req.Attributes,
	})
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toResourceRequest(created))
}

// handleListRequests processes GET /api/v1/requests.
// Filters: status, requester_id.
func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	requesterID, err := parseOptionalID(r, "requester_id")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	status := optionalString(r, "status")
	switch status.String {
	case "", store.RequestPending, store.RequestApproved, store.RequestRejected:
	default:
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", "parameter 'status' must be one of pending, approved, rejected")
		return
	}

	requests, total, err := a.store.ListRequests(r.Context(), store.RequestFilter{
		Status:      status,
		RequesterID: requesterID,
		Limit:       p.limit(),
		Offset:      p.offset(),
	})
	if err != nil {
		writeStoreError(w, r, err, "request")
		return
	}

	dtos := make([]ResourceRequest, len(requests))
	for i, req := range requests {
		dtos[i] = toResourceRequest(req)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, p.response(dtos, total))
}

// handleGetRequest processes GET /api/v1/requests/{id}.
func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	req, err := a.store.GetRequest(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "request")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResourceRequest(req))
}

// handleApproveRequest processes POST /api/v1/requests/{id}/approve.
// A fresh approval answers 201 with the new booking; repeating it answers 200
// with the booking created the first time.
func (a *API) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	out, err := a.admission.ApproveRequest(r.Context(), id)
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	soft, alerts, _ := evaluationLists(out.Evaluation)
	status := http.StatusCreated
	if out.AlreadyApproved {
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, ApprovalResponse{
		Request:         toResourceRequest(out.Request),
		Booking:         toBooking(out.Booking),
		AlreadyApproved: out.AlreadyApproved,
		Score:           out.Evaluation.Score,
		SoftMatches:     soft,
		Alerts:          alerts,
	})
}

// handleRejectRequest processes POST /api/v1/requests/{id}/reject.
func (a *API) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	req, err := a.admission.RejectRequest(r.Context(), id)
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResourceRequest(req))
}
