package controlapi

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/booker/internal/admission"
	"github.com/rafaeljc/booker/internal/store"
)

// handleCreateBooking processes POST /api/v1/bookings. The admission service
// runs validation, the conflict check and the rule evaluation in one
// transaction; this handler only maps the payload and the outcome.
func (a *API) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	out, err := a.admission.CreateBooking(r.Context(), req.input())
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, admissionResponse(out))
}

// handleUpdateBooking processes PUT /api/v1/bookings/{id}. The payload
// replaces the booking fields and its resource links wholesale.
func (a *API) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	var req BookingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	out, err := a.admission.UpdateBooking(r.Context(), id, req.input())
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, admissionResponse(out))
}

// handlePreviewBooking processes POST /api/v1/bookings/preview. Conflicts and
// hard violations are part of a 200 response; nothing is written.
func (a *API) handlePreviewBooking(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := a.admission.PreviewBooking(r.Context(), req.ExcludeBookingID, req.input())
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	soft, alerts, hard := evaluationLists(p.Evaluation)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, PreviewResponse{
		Conflicts:      toConflicts(p.Conflicts),
		Score:          p.Evaluation.Score,
		SoftMatches:    soft,
		HardViolations: hard,
		Alerts:         alerts,
		Blocked:        len(p.Conflicts) > 0 || p.Evaluation.Blocked(),
	})
}

// handleCancelBooking processes POST /api/v1/bookings/{id}/cancel.
// The body is optional.
func (a *API) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := a.admission.CancelBooking(r.Context(), id, admission.CancelInput{
		Reason: req.Reason,
		Actor:  req.CancelledBy,
	})
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toCancellation(c))
}

// handleRescheduleBooking processes POST /api/v1/bookings/{id}/reschedule.
func (a *API) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	var req RescheduleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	out, err := a.admission.RescheduleBooking(r.Context(), id, admission.RescheduleInput{
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Location:  req.Location,
		Reason:    req.Reason,
		Actor:     req.RescheduledBy,
	})
	if err != nil {
		writeAdmissionError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, admissionResponse(out))
}

// handleListBookings processes GET /api/v1/bookings.
// Filters: from, to (inclusive dates), user_id, resource_id, include_cancelled.
func (a *API) handleListBookings(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	userID, err := parseOptionalID(r, "user_id")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	resourceID, err := parseOptionalID(r, "resource_id")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}
	includeCancelled, err := parseOptionalBool(r, "include_cancelled")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}

	bookings, total, err := a.store.ListBookings(r.Context(), store.BookingFilter{
		From:             optionalString(r, "from"),
		To:               optionalString(r, "to"),
		UserID:           userID,
		ResourceID:       resourceID,
		IncludeCancelled: includeCancelled,
		Limit:            p.limit(),
		Offset:           p.offset(),
	})
	if err != nil {
		writeStoreError(w, r, err, "booking")
		return
	}

	dtos := make([]Booking, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBooking(b)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, p.response(dtos, total))
}

// handleGetBooking processes GET /api/v1/bookings/{id}.
func (a *API) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	b, err := a.store.GetBooking(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "booking")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toBooking(b))
}

// handleListReschedules processes GET /api/v1/bookings/{id}/reschedules.
func (a *API) handleListReschedules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	if _, err := a.store.GetBooking(r.Context(), id); err != nil {
		writeStoreError(w, r, err, "booking")
		return
	}
	history, err := a.store.ListReschedules(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "reschedule")
		return
	}

	dtos := make([]Reschedule, len(history))
	for i, h := range history {
		dtos[i] = toReschedule(h)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"data": dtos})
}

func (req BookingRequest) input() admission.BookingInput {
	resources := make([]admission.Assignment, len(req.Resources))
	for i, a := range req.Resources {
		resources[i] = admission.Assignment{ResourceID: a.ResourceID, Role: a.Role}
	}
	return admission.BookingInput{
		Title:      req.Title,
		UserID:     req.UserID,
		Date:       req.Date,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Location:   req.Location,
		Attributes: req.Attributes,
		Resources:  resources,
	}
}

func admissionResponse(out admission.Outcome) AdmissionResponse {
	soft, alerts, _ := evaluationLists(out.Evaluation)
	return AdmissionResponse{
		Booking:     toBooking(out.Booking),
		Score:       out.Evaluation.Score,
		SoftMatches: soft,
		Alerts:      alerts,
	}
}
