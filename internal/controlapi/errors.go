package controlapi

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/booker/internal/admission"
	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/store"
)

// writeAdmissionError renders an error returned by the admission service.
// Every admission error belongs to exactly one class.
func writeAdmissionError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		resp   any
	)

	var (
		verr *admission.ValidationError
		cerr *admission.ConflictError
		rerr *admission.RuleViolationError
	)

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp = ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Validation failed", Details: fieldDetails(verr.Fields)}
	case errors.Is(err, admission.ErrValidation):
		status = http.StatusBadRequest
		resp = ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, admission.ErrNotFound):
		status = http.StatusNotFound
		resp = ErrorResponse{Code: "ERR_NOT_FOUND", Message: err.Error()}
	case errors.As(err, &cerr):
		status = http.StatusConflict
		resp = ErrorResponse{
			Code:      "ERR_BOOKING_CONFLICT",
			Message:   "The booking overlaps an existing booking on a shared resource",
			Conflicts: toConflicts(cerr.Conflicts),
		}
	case errors.As(err, &rerr):
		status = http.StatusUnprocessableEntity
		resp = RuleViolationResponse{
			ErrorResponse: ErrorResponse{
				Code:    "ERR_RULE_VIOLATION",
				Message: "The booking violates one or more hard rules",
			},
			Violations: nonNil(rerr.Violations),
			Alerts:     nonNil(rerr.Alerts),
		}
	case errors.Is(err, admission.ErrAlreadyCancelled):
		status = http.StatusConflict
		resp = ErrorResponse{Code: "ERR_ALREADY_CANCELLED", Message: "The booking is already cancelled"}
	case errors.Is(err, admission.ErrStore):
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Code: "ERR_STORE_UNAVAILABLE", Message: "The booking store is unavailable, retry later"}
	default:
		logger.FromContext(r.Context()).Error("unclassified admission error", "error", err)
		status = http.StatusInternalServerError
		resp = ErrorResponse{Code: "ERR_INTERNAL", Message: "Internal server error"}
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeStoreError renders an error of the admin endpoints, which call the
// store directly. what names the entity for not found messages.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: what + " not found"})
	case errors.Is(err, store.ErrDuplicate):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{Code: "ERR_CONFLICT", Message: "A " + what + " with the same unique fields already exists"})
	case errors.Is(err, store.ErrReference):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_REFERENCE", Message: "The " + what + " references a record that does not exist"})
	default:
		logger.FromContext(r.Context()).Error("store operation failed", "entity", what, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to access " + what + " in database"})
	}
}

// writeBadRequest renders a 400 with a single message.
func writeBadRequest(w http.ResponseWriter, r *http.Request, code, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Code: code, Message: msg})
}

// decodeAndValidate decodes the JSON body into dst and runs the struct tags.
// It writes the error response itself and reports whether the handler may
// continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", "error", err)
		writeBadRequest(w, r, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return false
	}
	if s, ok := dst.(interface{ Sanitize() }); ok {
		s.Sanitize()
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeBadRequest(w, r, "ERR_INVALID_INPUT", err.Error())
			return false
		}
		details := make([]ErrorDetail, len(verrs))
		for i, fe := range verrs {
			details[i] = ErrorDetail{Field: fieldPath(fe), Issue: issue(fe)}
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Validation failed", Details: details})
		return false
	}
	return true
}

// fieldPath strips the struct name from the namespace: "BookingRequest.resources[0].resource_id"
// becomes "resources[0].resource_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func issue(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " element(s) or characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

func fieldDetails(fields map[string]string) []ErrorDetail {
	details := make([]ErrorDetail, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		details = append(details, ErrorDetail{Field: k, Issue: fields[k]})
	}
	return details
}
