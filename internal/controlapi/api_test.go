package controlapi_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/booker/internal/admission"
	"github.com/rafaeljc/booker/internal/controlapi"
	"github.com/rafaeljc/booker/internal/store"
	"github.com/rafaeljc/booker/internal/store/storetest"
)

type harness struct {
	t   *testing.T
	api *controlapi.API
	mem *storetest.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := storetest.NewMemory()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := admission.NewService(mem, nil, discard)
	return &harness{t: t, api: controlapi.NewAPIWithConfig(mem, svc, "", true), mem: mem}
}

// do sends a JSON request and returns the recorder.
func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.api.Router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// room creates a resource type (once) and an active resource.
func (h *harness) room(name string) int64 {
	h.t.Helper()
	ctx := context.Background()
	types, err := h.mem.ListResourceTypes(ctx)
	require.NoError(h.t, err)
	var typeID int64
	if len(types) > 0 {
		typeID = types[0].ID
	} else {
		rt := store.ResourceType{Name: "room"}
		require.NoError(h.t, h.mem.CreateResourceType(ctx, &rt))
		typeID = rt.ID
	}
	res := store.Resource{TypeID: typeID, Name: name, Active: true, Metadata: map[string]any{"capacity": 30}}
	require.NoError(h.t, h.mem.CreateResource(ctx, &res))
	return res.ID
}

func bookingBody(date, start, end string, resources ...int64) map[string]any {
	links := make([]map[string]any, len(resources))
	for i, id := range resources {
		links[i] = map[string]any{"resource_id": id}
	}
	return map[string]any{
		"title":      "Algebra",
		"user_id":    42,
		"date":       date,
		"start_time": start,
		"end_time":   end,
		"resources":  links,
	}
}

func TestNewAPIWithConfig_Panics(t *testing.T) {
	mem := storetest.NewMemory()
	svc := admission.NewService(mem, nil, nil)

	assert.Panics(t, func() { controlapi.NewAPIWithConfig(nil, svc, "", true) })
	assert.Panics(t, func() { controlapi.NewAPIWithConfig(mem, nil, "", true) })
	assert.Panics(t, func() { controlapi.NewAPI(mem, svc, "") })
	assert.NotPanics(t, func() { controlapi.NewAPIWithConfig(mem, svc, "", true) })
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAuthentication(t *testing.T) {
	mem := storetest.NewMemory()
	svc := admission.NewService(mem, nil, nil)
	sum := sha256.Sum256([]byte("s3cret-key"))
	api := controlapi.NewAPI(mem, svc, hex.EncodeToString(sum[:]))

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "missing key", key: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", key: "guess", wantStatus: http.StatusUnauthorized},
		{name: "valid key", key: "s3cret-key", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rr := httptest.NewRecorder()

			api.Router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "ERR_UNAUTHORIZED", decode[controlapi.ErrorResponse](t, rr).Code)
			}
		})
	}

	t.Run("health stays public", func(t *testing.T) {
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestResourceEndpoints(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/api/v1/resource-types", map[string]any{"name": "  room  "})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rt := decode[controlapi.ResourceType](t, rr)
	assert.Equal(t, "room", rt.Name)

	t.Run("duplicate type name conflicts", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/resource-types", map[string]any{"name": "room"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("type name is required", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/resource-types", map[string]any{"description": "x"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decode[controlapi.ErrorResponse](t, rr)
		require.Len(t, resp.Details, 1)
		assert.Equal(t, "name", resp.Details[0].Field)
	})

	var resourceID int64
	t.Run("create resource defaults to active", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/resources", map[string]any{
			"resource_type_id": rt.ID,
			"name":             "A-101",
			"metadata":         map[string]any{"capacity": 40},
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		res := decode[controlapi.Resource](t, rr)
		assert.True(t, res.Active)
		assert.Equal(t, "room", res.ResourceType)
		assert.EqualValues(t, 40, res.Metadata["capacity"])
		resourceID = res.ID
	})

	t.Run("unknown resource type is a bad reference", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/resources", map[string]any{"resource_type_id": 999, "name": "X"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "ERR_INVALID_REFERENCE", decode[controlapi.ErrorResponse](t, rr).Code)
	})

	t.Run("get and list", func(t *testing.T) {
		rr := h.do(http.MethodGet, fmt.Sprintf("/api/v1/resources/%d", resourceID), nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "A-101", decode[controlapi.Resource](t, rr).Name)

		rr = h.do(http.MethodGet, "/api/v1/resources?page_size=1", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		page := decode[controlapi.PaginatedResponse](t, rr)
		assert.EqualValues(t, 1, page.Pagination.TotalItems)
		assert.Equal(t, 1, page.Pagination.PageSize)
	})

	t.Run("path and query errors", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/resources/abc", nil).Code)
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/resources/999", nil).Code)
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/resources?page=banana", nil).Code)
	})
}

func TestRuleEndpoints(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/api/v1/rules", map[string]any{
		"name":        "prefer big rooms",
		"target_type": "pair",
		"weight":      5,
		"condition":   map[string]any{"field": "resource.metadata.capacity", "op": ">=", "value": map[string]any{"ref": "request.students"}},
		"action":      map[string]any{"effect": "score"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[controlapi.Rule](t, rr)
	assert.True(t, created.IsActive)
	assert.Equal(t, 5.0, created.Weight.Float64)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode string
	}{
		{
			name:     "unknown target type",
			body:     map[string]any{"name": "x", "target_type": "room"},
			wantCode: "ERR_INVALID_INPUT",
		},
		{
			name:     "unknown operator",
			body:     map[string]any{"name": "x", "target_type": "booking", "condition": map[string]any{"field": "booking.date", "op": "like", "value": "x"}},
			wantCode: "ERR_INVALID_RULE",
		},
		{
			name:     "unknown effect",
			body:     map[string]any{"name": "x", "target_type": "booking", "action": map[string]any{"effect": "explode"}},
			wantCode: "ERR_INVALID_RULE",
		},
		{
			name:     "non finite delta",
			body:     map[string]any{"name": "x", "target_type": "booking", "action": map[string]any{"delta": "ten"}},
			wantCode: "ERR_INVALID_RULE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/api/v1/rules", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantCode, decode[controlapi.ErrorResponse](t, rr).Code)
		})
	}

	path := fmt.Sprintf("/api/v1/rules/%d", created.ID)

	t.Run("patch keeps absent fields and clears null ones", func(t *testing.T) {
		rr := h.do(http.MethodPatch, path, `{"is_active": false, "weight": null}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		got := decode[controlapi.Rule](t, rr)
		assert.False(t, got.IsActive)
		assert.False(t, got.Weight.Valid)
		assert.Equal(t, "prefer big rooms", got.Name)
		assert.Equal(t, "pair", got.TargetType)
	})

	t.Run("patch is validated like create", func(t *testing.T) {
		rr := h.do(http.MethodPatch, path, `{"action": {"effect": "explode"}}`)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "ERR_INVALID_RULE", decode[controlapi.ErrorResponse](t, rr).Code)
	})

	t.Run("list in evaluation order", func(t *testing.T) {
		rr := h.do(http.MethodGet, "/api/v1/rules?active_only=true", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, path, nil).Code)
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, path, nil).Code)
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, path, nil).Code)
	})
}

func TestUpdateRule_Transactional(t *testing.T) {
	newRule := func(h *harness) string {
		rr := h.do(http.MethodPost, "/api/v1/rules", map[string]any{
			"name":        "original",
			"target_type": "booking",
			"weight":      1,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		return fmt.Sprintf("/api/v1/rules/%d", decode[controlapi.Rule](t, rr).ID)
	}

	t.Run("concurrent patches of different fields both stick", func(t *testing.T) {
		h := newHarness(t)
		path := newRule(h)
		before := h.mem.Transactions()

		var wg sync.WaitGroup
		for _, body := range []string{`{"name": "renamed"}`, `{"description": "described"}`, `{"sort_order": 7}`} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rr := h.do(http.MethodPatch, path, body)
				assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			}()
		}
		wg.Wait()

		assert.Equal(t, before+3, h.mem.Transactions())
		got := decode[controlapi.Rule](t, h.do(http.MethodGet, path, nil))
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, "described", got.Description)
		assert.Equal(t, 7, got.SortOrder)
	})

	t.Run("failed write leaves the rule unchanged", func(t *testing.T) {
		h := newHarness(t)
		path := newRule(h)
		h.mem.FailOn("UpdateRule", errors.New("disk full"))

		rr := h.do(http.MethodPatch, path, `{"name": "renamed"}`)
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "ERR_INTERNAL", decode[controlapi.ErrorResponse](t, rr).Code)
		assert.Equal(t, "original", decode[controlapi.Rule](t, h.do(http.MethodGet, path, nil)).Name)
	})

	t.Run("missing rule is 404", func(t *testing.T) {
		h := newHarness(t)
		rr := h.do(http.MethodPatch, "/api/v1/rules/999", `{"name": "renamed"}`)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestCreateBooking_Responses(t *testing.T) {
	h := newHarness(t)
	room := h.room("A-101")

	rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "09:00", "10:00", room))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	resp := decode[controlapi.AdmissionResponse](t, rr)
	assert.NotZero(t, resp.Booking.ID)
	assert.Equal(t, "09:00:00", resp.Booking.StartTime)
	assert.NotNil(t, resp.SoftMatches)
	assert.NotNil(t, resp.Alerts)
	assert.Contains(t, rr.Body.String(), `"soft_matches":[]`)

	t.Run("overlap is 409 with the colliding booking", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "09:30", "10:30", room))
		require.Equal(t, http.StatusConflict, rr.Code)
		errResp := decode[controlapi.ErrorResponse](t, rr)
		assert.Equal(t, "ERR_BOOKING_CONFLICT", errResp.Code)
		require.Len(t, errResp.Conflicts, 1)
		assert.Equal(t, resp.Booking.ID, errResp.Conflicts[0].BookingID)
		assert.Equal(t, room, errResp.Conflicts[0].ResourceID)
	})

	t.Run("touching slot is accepted", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "10:00", "11:00", room))
		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("shape errors are caught before admission", func(t *testing.T) {
		before := h.mem.Transactions()
		rr := h.do(http.MethodPost, "/api/v1/bookings", map[string]any{"user_id": 42, "date": "2024-01-10"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NotEmpty(t, decode[controlapi.ErrorResponse](t, rr).Details)
		assert.Equal(t, before, h.mem.Transactions())
	})

	t.Run("inverted slot is an admission validation error", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "12:00", "11:00", room))
		require.Equal(t, http.StatusBadRequest, rr.Code)
		errResp := decode[controlapi.ErrorResponse](t, rr)
		require.NotEmpty(t, errResp.Details)
		assert.Equal(t, "slot", errResp.Details[0].Field)
	})

	t.Run("malformed json", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/bookings", `{invalid-json`)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "ERR_INVALID_JSON", decode[controlapi.ErrorResponse](t, rr).Code)
	})
}

func TestCreateBooking_HardRuleIs422(t *testing.T) {
	h := newHarness(t)
	room := h.room("A-101")
	rr := h.do(http.MethodPost, "/api/v1/rules", map[string]any{
		"name":        "too many students",
		"target_type": "pair",
		"is_hard":     true,
		"condition":   map[string]any{"field": "resource.metadata.capacity", "op": "<", "value": map[string]any{"ref": "request.students"}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body := bookingBody("2024-01-10", "09:00", "10:00", room)
	body["attributes"] = map[string]any{"students": 45}
	rr = h.do(http.MethodPost, "/api/v1/bookings", body)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	errResp := decode[controlapi.RuleViolationResponse](t, rr)
	assert.Equal(t, "ERR_RULE_VIOLATION", errResp.Code)
	require.Len(t, errResp.Violations, 1)
	assert.Equal(t, "too many students", errResp.Violations[0].Name)
	assert.Empty(t, h.mem.Bookings())

	// No alert rule matched, yet the list is sent.
	raw := decode[map[string]json.RawMessage](t, rr)
	assert.JSONEq(t, `[]`, string(raw["alerts"]))
}

func TestCreateBooking_StoreFailureIs503(t *testing.T) {
	h := newHarness(t)
	room := h.room("A-101")
	h.mem.FailOn("ListRules", errors.New("connection reset"))

	rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "09:00", "10:00", room))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "ERR_STORE_UNAVAILABLE", decode[controlapi.ErrorResponse](t, rr).Code)
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestBookingLifecycle(t *testing.T) {
	h := newHarness(t)
	room := h.room("A-101")

	rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "09:00", "10:00", room))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode[controlapi.AdmissionResponse](t, rr).Booking.ID
	path := fmt.Sprintf("/api/v1/bookings/%d", id)

	t.Run("update replaces the slot", func(t *testing.T) {
		rr := h.do(http.MethodPut, path, bookingBody("2024-01-10", "09:30", "10:30", room))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "09:30:00", decode[controlapi.AdmissionResponse](t, rr).Booking.StartTime)
	})

	t.Run("reschedule writes history", func(t *testing.T) {
		rr := h.do(http.MethodPost, path+"/reschedule", map[string]any{
			"date": "2024-01-12", "start_time": "14:00", "end_time": "15:00",
			"location": "Zoom", "reason": "room flooded", "rescheduled_by": "admin",
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		got := decode[controlapi.AdmissionResponse](t, rr).Booking
		assert.Equal(t, "2024-01-12", got.Date)
		assert.Equal(t, "zoom", got.Location.String)

		rr = h.do(http.MethodGet, path+"/reschedules", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		history := decode[struct {
			Data []controlapi.Reschedule `json:"data"`
		}](t, rr)
		require.Len(t, history.Data, 1)
		assert.Equal(t, "09:30:00", history.Data[0].From.StartTime)
		assert.Equal(t, "admin", history.Data[0].RescheduledBy)
	})

	t.Run("get", func(t *testing.T) {
		rr := h.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, id, decode[controlapi.Booking](t, rr).ID)
	})

	t.Run("cancel once", func(t *testing.T) {
		rr := h.do(http.MethodPost, path+"/cancel", map[string]any{"reason": "sick", "cancelled_by": "instructor"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "sick", decode[controlapi.Cancellation](t, rr).Reason)

		rr = h.do(http.MethodPost, path+"/cancel", nil)
		require.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "ERR_ALREADY_CANCELLED", decode[controlapi.ErrorResponse](t, rr).Code)
		assert.Len(t, h.mem.Cancellations(), 1)
		assert.Len(t, h.mem.Announcements(), 2)
	})

	t.Run("list hides cancelled by default", func(t *testing.T) {
		rr := h.do(http.MethodGet, "/api/v1/bookings", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 0, decode[controlapi.PaginatedResponse](t, rr).Pagination.TotalItems)

		rr = h.do(http.MethodGet, "/api/v1/bookings?include_cancelled=true", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 1, decode[controlapi.PaginatedResponse](t, rr).Pagination.TotalItems)
	})

	t.Run("unknown booking", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/v1/bookings/999/cancel", nil).Code)
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/bookings/999", nil).Code)
	})
}

func TestPreviewBooking(t *testing.T) {
	h := newHarness(t)
	room := h.room("A-101")
	rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2024-01-10", "09:00", "10:00", room))
	require.Equal(t, http.StatusCreated, rr.Code)
	bookingsBefore := len(h.mem.Bookings())

	rr = h.do(http.MethodPost, "/api/v1/bookings/preview", bookingBody("2024-01-10", "09:30", "10:30", room))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[controlapi.PreviewResponse](t, rr)
	assert.True(t, resp.Blocked)
	assert.Len(t, resp.Conflicts, 1)
	assert.NotNil(t, resp.HardViolations)
	assert.Len(t, h.mem.Bookings(), bookingsBefore)
}

func TestResourceRequests(t *testing.T) {
	h := newHarness(t)
	room := h.room("A-101")

	rr := h.do(http.MethodPost, "/api/v1/requests", map[string]any{
		"resource_id": room, "requester_id": 7, "title": "Office hours",
		"date": "2024-01-10", "start_time": "09:00", "end_time": "10:00",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	req := decode[controlapi.ResourceRequest](t, rr)
	assert.Equal(t, store.RequestPending, req.Status)
	path := fmt.Sprintf("/api/v1/requests/%d", req.ID)

	rr = h.do(http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	approval := decode[controlapi.ApprovalResponse](t, rr)
	assert.False(t, approval.AlreadyApproved)
	assert.Equal(t, store.RequestApproved, approval.Request.Status)
	assert.Equal(t, int64(7), approval.Booking.UserID)

	rr = h.do(http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	again := decode[controlapi.ApprovalResponse](t, rr)
	assert.True(t, again.AlreadyApproved)
	assert.Equal(t, approval.Booking.ID, again.Booking.ID)

	rr = h.do(http.MethodPost, path+"/reject", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	t.Run("list by status", func(t *testing.T) {
		rr := h.do(http.MethodGet, "/api/v1/requests?status=approved", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 1, decode[controlapi.PaginatedResponse](t, rr).Pagination.TotalItems)

		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/requests?status=maybe", nil).Code)
	})

	t.Run("get", func(t *testing.T) {
		rr := h.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, approval.Booking.ID, decode[controlapi.ResourceRequest](t, rr).BookingID.Int64)
	})

	t.Run("unknown resource", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/requests", map[string]any{
			"resource_id": 999, "requester_id": 7,
			"date": "2024-01-10", "start_time": "09:00", "end_time": "10:00",
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "resource_id", decode[controlapi.ErrorResponse](t, rr).Details[0].Field)
	})
}
