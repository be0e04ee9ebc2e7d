package controlapi

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/guregu/null/v5"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// page holds sanitized offset pagination parameters.
type page struct {
	number int
	size   int
}

func (p page) limit() uint64  { return uint64(p.size) }
func (p page) offset() uint64 { return uint64((p.number - 1) * p.size) }

// response wraps data with the pagination metadata for total items.
func (p page) response(data any, total int64) PaginatedResponse {
	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.size)))
	}
	return PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  pages,
			CurrentPage: p.number,
			PageSize:    p.size,
		},
	}
}

// parsePage reads page and page_size. Malformed values are an error;
// out of range values are clamped.
func parsePage(r *http.Request) (page, error) {
	n, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		return page{}, err
	}
	size, err := parseOptionalInt(r, "page_size", defaultPageSize)
	if err != nil {
		return page{}, err
	}
	if n < 1 {
		n = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page{number: n, size: size}, nil
}

// parseOptionalInt extracts an integer from the query string, returning
// defaultValue when the parameter is missing.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// parseOptionalID reads a positive id filter from the query string.
func parseOptionalID(r *http.Request, key string) (null.Int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return null.Int{}, nil
	}
	val, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil || val <= 0 {
		return null.Int{}, fmt.Errorf("parameter '%s' must be a positive integer", key)
	}
	return null.IntFrom(val), nil
}

// parseOptionalBool reads a boolean flag from the query string.
func parseOptionalBool(r *http.Request, key string) (bool, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return false, fmt.Errorf("parameter '%s' must be a boolean", key)
	}
	return val, nil
}

// optionalString returns the query parameter as a null string.
func optionalString(r *http.Request, key string) null.String {
	return null.NewString(r.URL.Query().Get(key), r.URL.Query().Get(key) != "")
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer, got %q", chi.URLParam(r, "id"))
	}
	return id, nil
}
