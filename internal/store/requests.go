package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5"
)

// RequestQueries covers the 'resource_requests' table.
type RequestQueries interface {
	CreateRequest(ctx context.Context, r *ResourceRequest) error
	GetRequest(ctx context.Context, id int64) (ResourceRequest, error)

	// LockRequest is GetRequest taking a row lock on the request.
	LockRequest(ctx context.Context, id int64) (ResourceRequest, error)

	ListRequests(ctx context.Context, f RequestFilter) ([]ResourceRequest, int64, error)

	// ApproveRequest stamps the request with its booking and marks it approved.
	ApproveRequest(ctx context.Context, id, bookingID int64) error

	RejectRequest(ctx context.Context, id int64) error
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	Status      null.String
	RequesterID null.Int
	Limit       uint64
	Offset      uint64
}

var requestColumns = []string{
	"id", "resource_id", "requester_id", "title", "request_date::text", "start_time::text", "end_time::text",
	"note", "attributes", "status", "booking_id", "created_at", "updated_at",
}

func scanRequest(row pgx.Row) (ResourceRequest, error) {
	var r ResourceRequest
	err := row.Scan(
		&r.ID,
		&r.ResourceID,
		&r.RequesterID,
		&r.Title,
		&r.Date,
		&r.StartTime,
		&r.EndTime,
		&r.Note,
		&r.Attributes,
		&r.Status,
		&r.BookingID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	return r, err
}

func (q *queries) CreateRequest(ctx context.Context, r *ResourceRequest) error {
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	r.Status = RequestPending

	sql, args, err := psql.Insert("resource_requests").
		Columns("resource_id", "requester_id", "title", "request_date", "start_time", "end_time", "note", "attributes", "status").
		Values(r.ResourceID, r.RequesterID, r.Title, r.Date, r.StartTime, r.EndTime, r.Note, r.Attributes, r.Status).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build request insert: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	return mapError(err, "failed to insert request")
}

func (q *queries) GetRequest(ctx context.Context, id int64) (ResourceRequest, error) {
	return q.getRequest(ctx, id, false)
}

func (q *queries) LockRequest(ctx context.Context, id int64) (ResourceRequest, error) {
	return q.getRequest(ctx, id, true)
}

func (q *queries) getRequest(ctx context.Context, id int64, lock bool) (ResourceRequest, error) {
	b := psql.Select(requestColumns...).From("resource_requests").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return ResourceRequest{}, fmt.Errorf("failed to build request query: %w", err)
	}

	r, err := scanRequest(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return ResourceRequest{}, mapError(err, "failed to get request")
	}
	return r, nil
}

func (q *queries) ListRequests(ctx context.Context, f RequestFilter) ([]ResourceRequest, int64, error) {
	where := sq.And{}
	if f.Status.Valid {
		where = append(where, sq.Eq{"status": f.Status.String})
	}
	if f.RequesterID.Valid {
		where = append(where, sq.Eq{"requester_id": f.RequesterID.Int64})
	}

	countSQL, countArgs, err := psql.Select("count(*)").From("resource_requests").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request count: %w", err)
	}

	var total int64
	if err := q.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}
	if total == 0 {
		return []ResourceRequest{}, 0, nil
	}

	sql, args, err := paginate(
		psql.Select(requestColumns...).From("resource_requests").Where(where).OrderBy("id DESC"),
		f.Limit, f.Offset,
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := []ResourceRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan request row: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}
	return requests, total, nil
}

func (q *queries) ApproveRequest(ctx context.Context, id, bookingID int64) error {
	return q.setRequestStatus(ctx, id, RequestApproved, null.IntFrom(bookingID))
}

func (q *queries) RejectRequest(ctx context.Context, id int64) error {
	return q.setRequestStatus(ctx, id, RequestRejected, null.Int{})
}

func (q *queries) setRequestStatus(ctx context.Context, id int64, status string, bookingID null.Int) error {
	sql, args, err := psql.Update("resource_requests").
		Set("status", status).
		Set("booking_id", bookingID).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build request update: %w", err)
	}

	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "failed to update request")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
