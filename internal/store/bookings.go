package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/booker/internal/conflict"
)

// BookingQueries covers bookings, their resource links, cancellations and
// reschedule history.
type BookingQueries interface {
	// CreateBooking inserts the booking row and one link per resource.
	CreateBooking(ctx context.Context, b *Booking) error

	GetBooking(ctx context.Context, id int64) (Booking, error)

	// LockBooking is GetBooking taking a row lock on the booking.
	LockBooking(ctx context.Context, id int64) (Booking, error)

	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, int64, error)

	// UpdateBooking writes title, user, slot, location and attributes.
	UpdateBooking(ctx context.Context, b *Booking) error

	// ReplaceBookingResources deletes every link of the booking and inserts links.
	ReplaceBookingResources(ctx context.Context, bookingID int64, links []BookingResource) error

	// FindConflicts returns live bookings sharing a resource with q and
	// overlapping its slot, one row per shared resource.
	FindConflicts(ctx context.Context, q conflict.Query) ([]ConflictingBooking, error)

	// CancelBooking inserts the cancellation. A second cancellation of the same
	// booking returns ErrAlreadyCancelled.
	CancelBooking(ctx context.Context, c *Cancellation) error

	RecordReschedule(ctx context.Context, r *Reschedule) error
	ListReschedules(ctx context.Context, bookingID int64) ([]Reschedule, error)
}

// BookingFilter narrows ListBookings. Dates are inclusive YYYY-MM-DD bounds.
type BookingFilter struct {
	From             null.String
	To               null.String
	UserID           null.Int
	ResourceID       null.Int
	IncludeCancelled bool
	Limit            uint64
	Offset           uint64
}

const (
	cancelledExpr    = "EXISTS (SELECT 1 FROM booking_cancellations c WHERE c.booking_id = b.id)"
	cancelledByIDExpr = "EXISTS (SELECT 1 FROM booking_cancellations WHERE booking_id = $1)"
)

var bookingColumns = []string{
	"b.id", "b.title", "b.user_id", "b.booking_date::text", "b.start_time::text", "b.end_time::text",
	"b.location", "b.attributes", cancelledExpr, "b.created_at", "b.updated_at",
}

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.UserID,
		&b.Date,
		&b.StartTime,
		&b.EndTime,
		&b.Location,
		&b.Attributes,
		&b.Cancelled,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if b.Attributes == nil {
		b.Attributes = map[string]any{}
	}
	return b, err
}

func (q *queries) CreateBooking(ctx context.Context, b *Booking) error {
	if b.Attributes == nil {
		b.Attributes = map[string]any{}
	}

	sql, args, err := psql.Insert("bookings").
		Columns("title", "user_id", "booking_date", "start_time", "end_time", "location", "attributes").
		Values(b.Title, b.UserID, b.Date, b.StartTime, b.EndTime, b.Location, b.Attributes).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking insert: %w", err)
	}

	if err := q.db.QueryRow(ctx, sql, args...).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return mapError(err, "failed to insert booking")
	}

	return q.insertLinks(ctx, b.ID, b.Resources)
}

func (q *queries) insertLinks(ctx context.Context, bookingID int64, links []BookingResource) error {
	if len(links) == 0 {
		return nil
	}

	ins := psql.Insert("booking_resources").Columns("booking_id", "resource_id", "role", "position")
	for i, l := range links {
		ins = ins.Values(bookingID, l.ResourceID, l.Role, i)
	}

	sql, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking resource insert: %w", err)
	}
	if _, err := q.db.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "failed to insert booking resources")
	}
	return nil
}

func (q *queries) GetBooking(ctx context.Context, id int64) (Booking, error) {
	return q.getBooking(ctx, id, false)
}

func (q *queries) LockBooking(ctx context.Context, id int64) (Booking, error) {
	return q.getBooking(ctx, id, true)
}

func (q *queries) getBooking(ctx context.Context, id int64, lock bool) (Booking, error) {
	b := psql.Select(bookingColumns...).From("bookings b").Where(sq.Eq{"b.id": id})
	if lock {
		b = b.Suffix("FOR UPDATE OF b")
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return Booking{}, fmt.Errorf("failed to build booking query: %w", err)
	}

	booking, err := scanBooking(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return Booking{}, mapError(err, "failed to get booking")
	}

	// Under READ COMMITTED the select-list EXISTS above sees the snapshot taken
	// before the row lock was granted. A cancellation committed while waiting
	// is only visible to a new statement.
	if lock {
		if err := q.db.QueryRow(ctx, "SELECT "+cancelledByIDExpr, booking.ID).Scan(&booking.Cancelled); err != nil {
			return Booking{}, mapError(err, "failed to check booking cancellation")
		}
	}

	links, err := q.loadLinks(ctx, []int64{booking.ID})
	if err != nil {
		return Booking{}, err
	}
	booking.Resources = links[booking.ID]
	return booking, nil
}

// loadLinks returns the resource links of each booking in position order.
func (q *queries) loadLinks(ctx context.Context, bookingIDs []int64) (map[int64][]BookingResource, error) {
	sql, args, err := psql.Select("booking_id", "resource_id", "role").
		From("booking_resources").
		Where("booking_id = ANY(?)", bookingIDs).
		OrderBy("booking_id", "position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build booking resource query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking resources: %w", err)
	}
	defer rows.Close()

	links := make(map[int64][]BookingResource, len(bookingIDs))
	for rows.Next() {
		var (
			bookingID int64
			l         BookingResource
		)
		if err := rows.Scan(&bookingID, &l.ResourceID, &l.Role); err != nil {
			return nil, fmt.Errorf("failed to scan booking resource row: %w", err)
		}
		links[bookingID] = append(links[bookingID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return links, nil
}

func (q *queries) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, int64, error) {
	where := sq.And{}
	if f.From.Valid {
		where = append(where, sq.GtOrEq{"b.booking_date": f.From.String})
	}
	if f.To.Valid {
		where = append(where, sq.LtOrEq{"b.booking_date": f.To.String})
	}
	if f.UserID.Valid {
		where = append(where, sq.Eq{"b.user_id": f.UserID.Int64})
	}
	if f.ResourceID.Valid {
		where = append(where, sq.Expr(
			"EXISTS (SELECT 1 FROM booking_resources br WHERE br.booking_id = b.id AND br.resource_id = ?)",
			f.ResourceID.Int64,
		))
	}
	if !f.IncludeCancelled {
		where = append(where, sq.Expr("NOT "+cancelledExpr))
	}

	countSQL, countArgs, err := psql.Select("count(*)").From("bookings b").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build booking count: %w", err)
	}

	var total int64
	if err := q.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	if total == 0 {
		return []Booking{}, 0, nil
	}

	sql, args, err := paginate(
		psql.Select(bookingColumns...).From("bookings b").Where(where).OrderBy("b.booking_date", "b.start_time", "b.id"),
		f.Limit, f.Offset,
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build booking query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := []Booking{}
	ids := []int64{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan booking row: %w", err)
		}
		bookings = append(bookings, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}
	rows.Close()

	links, err := q.loadLinks(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range bookings {
		bookings[i].Resources = links[bookings[i].ID]
	}

	return bookings, total, nil
}

func (q *queries) UpdateBooking(ctx context.Context, b *Booking) error {
	if b.Attributes == nil {
		b.Attributes = map[string]any{}
	}

	sql, args, err := psql.Update("bookings").
		SetMap(map[string]any{
			"title":        b.Title,
			"user_id":      b.UserID,
			"booking_date": b.Date,
			"start_time":   b.StartTime,
			"end_time":     b.EndTime,
			"location":     b.Location,
			"attributes":   b.Attributes,
			"updated_at":   sq.Expr("now()"),
		}).
		Where(sq.Eq{"id": b.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking update: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&b.UpdatedAt)
	return mapError(err, "failed to update booking")
}

func (q *queries) ReplaceBookingResources(ctx context.Context, bookingID int64, links []BookingResource) error {
	sql, args, err := psql.Delete("booking_resources").Where(sq.Eq{"booking_id": bookingID}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build booking resource delete: %w", err)
	}
	if _, err := q.db.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "failed to delete booking resources")
	}
	return q.insertLinks(ctx, bookingID, links)
}

func (q *queries) FindConflicts(ctx context.Context, cq conflict.Query) ([]ConflictingBooking, error) {
	b := psql.Select(
		"b.id", "b.title", "b.user_id", "b.booking_date::text", "b.start_time::text", "b.end_time::text", "br.resource_id",
	).
		From("bookings b").
		Join("booking_resources br ON br.booking_id = b.id").
		Where("br.resource_id = ANY(?)", cq.ResourceIDs).
		Where(sq.Eq{"b.booking_date": cq.Slot.Date}).
		// Half-open overlap: existing.start < new.end AND new.start < existing.end.
		Where(sq.Lt{"b.start_time": cq.Slot.End}).
		Where(sq.Gt{"b.end_time": cq.Slot.Start}).
		Where(sq.Expr("NOT " + cancelledExpr)).
		OrderBy("b.start_time", "b.id", "br.resource_id")
	if cq.ExcludeID != 0 {
		b = b.Where(sq.NotEq{"b.id": cq.ExcludeID})
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build conflict query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []ConflictingBooking{}
	for rows.Next() {
		var c ConflictingBooking
		if err := rows.Scan(&c.BookingID, &c.Title, &c.UserID, &c.Date, &c.StartTime, &c.EndTime, &c.ResourceID); err != nil {
			return nil, fmt.Errorf("failed to scan conflict row: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return conflicts, nil
}

func (q *queries) CancelBooking(ctx context.Context, c *Cancellation) error {
	sql, args, err := psql.Insert("booking_cancellations").
		Columns("booking_id", "reason", "cancelled_by").
		Values(c.BookingID, c.Reason, c.CancelledBy).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build cancellation insert: %w", err)
	}

	err = mapError(q.db.QueryRow(ctx, sql, args...).Scan(&c.ID, &c.CreatedAt), "failed to insert cancellation")
	if errors.Is(err, ErrDuplicate) {
		return ErrAlreadyCancelled
	}
	if errors.Is(err, ErrReference) {
		return ErrNotFound
	}
	return err
}

func (q *queries) RecordReschedule(ctx context.Context, r *Reschedule) error {
	sql, args, err := psql.Insert("booking_reschedules").
		Columns(
			"booking_id",
			"old_date", "old_start_time", "old_end_time",
			"new_date", "new_start_time", "new_end_time",
			"reason", "rescheduled_by",
		).
		Values(
			r.BookingID,
			r.From.Date, r.From.Start, r.From.End,
			r.To.Date, r.To.Start, r.To.End,
			r.Reason, r.RescheduledBy,
		).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build reschedule insert: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&r.ID, &r.CreatedAt)
	return mapError(err, "failed to insert reschedule")
}

func (q *queries) ListReschedules(ctx context.Context, bookingID int64) ([]Reschedule, error) {
	sql, args, err := psql.Select(
		"id", "booking_id",
		"old_date::text", "old_start_time::text", "old_end_time::text",
		"new_date::text", "new_start_time::text", "new_end_time::text",
		"reason", "rescheduled_by", "created_at",
	).
		From("booking_reschedules").
		Where(sq.Eq{"booking_id": bookingID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reschedule query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reschedules: %w", err)
	}
	defer rows.Close()

	out := []Reschedule{}
	for rows.Next() {
		var r Reschedule
		if err := rows.Scan(
			&r.ID, &r.BookingID,
			&r.From.Date, &r.From.Start, &r.From.End,
			&r.To.Date, &r.To.Start, &r.To.End,
			&r.Reason, &r.RescheduledBy, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reschedule row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}
