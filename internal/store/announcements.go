package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// AnnouncementQueries covers the 'announcements' outbox.
type AnnouncementQueries interface {
	CreateAnnouncement(ctx context.Context, a *Announcement) error

	// ClaimAnnouncements locks up to limit undispatched rows, oldest first,
	// skipping rows locked by other relays. Call it inside InTx.
	ClaimAnnouncements(ctx context.Context, limit uint64) ([]Announcement, error)

	MarkAnnouncementsDispatched(ctx context.Context, ids []int64) error
	CountPendingAnnouncements(ctx context.Context) (int64, error)
}

func (q *queries) CreateAnnouncement(ctx context.Context, a *Announcement) error {
	sql, args, err := psql.Insert("announcements").
		Columns("booking_id", "title", "message", "course_name", "sender_name", "target_user_id").
		Values(a.BookingID, a.Title, a.Message, a.CourseName, a.SenderName, a.TargetUserID).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build announcement insert: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&a.ID, &a.CreatedAt)
	return mapError(err, "failed to insert announcement")
}

func (q *queries) ClaimAnnouncements(ctx context.Context, limit uint64) ([]Announcement, error) {
	sql, args, err := psql.Select(
		"id", "booking_id", "title", "message", "course_name", "sender_name", "target_user_id", "created_at", "dispatched_at",
	).
		From("announcements").
		Where(sq.Eq{"dispatched_at": nil}).
		OrderBy("id").
		Limit(limit).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build announcement claim: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim announcements: %w", err)
	}
	defer rows.Close()

	out := []Announcement{}
	for rows.Next() {
		var a Announcement
		if err := rows.Scan(
			&a.ID,
			&a.BookingID,
			&a.Title,
			&a.Message,
			&a.CourseName,
			&a.SenderName,
			&a.TargetUserID,
			&a.CreatedAt,
			&a.DispatchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan announcement row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (q *queries) MarkAnnouncementsDispatched(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	sql, args, err := psql.Update("announcements").
		Set("dispatched_at", sq.Expr("now()")).
		Where("id = ANY(?)", ids).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build announcement update: %w", err)
	}

	if _, err := q.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to mark announcements dispatched: %w", err)
	}
	return nil
}

func (q *queries) CountPendingAnnouncements(ctx context.Context) (int64, error) {
	sql, args, err := psql.Select("count(*)").From("announcements").Where(sq.Eq{"dispatched_at": nil}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build announcement count: %w", err)
	}

	var n int64
	if err := q.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count announcements: %w", err)
	}
	return n, nil
}
