package store

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/booker/internal/ruleengine"
)

// RuleQueries covers the 'rules' table. Documents are stored raw; compiling
// them is left to the caller.
type RuleQueries interface {
	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id int64) (Rule, error)

	// LockRule is GetRule holding a row lock until the transaction ends.
	LockRule(ctx context.Context, id int64) (Rule, error)

	// ListRules returns rules ordered by sort_order then id.
	ListRules(ctx context.Context, activeOnly bool) ([]Rule, error)

	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id int64) error
}

var ruleColumns = []string{
	"id", "name", "description", "target_type", "is_hard", "is_active", "weight", "sort_order",
	"condition", "action", "created_at", "updated_at",
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r         Rule
		target    string
		condition []byte
		action    []byte
	)
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&target,
		&r.IsHard,
		&r.IsActive,
		&r.Weight,
		&r.SortOrder,
		&condition,
		&action,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	r.TargetType = ruleengine.TargetType(target)
	r.ConditionJSON = json.RawMessage(condition)
	r.ActionJSON = json.RawMessage(action)
	return r, err
}

// documentArg passes a raw JSON document, or SQL NULL when empty.
func documentArg(doc json.RawMessage) any {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}

// actionDocument defaults a missing action to the empty object.
func actionDocument(doc json.RawMessage) json.RawMessage {
	if len(doc) == 0 {
		return json.RawMessage(`{}`)
	}
	return doc
}

func (q *queries) CreateRule(ctx context.Context, r *Rule) error {
	action := actionDocument(r.ActionJSON)

	sql, args, err := psql.Insert("rules").
		Columns("name", "description", "target_type", "is_hard", "is_active", "weight", "sort_order", "condition", "action").
		Values(
			r.Name,
			r.Description,
			string(r.TargetType),
			r.IsHard,
			r.IsActive,
			r.Weight,
			r.SortOrder,
			sq.Expr("?::jsonb", documentArg(r.ConditionJSON)),
			sq.Expr("?::jsonb", string(action)),
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build rule insert: %w", err)
	}

	if err := q.db.QueryRow(ctx, sql, args...).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return mapError(err, "failed to insert rule")
	}
	r.ActionJSON = action
	return nil
}

func (q *queries) GetRule(ctx context.Context, id int64) (Rule, error) {
	return q.getRule(ctx, id, false)
}

func (q *queries) LockRule(ctx context.Context, id int64) (Rule, error) {
	return q.getRule(ctx, id, true)
}

func (q *queries) getRule(ctx context.Context, id int64, lock bool) (Rule, error) {
	b := psql.Select(ruleColumns...).From("rules").Where(sq.Eq{"id": id})
	if lock {
		b = b.Suffix("FOR UPDATE")
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to build rule query: %w", err)
	}

	r, err := scanRule(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return Rule{}, mapError(err, "failed to get rule")
	}
	return r, nil
}

func (q *queries) ListRules(ctx context.Context, activeOnly bool) ([]Rule, error) {
	b := psql.Select(ruleColumns...).From("rules").OrderBy("sort_order", "id")
	if activeOnly {
		b = b.Where(sq.Eq{"is_active": true})
	}

	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

func (q *queries) UpdateRule(ctx context.Context, r *Rule) error {
	r.ActionJSON = actionDocument(r.ActionJSON)

	sql, args, err := psql.Update("rules").
		SetMap(map[string]any{
			"name":        r.Name,
			"description": r.Description,
			"target_type": string(r.TargetType),
			"is_hard":     r.IsHard,
			"is_active":   r.IsActive,
			"weight":      r.Weight,
			"sort_order":  r.SortOrder,
			"condition":   sq.Expr("?::jsonb", documentArg(r.ConditionJSON)),
			"action":      sq.Expr("?::jsonb", string(r.ActionJSON)),
			"updated_at":  sq.Expr("now()"),
		}).
		Where(sq.Eq{"id": r.ID}).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build rule update: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapError(err, "failed to update rule")
}

func (q *queries) DeleteRule(ctx context.Context, id int64) error {
	sql, args, err := psql.Delete("rules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build rule delete: %w", err)
	}

	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "failed to delete rule")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
