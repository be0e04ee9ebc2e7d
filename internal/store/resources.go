package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5"
)

// ResourceQueries covers resource types and resources.
type ResourceQueries interface {
	CreateResourceType(ctx context.Context, t *ResourceType) error
	ListResourceTypes(ctx context.Context) ([]ResourceType, error)

	CreateResource(ctx context.Context, r *Resource) error
	GetResource(ctx context.Context, id int64) (Resource, error)
	ListResources(ctx context.Context, f ResourceFilter) ([]Resource, int64, error)

	// GetResources returns the rows matching ids, ordered by id. Missing ids are
	// simply absent from the result.
	GetResources(ctx context.Context, ids []int64) ([]Resource, error)

	// LockResources is GetResources taking a row lock on every resource found,
	// always in id order so concurrent units of work cannot deadlock.
	LockResources(ctx context.Context, ids []int64) ([]Resource, error)
}

// ResourceFilter narrows ListResources.
type ResourceFilter struct {
	TypeID     null.Int
	ActiveOnly bool
	Limit      uint64
	Offset     uint64
}

var resourceColumns = []string{
	"r.id", "r.resource_type_id", "t.name", "r.name", "r.active", "r.metadata", "r.created_at", "r.updated_at",
}

func scanResource(row pgx.Row) (Resource, error) {
	var r Resource
	err := row.Scan(&r.ID, &r.TypeID, &r.TypeName, &r.Name, &r.Active, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r, err
}

func selectResources() sq.SelectBuilder {
	return psql.Select(resourceColumns...).
		From("resources r").
		Join("resource_types t ON t.id = r.resource_type_id")
}

func (q *queries) CreateResourceType(ctx context.Context, t *ResourceType) error {
	sql, args, err := psql.Insert("resource_types").
		Columns("name", "description").
		Values(t.Name, t.Description).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build resource type insert: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return mapError(err, "failed to insert resource type")
}

func (q *queries) ListResourceTypes(ctx context.Context) ([]ResourceType, error) {
	sql, args, err := psql.Select("id", "name", "description", "created_at", "updated_at").
		From("resource_types").
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build resource type query: %w", err)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource types: %w", err)
	}
	defer rows.Close()

	types := []ResourceType{}
	for rows.Next() {
		var t ResourceType
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource type row: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return types, nil
}

func (q *queries) CreateResource(ctx context.Context, r *Resource) error {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}

	sql, args, err := psql.Insert("resources").
		Columns("resource_type_id", "name", "active", "metadata").
		Values(r.TypeID, r.Name, r.Active, r.Metadata).
		Suffix("RETURNING id, created_at, updated_at, (SELECT name FROM resource_types WHERE id = resource_type_id)").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build resource insert: %w", err)
	}

	err = q.db.QueryRow(ctx, sql, args...).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.TypeName)
	return mapError(err, "failed to insert resource")
}

func (q *queries) GetResource(ctx context.Context, id int64) (Resource, error) {
	sql, args, err := selectResources().Where(sq.Eq{"r.id": id}).ToSql()
	if err != nil {
		return Resource{}, fmt.Errorf("failed to build resource query: %w", err)
	}

	r, err := scanResource(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return Resource{}, mapError(err, "failed to get resource")
	}
	return r, nil
}

func (q *queries) ListResources(ctx context.Context, f ResourceFilter) ([]Resource, int64, error) {
	where := sq.And{}
	if f.TypeID.Valid {
		where = append(where, sq.Eq{"r.resource_type_id": f.TypeID.Int64})
	}
	if f.ActiveOnly {
		where = append(where, sq.Eq{"r.active": true})
	}

	countSQL, countArgs, err := psql.Select("count(*)").From("resources r").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build resource count: %w", err)
	}

	var total int64
	if err := q.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count resources: %w", err)
	}
	if total == 0 {
		return []Resource{}, 0, nil
	}

	sql, args, err := paginate(selectResources().Where(where).OrderBy("r.id"), f.Limit, f.Offset).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build resource query: %w", err)
	}

	resources, err := q.collectResources(ctx, sql, args)
	if err != nil {
		return nil, 0, err
	}
	return resources, total, nil
}

func (q *queries) GetResources(ctx context.Context, ids []int64) ([]Resource, error) {
	sql, args, err := selectResources().
		Where("r.id = ANY(?)", ids).
		OrderBy("r.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build resource query: %w", err)
	}
	return q.collectResources(ctx, sql, args)
}

func (q *queries) LockResources(ctx context.Context, ids []int64) ([]Resource, error) {
	sql, args, err := selectResources().
		Where("r.id = ANY(?)", ids).
		OrderBy("r.id").
		Suffix("FOR UPDATE OF r").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build resource lock: %w", err)
	}
	return q.collectResources(ctx, sql, args)
}

func (q *queries) collectResources(ctx context.Context, sql string, args []any) ([]Resource, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	resources := []Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource row: %w", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return resources, nil
}
