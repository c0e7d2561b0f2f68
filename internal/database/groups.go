package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// CreateTaskGroup inserts a new group. Group names are unique; a duplicate
// name surfaces as an error.
func CreateTaskGroup(ctx context.Context, name string, defaultIntervalSeconds int, defaultZipCode string) (*TaskGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("group name must not be empty")
	}
	if defaultIntervalSeconds <= 0 {
		return nil, fmt.Errorf("default interval must be positive")
	}

	ctx, cancel := acquireScope(ctx)
	defer cancel()

	now := time.Now().UTC()
	group := &TaskGroup{
		ID:                     cuid2.NewID("tg"),
		Name:                   name,
		Enabled:                true,
		DefaultIntervalSeconds: defaultIntervalSeconds,
		DefaultZipCode:         defaultZipCode,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	_, err := Handle().ExecContext(ctx, `
		INSERT INTO task_groups (id, name, enabled, default_interval_seconds, default_zip_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Enabled, group.DefaultIntervalSeconds, group.DefaultZipCode,
		group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return nil, &types.StorageError{Op: "create task group", Err: err}
	}
	return group, nil
}

// GetTaskGroup loads one group by ID.
func GetTaskGroup(ctx context.Context, id string) (*TaskGroup, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	var g TaskGroup
	err := Handle().QueryRowContext(ctx, `
		SELECT id, name, enabled, default_interval_seconds, default_zip_code, created_at, updated_at
		FROM task_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Enabled, &g.DefaultIntervalSeconds, &g.DefaultZipCode, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Op: "get task group", Err: err}
	}
	return &g, nil
}

// GetTaskGroupByName loads one group by its unique name.
func GetTaskGroupByName(ctx context.Context, name string) (*TaskGroup, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	var g TaskGroup
	err := Handle().QueryRowContext(ctx, `
		SELECT id, name, enabled, default_interval_seconds, default_zip_code, created_at, updated_at
		FROM task_groups WHERE name = ?`, name,
	).Scan(&g.ID, &g.Name, &g.Enabled, &g.DefaultIntervalSeconds, &g.DefaultZipCode, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Op: "get task group by name", Err: err}
	}
	return &g, nil
}

// ListTaskGroups returns all groups ordered by name.
func ListTaskGroups(ctx context.Context) ([]TaskGroup, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT id, name, enabled, default_interval_seconds, default_zip_code, created_at, updated_at
		FROM task_groups ORDER BY name`)
	if err != nil {
		return nil, &types.StorageError{Op: "list task groups", Err: err}
	}
	defer rows.Close()

	var groups []TaskGroup
	for rows.Next() {
		var g TaskGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Enabled, &g.DefaultIntervalSeconds, &g.DefaultZipCode, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, &types.StorageError{Op: "scan task group", Err: err}
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list task groups", Err: err}
	}
	return groups, nil
}

// SetTaskGroupEnabled toggles a group. Disabling a group takes all of its
// tasks out of scheduling without touching their own enabled flags.
func SetTaskGroupEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `
		UPDATE task_groups SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return &types.StorageError{Op: "toggle task group", Err: err}
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("task group %s not found", id)
	}
	return nil
}
