package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/types"
)

const taskColumns = `
	t.id, t.group_id, t.name, t.enabled, t.retailer, t.query,
	t.zip_code, t.interval_seconds, t.last_run_at, t.last_status,
	t.last_error, t.last_in_stock_keys_json, t.created_at, t.updated_at,
	g.enabled, g.default_interval_seconds, g.default_zip_code`

// CreateTask inserts a new task into an existing group.
func CreateTask(ctx context.Context, task *Task) error {
	if task.GroupID == "" {
		return fmt.Errorf("task group_id must not be empty")
	}
	if task.Retailer == "" || task.Query == "" {
		return fmt.Errorf("task retailer and query must not be empty")
	}

	ctx, cancel := acquireScope(ctx)
	defer cancel()

	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = cuid2.NewID("task")
	}
	task.LastStatus = types.TaskStatusIdle
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := Handle().ExecContext(ctx, `
		INSERT INTO tasks (id, group_id, name, enabled, retailer, query, zip_code, interval_seconds,
		                   last_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.GroupID, task.Name, task.Enabled, task.Retailer, task.Query,
		task.ZipCode, task.IntervalSeconds, task.LastStatus, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return &types.StorageError{Op: "create task", Err: err}
	}
	return nil
}

// GetTaskByID loads one task joined with its group defaults.
func GetTaskByID(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	row := Handle().QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t JOIN task_groups g ON g.id = t.group_id
		WHERE t.id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Op: "get task", Err: err}
	}
	return task, nil
}

// ListTasks returns tasks joined with group defaults, optionally filtered by
// group.
func ListTasks(ctx context.Context, groupID string) ([]Task, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	query := `
		SELECT ` + taskColumns + `
		FROM tasks t JOIN task_groups g ON g.id = t.group_id`
	args := []any{}
	if groupID != "" {
		query += ` WHERE t.group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY t.created_at`

	rows, err := Handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Op: "list tasks", Err: err}
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListEnabledTasks returns the effectively enabled tasks (task AND group
// enabled) joined with group defaults, oldest run first with never-run tasks
// leading. The runner applies dueness and fairness on top.
func ListEnabledTasks(ctx context.Context) ([]Task, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t JOIN task_groups g ON g.id = t.group_id
		WHERE t.enabled = 1 AND g.enabled = 1
		ORDER BY t.last_run_at IS NOT NULL, t.last_run_at`)
	if err != nil {
		return nil, &types.StorageError{Op: "list enabled tasks", Err: err}
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SetTaskEnabled toggles one task.
func SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `
		UPDATE tasks SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return &types.StorageError{Op: "toggle task", Err: err}
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// UpdateTask rewrites the operator-editable columns of a task.
func UpdateTask(ctx context.Context, task *Task) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `
		UPDATE tasks
		SET name = ?, enabled = ?, retailer = ?, query = ?, zip_code = ?, interval_seconds = ?, updated_at = ?
		WHERE id = ?`,
		task.Name, task.Enabled, task.Retailer, task.Query, task.ZipCode, task.IntervalSeconds,
		time.Now().UTC(), task.ID)
	if err != nil {
		return &types.StorageError{Op: "update task", Err: err}
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("task %s not found", task.ID)
	}
	return nil
}

// MarkTaskRunning claims a task for execution: last_status and last_run_at
// move together in one statement. Returns false when the task was already
// running.
func MarkTaskRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `
		UPDATE tasks
		SET last_status = ?, last_run_at = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND last_status != ?`,
		types.TaskStatusRunning, now.UTC(), now.UTC(), id, types.TaskStatusRunning)
	if err != nil {
		return false, &types.StorageError{Op: "mark task running", Err: err}
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// CompleteTaskSuccess finishes a run and overwrites the in-stock key set.
func CompleteTaskSuccess(ctx context.Context, id string, inStockKeys []string) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	if inStockKeys == nil {
		inStockKeys = []string{}
	}
	keysJSON, err := json.Marshal(inStockKeys)
	if err != nil {
		return &types.StorageError{Op: "encode in-stock keys", Err: err}
	}

	_, err = Handle().ExecContext(ctx, `
		UPDATE tasks
		SET last_status = ?, last_error = NULL, last_in_stock_keys_json = ?, updated_at = ?
		WHERE id = ?`,
		types.TaskStatusOK, string(keysJSON), time.Now().UTC(), id)
	if err != nil {
		return &types.StorageError{Op: "complete task", Err: err}
	}
	return nil
}

// CompleteTaskError finishes a run with an error. The in-stock key set is
// deliberately left untouched so a transient failure cannot fabricate
// lost-stock transitions.
func CompleteTaskError(ctx context.Context, id string, errMsg string) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	_, err := Handle().ExecContext(ctx, `
		UPDATE tasks
		SET last_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		types.TaskStatusError, errMsg, time.Now().UTC(), id)
	if err != nil {
		return &types.StorageError{Op: "complete task", Err: err}
	}
	return nil
}

// ReconcileInterruptedTasks marks tasks stuck in 'running' from a previous
// process as errored so they become schedulable again. Called once at
// startup, before the runner loop begins.
func ReconcileInterruptedTasks(ctx context.Context) (int64, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `
		UPDATE tasks
		SET last_status = ?, last_error = 'recovered: interrupted by restart', updated_at = ?
		WHERE last_status = ?`,
		types.TaskStatusError, time.Now().UTC(), types.TaskStatusRunning)
	if err != nil {
		return 0, &types.StorageError{Op: "reconcile interrupted tasks", Err: err}
	}
	return res.RowsAffected()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var zip, lastErr, keysJSON sql.NullString
	var interval sql.NullInt64
	var lastRun sql.NullTime
	var status string

	err := row.Scan(
		&t.ID, &t.GroupID, &t.Name, &t.Enabled, &t.Retailer, &t.Query,
		&zip, &interval, &lastRun, &status,
		&lastErr, &keysJSON, &t.CreatedAt, &t.UpdatedAt,
		&t.GroupEnabled, &t.GroupIntervalSeconds, &t.GroupZipCode,
	)
	if err != nil {
		return nil, err
	}

	if zip.Valid {
		t.ZipCode = &zip.String
	}
	if interval.Valid {
		v := int(interval.Int64)
		t.IntervalSeconds = &v
	}
	if lastRun.Valid {
		utc := lastRun.Time.UTC()
		t.LastRunAt = &utc
	}
	t.LastStatus = types.TaskStatus(status)
	if lastErr.Valid {
		t.LastError = &lastErr.String
	}
	if keysJSON.Valid && keysJSON.String != "" {
		if err := json.Unmarshal([]byte(keysJSON.String), &t.LastInStockKeys); err != nil {
			return nil, fmt.Errorf("error decoding in-stock keys for task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &types.StorageError{Op: "scan task", Err: err}
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list tasks", Err: err}
	}
	return tasks, nil
}
