package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gigline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// StaleStateError is returned when a conditional write observes a status or
// version other than the one the caller read. The caller re-reads and
// retries; the stored row is untouched.
type StaleStateError struct {
	Entity   string
	ID       string
	Expected string
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("%s %s no longer in state %s", e.Entity, e.ID, e.Expected)
}

const taskColumns = `id,owner_id,title,description,deadline,budget,status,assigned_freelancer_id,deliverable_json,version,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, assignee, deliverable sql.NullString
	err := scan(&t.ID, &t.OwnerID, &t.Title, &description, &t.Deadline, &t.Budget, &t.Status, &assignee, &deliverable, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if assignee.Valid {
		t.AssignedFreelancerID = &assignee.String
	}
	if deliverable.Valid {
		t.DeliverableJSON = &deliverable.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Title, nullable(t.Description), t.Deadline, t.Budget, t.Status,
		nullableStringPtr(t.AssignedFreelancerID), nullableStringPtr(t.DeliverableJSON), t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

// TaskPatch carries the fields a transition may change alongside the status.
type TaskPatch struct {
	Title                *string
	Description          *string
	Deadline             *string
	Budget               *int64
	AssignedFreelancerID *string
	ClearAssignee        bool
	DeliverableJSON      *string
	UpdatedAt            string
}

// TransitionTask applies newStatus plus patch to the task iff its stored
// status and version still match what the caller read. Zero rows affected
// means another writer got there first and the caller receives
// StaleStateError. The version always increments so racing writers cannot
// interleave.
func (r Repo) TransitionTask(ctx context.Context, tx *sql.Tx, id string, expectedStatus domain.TaskStatus, expectedVersion int64, newStatus domain.TaskStatus, patch TaskPatch) error {
	sets := []string{"status=?", "version=version+1", "updated_at=?"}
	args := []any{newStatus, patch.UpdatedAt}
	if patch.Title != nil {
		sets = append(sets, "title=?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description=?")
		args = append(args, nullable(*patch.Description))
	}
	if patch.Deadline != nil {
		sets = append(sets, "deadline=?")
		args = append(args, *patch.Deadline)
	}
	if patch.Budget != nil {
		sets = append(sets, "budget=?")
		args = append(args, *patch.Budget)
	}
	if patch.AssignedFreelancerID != nil {
		sets = append(sets, "assigned_freelancer_id=?")
		args = append(args, *patch.AssignedFreelancerID)
	} else if patch.ClearAssignee {
		sets = append(sets, "assigned_freelancer_id=NULL")
	}
	if patch.DeliverableJSON != nil {
		sets = append(sets, "deliverable_json=?")
		args = append(args, *patch.DeliverableJSON)
	}
	args = append(args, id, expectedStatus, expectedVersion)
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id=? AND status=? AND version=?`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return StaleStateError{Entity: "task", ID: id, Expected: string(expectedStatus)}
	}
	return nil
}

type TaskFilters struct {
	OwnerID         string
	Status          domain.TaskStatus
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assigned_freelancer_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
