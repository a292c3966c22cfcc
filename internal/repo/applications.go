package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const applicationColumns = `id,task_id,freelancer_id,message,proposed_budget,status,created_at,updated_at`

func scanApplication(scan func(dest ...any) error) (domain.Application, error) {
	var a domain.Application
	var message sql.NullString
	var proposed sql.NullInt64
	err := scan(&a.ID, &a.TaskID, &a.FreelancerID, &message, &proposed, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if message.Valid {
		a.Message = message.String
	}
	if proposed.Valid {
		v := proposed.Int64
		a.ProposedBudget = &v
	}
	return a, nil
}

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.FreelancerID, nullable(a.Message), nullableInt64Ptr(a.ProposedBudget), a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

// HasActiveApplication reports whether a non-withdrawn, non-rejected
// application by the freelancer already exists for the task.
func (r Repo) HasActiveApplication(ctx context.Context, tx *sql.Tx, taskID, freelancerID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM applications WHERE task_id=? AND freelancer_id=? AND status IN ('pending','accepted') LIMIT 1`,
		taskID, freelancerID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateApplicationStatusTx moves an application between statuses iff it is
// still in the expected one; otherwise StaleStateError.
func (r Repo) UpdateApplicationStatusTx(ctx context.Context, tx *sql.Tx, id string, expected, next domain.ApplicationStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status=?, updated_at=? WHERE id=? AND status=?`,
		next, updatedAt, id, expected)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return StaleStateError{Entity: "application", ID: id, Expected: string(expected)}
	}
	return nil
}

// RejectPendingSiblingsTx rejects every pending application on the task
// except the one being accepted. Returns how many rows it touched so the
// caller can record the fan-out in the accept event.
func (r Repo) RejectPendingSiblingsTx(ctx context.Context, tx *sql.Tx, taskID, exceptID, updatedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status='rejected', updated_at=? WHERE task_id=? AND id<>? AND status='pending'`,
		updatedAt, taskID, exceptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountAcceptedTx returns the number of accepted applications on a task.
// Anything other than one after an accept commit is an invariant violation.
func (r Repo) CountAcceptedTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT count(*) FROM applications WHERE task_id=? AND status='accepted'`, taskID)
	var n int
	err := row.Scan(&n)
	return n, err
}

type ApplicationFilters struct {
	TaskID          string
	FreelancerID    string
	Status          domain.ApplicationStatus
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.Application, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.FreelancerID != "" {
		clauses = append(clauses, "freelancer_id=?")
		args = append(args, f.FreelancerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + applicationColumns + ` FROM applications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
