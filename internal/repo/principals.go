package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"gigline/internal/domain"
)

// ErrPrincipalExists signals a second attempt to register a role for an
// account that already holds one. Role assignment is write-once.
var ErrPrincipalExists = errors.New("principal already registered")

func (r Repo) InsertPrincipal(ctx context.Context, p domain.Principal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO principals(id,role,display_name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Role, nullable(p.DisplayName), p.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrPrincipalExists
	}
	return err
}

func (r Repo) GetPrincipal(ctx context.Context, id string) (domain.Principal, error) {
	var p domain.Principal
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,role,display_name,created_at FROM principals WHERE id=?`, id).
		Scan(&p.ID, &p.Role, &name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if name.Valid {
		p.DisplayName = name.String
	}
	return p, err
}

func (r Repo) ListPrincipals(ctx context.Context, role domain.Role) ([]domain.Principal, error) {
	query := `SELECT id,role,display_name,created_at FROM principals`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Principal
	for rows.Next() {
		var p domain.Principal
		var name sql.NullString
		if err := rows.Scan(&p.ID, &p.Role, &name, &p.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			p.DisplayName = name.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
