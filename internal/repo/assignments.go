package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loandesk/internal/domain"
)

const assignmentColumns = `id,workspace_id,client_id,loan_type_id,custom_order,is_active,assigned_at,assigned_by,custom_name,notes,created_at,updated_at`

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	var customName, notes sql.NullString
	err := scan(&a.ID, &a.WorkspaceID, &a.ClientID, &a.LoanTypeID, &a.CustomOrder, &a.IsActive,
		&a.AssignedAt, &a.AssignedBy, &customName, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if customName.Valid {
		a.CustomName = &customName.String
	}
	if notes.Valid {
		a.Notes = &notes.String
	}
	return a, nil
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(`+assignmentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.WorkspaceID, a.ClientID, a.LoanTypeID, a.CustomOrder, boolToInt(a.IsActive),
		a.AssignedAt, a.AssignedBy, nullablePtr(a.CustomName), nullablePtr(a.Notes), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAssignment(ctx context.Context, workspaceID, id string) (domain.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE workspace_id=? AND id=?`, workspaceID, id)
	return scanAssignment(row.Scan)
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, workspaceID, id string) (domain.Assignment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE workspace_id=? AND id=?`, workspaceID, id)
	return scanAssignment(row.Scan)
}

// ListAssignmentsByClient returns a client's assignments in custom order with
// the loan type name joined in for display.
func (r Repo) ListAssignmentsByClient(ctx context.Context, workspaceID, clientID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT a.id,a.workspace_id,a.client_id,a.loan_type_id,a.custom_order,a.is_active,a.assigned_at,a.assigned_by,a.custom_name,a.notes,a.created_at,a.updated_at,lt.name
FROM assignments a
JOIN loan_types lt ON lt.id = a.loan_type_id
WHERE a.workspace_id=? AND a.client_id=?
ORDER BY a.custom_order ASC, a.created_at ASC`, workspaceID, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var customName, notes sql.NullString
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.ClientID, &a.LoanTypeID, &a.CustomOrder, &a.IsActive,
			&a.AssignedAt, &a.AssignedBy, &customName, &notes, &a.CreatedAt, &a.UpdatedAt, &a.LoanTypeName); err != nil {
			return nil, err
		}
		if customName.Valid {
			a.CustomName = &customName.String
		}
		if notes.Valid {
			a.Notes = &notes.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountAssignmentsTx counts existing assignments of one loan type for one
// client, used for duplicate-name synthesis.
func (r Repo) CountAssignmentsTx(ctx context.Context, tx *sql.Tx, workspaceID, clientID, loanTypeID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE workspace_id=? AND client_id=? AND loan_type_id=?`,
		workspaceID, clientID, loanTypeID).Scan(&n)
	return n, err
}

// NextAssignmentOrderTx computes the next custom order for a client inside the
// caller's transaction so concurrent assigners serialize on the store.
func (r Repo) NextAssignmentOrderTx(ctx context.Context, tx *sql.Tx, workspaceID, clientID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(custom_order),0)+1 FROM assignments WHERE workspace_id=? AND client_id=?`,
		workspaceID, clientID).Scan(&next)
	return next, err
}

// AssignmentUpdate carries the optional fields of an assignment patch.
type AssignmentUpdate struct {
	CustomName  *string
	Notes       *string
	CustomOrder *int
	IsActive    *bool
}

func (r Repo) UpdateAssignmentTx(ctx context.Context, tx *sql.Tx, workspaceID, id string, u AssignmentUpdate, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if u.CustomName != nil {
		fields = append(fields, "custom_name=?")
		args = append(args, nullable(*u.CustomName))
	}
	if u.Notes != nil {
		fields = append(fields, "notes=?")
		args = append(args, nullable(*u.Notes))
	}
	if u.CustomOrder != nil {
		fields = append(fields, "custom_order=?")
		args = append(args, *u.CustomOrder)
	}
	if u.IsActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, boolToInt(*u.IsActive))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, workspaceID, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE assignments SET %s WHERE workspace_id=? AND id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAssignmentOrderTx(ctx context.Context, tx *sql.Tx, workspaceID, clientID, id string, order int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignments SET custom_order=?, updated_at=? WHERE workspace_id=? AND client_id=? AND id=?`,
		order, updatedAt, workspaceID, clientID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAssignmentTx(ctx context.Context, tx *sql.Tx, workspaceID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE workspace_id=? AND id=?`, workspaceID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
