package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loandesk/internal/domain"
)

const taskTemplateColumns = `id,workspace_id,title,assignee_role,instructions,is_required,due_in_days,attachments_allowed,priority,display_order,created_at,updated_at`

func scanTaskTemplate(scan func(dest ...any) error) (domain.TaskTemplate, error) {
	var tt domain.TaskTemplate
	var instructions sql.NullString
	err := scan(&tt.ID, &tt.WorkspaceID, &tt.Title, &tt.AssigneeRole, &instructions, &tt.IsRequired,
		&tt.DueInDays, &tt.AttachmentsAllowed, &tt.Priority, &tt.DisplayOrder, &tt.CreatedAt, &tt.UpdatedAt)
	if err == sql.ErrNoRows {
		return tt, ErrNotFound
	}
	if err != nil {
		return tt, err
	}
	tt.Instructions = instructions.String
	return tt, nil
}

func (r Repo) InsertTaskTemplateTx(ctx context.Context, tx *sql.Tx, tt domain.TaskTemplate) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_templates(`+taskTemplateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		tt.ID, tt.WorkspaceID, tt.Title, tt.AssigneeRole, nullable(tt.Instructions), boolToInt(tt.IsRequired),
		tt.DueInDays, boolToInt(tt.AttachmentsAllowed), tt.Priority, tt.DisplayOrder, tt.CreatedAt, tt.UpdatedAt)
	return err
}

func (r Repo) GetTaskTemplate(ctx context.Context, workspaceID, id string) (domain.TaskTemplate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskTemplateColumns+` FROM task_templates WHERE workspace_id=? AND id=?`, workspaceID, id)
	return scanTaskTemplate(row.Scan)
}

func (r Repo) ListTaskTemplates(ctx context.Context, workspaceID string) ([]domain.TaskTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskTemplateColumns+` FROM task_templates WHERE workspace_id=? ORDER BY display_order ASC, title ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTaskTemplates(rows)
}

// TemplatesForLoanType resolves the task templates linked to a loan type in
// template display order.
func (r Repo) TemplatesForLoanType(ctx context.Context, workspaceID, loanTypeID string) ([]domain.TaskTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.id,t.workspace_id,t.title,t.assignee_role,t.instructions,t.is_required,t.due_in_days,t.attachments_allowed,t.priority,t.display_order,t.created_at,t.updated_at
FROM task_templates t
JOIN template_associations a ON a.task_template_id = t.id
WHERE a.workspace_id=? AND a.loan_type_id=?
ORDER BY t.display_order ASC, t.title ASC`, workspaceID, loanTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTaskTemplates(rows)
}

func collectTaskTemplates(rows *sql.Rows) ([]domain.TaskTemplate, error) {
	var res []domain.TaskTemplate
	for rows.Next() {
		tt, err := scanTaskTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, tt)
	}
	return res, rows.Err()
}

// NextTemplateOrderTx computes the next display order among a workspace's
// templates inside the caller's transaction.
func (r Repo) NextTemplateOrderTx(ctx context.Context, tx *sql.Tx, workspaceID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(display_order),0)+1 FROM task_templates WHERE workspace_id=?`,
		workspaceID).Scan(&next)
	return next, err
}

// TaskTemplateUpdate carries the optional fields of a template patch.
type TaskTemplateUpdate struct {
	Title              *string
	AssigneeRole       *string
	Instructions       *string
	IsRequired         *bool
	DueInDays          *int
	AttachmentsAllowed *bool
	Priority           *string
	DisplayOrder       *int
}

func (r Repo) UpdateTaskTemplateTx(ctx context.Context, tx *sql.Tx, workspaceID, id string, u TaskTemplateUpdate, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if u.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *u.Title)
	}
	if u.AssigneeRole != nil {
		fields = append(fields, "assignee_role=?")
		args = append(args, *u.AssigneeRole)
	}
	if u.Instructions != nil {
		fields = append(fields, "instructions=?")
		args = append(args, nullable(*u.Instructions))
	}
	if u.IsRequired != nil {
		fields = append(fields, "is_required=?")
		args = append(args, boolToInt(*u.IsRequired))
	}
	if u.DueInDays != nil {
		fields = append(fields, "due_in_days=?")
		args = append(args, *u.DueInDays)
	}
	if u.AttachmentsAllowed != nil {
		fields = append(fields, "attachments_allowed=?")
		args = append(args, boolToInt(*u.AttachmentsAllowed))
	}
	if u.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *u.Priority)
	}
	if u.DisplayOrder != nil {
		fields = append(fields, "display_order=?")
		args = append(args, *u.DisplayOrder)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, workspaceID, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE task_templates SET %s WHERE workspace_id=? AND id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertAssociationTx(ctx context.Context, tx *sql.Tx, a domain.TemplateAssociation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO template_associations(id,workspace_id,task_template_id,loan_type_id,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.WorkspaceID, a.TaskTemplateID, a.LoanTypeID, a.CreatedAt)
	return err
}

func (r Repo) DeleteAssociationTx(ctx context.Context, tx *sql.Tx, workspaceID, taskTemplateID, loanTypeID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM template_associations WHERE workspace_id=? AND task_template_id=? AND loan_type_id=?`,
		workspaceID, taskTemplateID, loanTypeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAssociations(ctx context.Context, workspaceID, loanTypeID string) ([]domain.TemplateAssociation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workspace_id,task_template_id,loan_type_id,created_at FROM template_associations WHERE workspace_id=? AND loan_type_id=? ORDER BY created_at ASC, id ASC`,
		workspaceID, loanTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TemplateAssociation
	for rows.Next() {
		var a domain.TemplateAssociation
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.TaskTemplateID, &a.LoanTypeID, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) AssociationExists(ctx context.Context, workspaceID, taskTemplateID, loanTypeID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM template_associations WHERE workspace_id=? AND task_template_id=? AND loan_type_id=? LIMIT 1`,
		workspaceID, taskTemplateID, loanTypeID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check association: %w", err)
	}
	return true, nil
}
