package repo

import (
	"context"
	"database/sql"

	"loandesk/internal/domain"
)

const taskColumns = `id,workspace_id,client_id,assignment_id,template_id,title,assignee_role,instructions,is_required,due_in_days,attachments_allowed,priority,display_order,status,due_date,completed_at,assignee_id,client_note,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var templateID, instructions, completedAt, assigneeID, clientNote sql.NullString
	err := scan(&t.ID, &t.WorkspaceID, &t.ClientID, &t.AssignmentID, &templateID, &t.Title, &t.AssigneeRole,
		&instructions, &t.IsRequired, &t.DueInDays, &t.AttachmentsAllowed, &t.Priority, &t.DisplayOrder,
		&t.Status, &t.DueDate, &completedAt, &assigneeID, &clientNote, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if templateID.Valid {
		t.TemplateID = &templateID.String
	}
	t.Instructions = instructions.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if clientNote.Valid {
		t.ClientNote = &clientNote.String
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkspaceID, t.ClientID, t.AssignmentID, nullablePtr(t.TemplateID), t.Title, t.AssigneeRole,
		nullable(t.Instructions), boolToInt(t.IsRequired), t.DueInDays, boolToInt(t.AttachmentsAllowed),
		t.Priority, t.DisplayOrder, t.Status, t.DueDate, nullablePtr(t.CompletedAt), nullablePtr(t.AssigneeID),
		nullablePtr(t.ClientNote), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, workspaceID, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workspace_id=? AND id=?`, workspaceID, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasksByAssignment(ctx context.Context, workspaceID, assignmentID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workspace_id=? AND assignment_id=? ORDER BY display_order ASC, created_at ASC`,
		workspaceID, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r Repo) ListTasksByClient(ctx context.Context, workspaceID, clientID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workspace_id=? AND client_id=? ORDER BY display_order ASC, created_at ASC`,
		workspaceID, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
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

// NextTaskOrderTx computes the next display order among an assignment's tasks
// inside the caller's transaction.
func (r Repo) NextTaskOrderTx(ctx context.Context, tx *sql.Tx, workspaceID, assignmentID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(display_order),0)+1 FROM tasks WHERE workspace_id=? AND assignment_id=?`,
		workspaceID, assignmentID).Scan(&next)
	return next, err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, assignee_role=?, instructions=?, is_required=?, due_in_days=?, attachments_allowed=?, priority=?, display_order=?, status=?, due_date=?, completed_at=?, assignee_id=?, client_note=?, updated_at=? WHERE workspace_id=? AND id=?`,
		t.Title, t.AssigneeRole, nullable(t.Instructions), boolToInt(t.IsRequired), t.DueInDays,
		boolToInt(t.AttachmentsAllowed), t.Priority, t.DisplayOrder, t.Status, t.DueDate,
		nullablePtr(t.CompletedAt), nullablePtr(t.AssigneeID), nullablePtr(t.ClientNote), t.UpdatedAt,
		t.WorkspaceID, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTaskOrderTx(ctx context.Context, tx *sql.Tx, workspaceID, assignmentID, id string, order int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET display_order=?, updated_at=? WHERE workspace_id=? AND assignment_id=? AND id=?`,
		order, updatedAt, workspaceID, assignmentID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, workspaceID, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_notes WHERE workspace_id=? AND task_id=?`, workspaceID, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workspace_id=? AND id=?`, workspaceID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTasksByAssignmentTx removes every task owned by an assignment together
// with their notes, returning the number of tasks removed.
func (r Repo) DeleteTasksByAssignmentTx(ctx context.Context, tx *sql.Tx, workspaceID, assignmentID string) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_notes WHERE workspace_id=? AND task_id IN (SELECT id FROM tasks WHERE workspace_id=? AND assignment_id=?)`,
		workspaceID, workspaceID, assignmentID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workspace_id=? AND assignment_id=?`, workspaceID, assignmentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r Repo) CountTasksByAssignment(ctx context.Context, workspaceID, assignmentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE workspace_id=? AND assignment_id=?`, workspaceID, assignmentID).Scan(&n)
	return n, err
}

func (r Repo) InsertTaskNoteTx(ctx context.Context, tx *sql.Tx, n domain.TaskNote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_notes(id,workspace_id,task_id,author_id,ts,text) VALUES (?,?,?,?,?,?)`,
		n.ID, n.WorkspaceID, n.TaskID, n.AuthorID, n.TS, n.Text)
	return err
}

func (r Repo) ListTaskNotes(ctx context.Context, workspaceID, taskID string) ([]domain.TaskNote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workspace_id,task_id,author_id,ts,text FROM task_notes WHERE workspace_id=? AND task_id=? ORDER BY ts ASC, id ASC`,
		workspaceID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskNote
	for rows.Next() {
		var n domain.TaskNote
		if err := rows.Scan(&n.ID, &n.WorkspaceID, &n.TaskID, &n.AuthorID, &n.TS, &n.Text); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
