package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"loandesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertWorkspace(ctx context.Context, w domain.Workspace) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workspaces(id,name,status,created_at) VALUES (?,?,?,?)`,
		w.ID, w.Name, w.Status, w.CreatedAt)
	return err
}

func (r Repo) InsertWorkspaceTx(ctx context.Context, tx *sql.Tx, w domain.Workspace) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workspaces(id,name,status,created_at) VALUES (?,?,?,?)`,
		w.ID, w.Name, w.Status, w.CreatedAt)
	return err
}

func (r Repo) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	var w domain.Workspace
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM workspaces WHERE id=?`, id).
		Scan(&w.ID, &w.Name, &w.Status, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM workspaces ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workspace
	for rows.Next() {
		var w domain.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.Status, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// SingleWorkspace returns the only workspace, used by the CLI when no
// --workspace-id override is given.
func (r Repo) SingleWorkspace(ctx context.Context) (domain.Workspace, error) {
	items, err := r.ListWorkspaces(ctx)
	if err != nil {
		return domain.Workspace{}, err
	}
	if len(items) == 0 {
		return domain.Workspace{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Workspace{}, fmt.Errorf("multiple workspaces exist; specify --workspace-id")
	}
	return items[0], nil
}

func scanClient(scan func(dest ...any) error) (domain.Client, error) {
	var c domain.Client
	var email, phone sql.NullString
	err := scan(&c.ID, &c.WorkspaceID, &c.Name, &email, &phone, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Email = email.String
	c.Phone = phone.String
	return c, nil
}

const clientColumns = `id,workspace_id,name,email,phone,status,created_at,updated_at`

func (r Repo) InsertClientTx(ctx context.Context, tx *sql.Tx, c domain.Client) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO clients(`+clientColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkspaceID, c.Name, nullable(c.Email), nullable(c.Phone), c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, workspaceID, id string) (domain.Client, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE workspace_id=? AND id=?`, workspaceID, id)
	return scanClient(row.Scan)
}

func (r Repo) ListClients(ctx context.Context, workspaceID string) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE workspace_id=? ORDER BY name ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		c, err := scanClient(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ClientUpdate carries the optional fields of a client patch.
type ClientUpdate struct {
	Name   *string
	Email  *string
	Phone  *string
	Status *string
}

func (r Repo) UpdateClientTx(ctx context.Context, tx *sql.Tx, workspaceID, id string, u ClientUpdate, updatedAt string) error {
	name, email, phone, status := u.Name, u.Email, u.Phone, u.Status
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if email != nil {
		fields = append(fields, "email=?")
		args = append(args, nullable(*email))
	}
	if phone != nil {
		fields = append(fields, "phone=?")
		args = append(args, nullable(*phone))
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, workspaceID, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE clients SET %s WHERE workspace_id=? AND id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestEvents returns the newest events for a workspace, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, workspaceID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,COALESCE(workspace_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if workspaceID != "" {
		query += " AND workspace_id=?"
		args = append(args, workspaceID)
	}
	if evtType != "" {
		query += " AND type=?"
		args = append(args, evtType)
	}
	if entityKind != "" {
		query += " AND entity_kind=?"
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += " AND entity_id=?"
		args = append(args, entityID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.WorkspaceID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
