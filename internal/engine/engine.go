// Package engine implements loandesk's practice operations: loan type and
// template administration, assignment of loan types to clients with template
// cloning, task lifecycle, and progress rollups. Every mutation runs in a
// single transaction and appends an event before commit.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loandesk/internal/config"
	"loandesk/internal/domain"
	"loandesk/internal/events"
	"loandesk/internal/repo"
)

// ErrValidation marks caller mistakes: bad enums, empty required fields,
// out-of-range numbers.
var ErrValidation = errors.New("validation")

// ErrConflict marks requests that collide with existing state.
var ErrConflict = errors.New("conflict")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config

	// Now overrides the clock in tests.
	Now func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	return Engine{DB: conn, Repo: repo.Repo{DB: conn}, Config: cfg}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return "system"
	}
	return actorID
}

// dueAt derives a due date from a reference instant and a day offset.
func dueAt(ref time.Time, days int) string {
	return ref.UTC().Add(time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
}

// Overdue reports whether a task is overdue at the given instant. Overdue is
// derived, never stored: only pending tasks past their due date qualify.
func Overdue(t domain.Task, now time.Time) bool {
	if t.Status != domain.StatusPending {
		return false
	}
	due, err := time.Parse(time.RFC3339, t.DueDate)
	if err != nil {
		return false
	}
	return due.Before(now)
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, workspaceID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := events.Writer{DB: e.DB, Now: e.Now}
	return w.Append(ctx, tx, evtType, workspaceID, entityKind, entityID, actorID, payload)
}

type InitWorkspaceOptions struct {
	ID      string
	Name    string
	ActorID string
}

// InitWorkspace creates the workspace row. The CLI calls it once per data
// directory right after migration.
func (e Engine) InitWorkspace(ctx context.Context, opts InitWorkspaceOptions) (domain.Workspace, error) {
	w := domain.Workspace{
		ID:        opts.ID,
		Name:      opts.Name,
		Status:    "active",
		CreatedAt: e.stamp(),
	}
	if w.ID == "" {
		w.ID = newID()
	}
	if w.Name == "" {
		w.Name = "default"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkspaceTx(ctx, tx, w); err != nil {
		return domain.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "workspace.created", w.ID, "workspace", w.ID, actorOrSystem(opts.ActorID), events.EventPayload{"name": w.Name}); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	return w, nil
}

type CreateClientOptions struct {
	WorkspaceID string
	Name        string
	Email       string
	Phone       string
	ActorID     string
}

func (e Engine) CreateClient(ctx context.Context, opts CreateClientOptions) (domain.Client, error) {
	if opts.Name == "" {
		return domain.Client{}, fmt.Errorf("%w: client name is required", ErrValidation)
	}
	now := e.stamp()
	c := domain.Client{
		ID:          newID(),
		WorkspaceID: opts.WorkspaceID,
		Name:        opts.Name,
		Email:       opts.Email,
		Phone:       opts.Phone,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertClientTx(ctx, tx, c); err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "client.created", opts.WorkspaceID, "client", c.ID, actorOrSystem(opts.ActorID), events.EventPayload{"name": c.Name}); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

type UpdateClientOptions struct {
	WorkspaceID string
	ClientID    string
	Patch       repo.ClientUpdate
	ActorID     string
}

func (e Engine) UpdateClient(ctx context.Context, opts UpdateClientOptions) (domain.Client, error) {
	if opts.Patch.Status != nil {
		switch *opts.Patch.Status {
		case "active", "archived":
		default:
			return domain.Client{}, fmt.Errorf("%w: client status %q is not one of active, archived", ErrValidation, *opts.Patch.Status)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateClientTx(ctx, tx, opts.WorkspaceID, opts.ClientID, opts.Patch, e.stamp()); err != nil {
		return domain.Client{}, fmt.Errorf("update client %s: %w", opts.ClientID, err)
	}
	if err := e.appendEvent(ctx, tx, "client.updated", opts.WorkspaceID, "client", opts.ClientID, actorOrSystem(opts.ActorID), nil); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return e.Repo.GetClient(ctx, opts.WorkspaceID, opts.ClientID)
}

type CreateLoanTypeOptions struct {
	WorkspaceID string
	Name        string
	Description string
	Category    string
	Stages      []string
	MinAmount   *float64
	MaxAmount   *float64
	MinRate     *float64
	MaxRate     *float64
	ActorID     string
}

func (e Engine) CreateLoanType(ctx context.Context, opts CreateLoanTypeOptions) (domain.LoanType, error) {
	if opts.Name == "" {
		return domain.LoanType{}, fmt.Errorf("%w: loan type name is required", ErrValidation)
	}
	if opts.MinAmount != nil && opts.MaxAmount != nil && *opts.MinAmount > *opts.MaxAmount {
		return domain.LoanType{}, fmt.Errorf("%w: min_amount exceeds max_amount", ErrValidation)
	}
	if opts.MinRate != nil && opts.MaxRate != nil && *opts.MinRate > *opts.MaxRate {
		return domain.LoanType{}, fmt.Errorf("%w: min_rate exceeds max_rate", ErrValidation)
	}
	now := e.stamp()
	lt := domain.LoanType{
		ID:          newID(),
		WorkspaceID: opts.WorkspaceID,
		Name:        opts.Name,
		Description: opts.Description,
		Category:    opts.Category,
		Stages:      opts.Stages,
		Status:      "active",
		MinAmount:   opts.MinAmount,
		MaxAmount:   opts.MaxAmount,
		MinRate:     opts.MinRate,
		MaxRate:     opts.MaxRate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LoanType{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLoanTypeTx(ctx, tx, lt); err != nil {
		return domain.LoanType{}, fmt.Errorf("insert loan type: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "loan_type.created", opts.WorkspaceID, "loan_type", lt.ID, actorOrSystem(opts.ActorID), events.EventPayload{"name": lt.Name}); err != nil {
		return domain.LoanType{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LoanType{}, err
	}
	return lt, nil
}

type UpdateLoanTypeOptions struct {
	WorkspaceID string
	LoanTypeID  string
	Patch       repo.LoanTypeUpdate
	ActorID     string
}

func (e Engine) UpdateLoanType(ctx context.Context, opts UpdateLoanTypeOptions) (domain.LoanType, error) {
	if opts.Patch.Status != nil {
		switch *opts.Patch.Status {
		case "active", "inactive":
		default:
			return domain.LoanType{}, fmt.Errorf("%w: loan type status %q is not one of active, inactive", ErrValidation, *opts.Patch.Status)
		}
	}
	if opts.Patch.Name != nil && *opts.Patch.Name == "" {
		return domain.LoanType{}, fmt.Errorf("%w: loan type name must not be empty", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LoanType{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateLoanTypeTx(ctx, tx, opts.WorkspaceID, opts.LoanTypeID, opts.Patch, e.stamp()); err != nil {
		return domain.LoanType{}, fmt.Errorf("update loan type %s: %w", opts.LoanTypeID, err)
	}
	if err := e.appendEvent(ctx, tx, "loan_type.updated", opts.WorkspaceID, "loan_type", opts.LoanTypeID, actorOrSystem(opts.ActorID), nil); err != nil {
		return domain.LoanType{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LoanType{}, err
	}
	return e.Repo.GetLoanType(ctx, opts.WorkspaceID, opts.LoanTypeID)
}

type CreateTaskTemplateOptions struct {
	WorkspaceID        string
	Title              string
	AssigneeRole       string
	Instructions       string
	IsRequired         bool
	DueInDays          *int
	AttachmentsAllowed bool
	Priority           string
	DisplayOrder       *int
	ActorID            string
}

func (e Engine) CreateTaskTemplate(ctx context.Context, opts CreateTaskTemplateOptions) (domain.TaskTemplate, error) {
	if opts.Title == "" {
		return domain.TaskTemplate{}, fmt.Errorf("%w: template title is required", ErrValidation)
	}
	role := opts.AssigneeRole
	if role == "" {
		role = domain.RoleClient
	}
	if !domain.ValidRole(role) {
		return domain.TaskTemplate{}, fmt.Errorf("%w: assignee role %q is not one of advisor, staff, client", ErrValidation, role)
	}
	priority := opts.Priority
	if priority == "" {
		priority = e.Config.Defaults.TaskPriority
	}
	if !domain.ValidPriority(priority) {
		return domain.TaskTemplate{}, fmt.Errorf("%w: priority %q is not one of low, normal, high, urgent", ErrValidation, priority)
	}
	dueInDays := e.Config.Defaults.DueInDays
	if opts.DueInDays != nil {
		dueInDays = *opts.DueInDays
	}
	if dueInDays < 0 {
		return domain.TaskTemplate{}, fmt.Errorf("%w: due_in_days must not be negative", ErrValidation)
	}
	now := e.stamp()
	tt := domain.TaskTemplate{
		ID:                 newID(),
		WorkspaceID:        opts.WorkspaceID,
		Title:              opts.Title,
		AssigneeRole:       role,
		Instructions:       opts.Instructions,
		IsRequired:         opts.IsRequired,
		DueInDays:          dueInDays,
		AttachmentsAllowed: opts.AttachmentsAllowed,
		Priority:           priority,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	defer tx.Rollback()
	if opts.DisplayOrder != nil {
		tt.DisplayOrder = *opts.DisplayOrder
	} else {
		tt.DisplayOrder, err = e.Repo.NextTemplateOrderTx(ctx, tx, opts.WorkspaceID)
		if err != nil {
			return domain.TaskTemplate{}, err
		}
	}
	if err := e.Repo.InsertTaskTemplateTx(ctx, tx, tt); err != nil {
		return domain.TaskTemplate{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "template.created", opts.WorkspaceID, "task_template", tt.ID, actorOrSystem(opts.ActorID), events.EventPayload{"title": tt.Title}); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskTemplate{}, err
	}
	return tt, nil
}

type UpdateTaskTemplateOptions struct {
	WorkspaceID string
	TemplateID  string
	Patch       repo.TaskTemplateUpdate
	ActorID     string
}

// UpdateTaskTemplate edits a template definition. Tasks already cloned from it
// keep their copied fields.
func (e Engine) UpdateTaskTemplate(ctx context.Context, opts UpdateTaskTemplateOptions) (domain.TaskTemplate, error) {
	if opts.Patch.Title != nil && *opts.Patch.Title == "" {
		return domain.TaskTemplate{}, fmt.Errorf("%w: template title must not be empty", ErrValidation)
	}
	if opts.Patch.AssigneeRole != nil && !domain.ValidRole(*opts.Patch.AssigneeRole) {
		return domain.TaskTemplate{}, fmt.Errorf("%w: assignee role %q is not one of advisor, staff, client", ErrValidation, *opts.Patch.AssigneeRole)
	}
	if opts.Patch.Priority != nil && !domain.ValidPriority(*opts.Patch.Priority) {
		return domain.TaskTemplate{}, fmt.Errorf("%w: priority %q is not one of low, normal, high, urgent", ErrValidation, *opts.Patch.Priority)
	}
	if opts.Patch.DueInDays != nil && *opts.Patch.DueInDays < 0 {
		return domain.TaskTemplate{}, fmt.Errorf("%w: due_in_days must not be negative", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTemplateTx(ctx, tx, opts.WorkspaceID, opts.TemplateID, opts.Patch, e.stamp()); err != nil {
		return domain.TaskTemplate{}, fmt.Errorf("update template %s: %w", opts.TemplateID, err)
	}
	if err := e.appendEvent(ctx, tx, "template.updated", opts.WorkspaceID, "task_template", opts.TemplateID, actorOrSystem(opts.ActorID), nil); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskTemplate{}, err
	}
	return e.Repo.GetTaskTemplate(ctx, opts.WorkspaceID, opts.TemplateID)
}

type LinkTemplateOptions struct {
	WorkspaceID string
	TemplateID  string
	LoanTypeID  string
	ActorID     string
}

// LinkTemplate associates a template with a loan type so future assignments of
// that loan type clone it. Existing assignments are untouched.
func (e Engine) LinkTemplate(ctx context.Context, opts LinkTemplateOptions) (domain.TemplateAssociation, error) {
	if _, err := e.Repo.GetTaskTemplate(ctx, opts.WorkspaceID, opts.TemplateID); err != nil {
		return domain.TemplateAssociation{}, fmt.Errorf("template %s: %w", opts.TemplateID, err)
	}
	if _, err := e.Repo.GetLoanType(ctx, opts.WorkspaceID, opts.LoanTypeID); err != nil {
		return domain.TemplateAssociation{}, fmt.Errorf("loan type %s: %w", opts.LoanTypeID, err)
	}
	exists, err := e.Repo.AssociationExists(ctx, opts.WorkspaceID, opts.TemplateID, opts.LoanTypeID)
	if err != nil {
		return domain.TemplateAssociation{}, err
	}
	if exists {
		return domain.TemplateAssociation{}, fmt.Errorf("%w: template %s is already linked to loan type %s", ErrConflict, opts.TemplateID, opts.LoanTypeID)
	}
	a := domain.TemplateAssociation{
		ID:             newID(),
		WorkspaceID:    opts.WorkspaceID,
		TaskTemplateID: opts.TemplateID,
		LoanTypeID:     opts.LoanTypeID,
		CreatedAt:      e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TemplateAssociation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAssociationTx(ctx, tx, a); err != nil {
		return domain.TemplateAssociation{}, fmt.Errorf("link template: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "template.linked", opts.WorkspaceID, "task_template", opts.TemplateID, actorOrSystem(opts.ActorID), events.EventPayload{"loan_type_id": opts.LoanTypeID}); err != nil {
		return domain.TemplateAssociation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TemplateAssociation{}, err
	}
	return a, nil
}

type UnlinkTemplateOptions struct {
	WorkspaceID string
	TemplateID  string
	LoanTypeID  string
	ActorID     string
}

func (e Engine) UnlinkTemplate(ctx context.Context, opts UnlinkTemplateOptions) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAssociationTx(ctx, tx, opts.WorkspaceID, opts.TemplateID, opts.LoanTypeID); err != nil {
		return fmt.Errorf("unlink template %s from loan type %s: %w", opts.TemplateID, opts.LoanTypeID, err)
	}
	if err := e.appendEvent(ctx, tx, "template.unlinked", opts.WorkspaceID, "task_template", opts.TemplateID, actorOrSystem(opts.ActorID), events.EventPayload{"loan_type_id": opts.LoanTypeID}); err != nil {
		return err
	}
	return tx.Commit()
}
