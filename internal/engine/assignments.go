package engine

import (
	"context"
	"fmt"
	"time"

	"loandesk/internal/domain"
	"loandesk/internal/events"
	"loandesk/internal/repo"
)

type AssignOptions struct {
	WorkspaceID string
	ClientID    string
	LoanTypeID  string
	CustomName  string
	Notes       string
	ActorID     string
}

// AssignResult is the outcome of assigning a loan type to a client.
type AssignResult struct {
	Assignment  domain.Assignment `json:"assignment"`
	TasksCloned int               `json:"tasks_cloned"`
}

// AssignLoanType creates an assignment for a client and clones every template
// linked to the loan type into pending tasks. Each clone carries its
// template's display order verbatim, gaps included. The assignment row, its
// cloned tasks and the event land in one transaction: either all of it exists
// afterwards or none of it does.
//
// A loan type with no linked templates still assigns; TasksCloned is zero.
// When the client already holds assignments of the same loan type and no
// custom name is given, one is synthesized as "<name> #<n>" so the
// assignments stay distinguishable.
func (e Engine) AssignLoanType(ctx context.Context, opts AssignOptions) (AssignResult, error) {
	if _, err := e.Repo.GetClient(ctx, opts.WorkspaceID, opts.ClientID); err != nil {
		return AssignResult{}, fmt.Errorf("client %s: %w", opts.ClientID, err)
	}
	lt, err := e.Repo.GetLoanType(ctx, opts.WorkspaceID, opts.LoanTypeID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("loan type %s: %w", opts.LoanTypeID, err)
	}
	templates, err := e.Repo.TemplatesForLoanType(ctx, opts.WorkspaceID, opts.LoanTypeID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("resolve templates: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AssignResult{}, err
	}
	defer tx.Rollback()

	count, err := e.Repo.CountAssignmentsTx(ctx, tx, opts.WorkspaceID, opts.ClientID, opts.LoanTypeID)
	if err != nil {
		return AssignResult{}, err
	}
	order, err := e.Repo.NextAssignmentOrderTx(ctx, tx, opts.WorkspaceID, opts.ClientID)
	if err != nil {
		return AssignResult{}, err
	}

	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	a := domain.Assignment{
		ID:           newID(),
		WorkspaceID:  opts.WorkspaceID,
		ClientID:     opts.ClientID,
		LoanTypeID:   opts.LoanTypeID,
		CustomOrder:  order,
		IsActive:     true,
		AssignedAt:   ts,
		AssignedBy:   actorOrSystem(opts.ActorID),
		LoanTypeName: lt.Name,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	switch {
	case opts.CustomName != "":
		name := opts.CustomName
		a.CustomName = &name
	case count > 0:
		name := fmt.Sprintf("%s #%d", lt.Name, count+1)
		a.CustomName = &name
	}
	if opts.Notes != "" {
		notes := opts.Notes
		a.Notes = &notes
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		return AssignResult{}, fmt.Errorf("insert assignment: %w", err)
	}

	for i, tt := range templates {
		t := domain.Task{
			ID:                 newID(),
			WorkspaceID:        opts.WorkspaceID,
			ClientID:           opts.ClientID,
			AssignmentID:       a.ID,
			TemplateID:         &templates[i].ID,
			Title:              tt.Title,
			AssigneeRole:       tt.AssigneeRole,
			Instructions:       tt.Instructions,
			IsRequired:         tt.IsRequired,
			DueInDays:          tt.DueInDays,
			AttachmentsAllowed: tt.AttachmentsAllowed,
			Priority:           tt.Priority,
			DisplayOrder:       tt.DisplayOrder,
			Status:             domain.StatusPending,
			DueDate:            dueAt(now, tt.DueInDays),
			CreatedAt:          ts,
			UpdatedAt:          ts,
		}
		if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return AssignResult{}, fmt.Errorf("clone template %s: %w", tt.ID, err)
		}
	}

	payload := events.EventPayload{
		"client_id":    opts.ClientID,
		"loan_type_id": opts.LoanTypeID,
		"tasks_cloned": len(templates),
	}
	if a.CustomName != nil {
		payload["custom_name"] = *a.CustomName
	}
	if err := e.appendEvent(ctx, tx, "assignment.created", opts.WorkspaceID, "assignment", a.ID, actorOrSystem(opts.ActorID), payload); err != nil {
		return AssignResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AssignResult{}, err
	}
	return AssignResult{Assignment: a, TasksCloned: len(templates)}, nil
}

type RemoveAssignmentOptions struct {
	WorkspaceID  string
	AssignmentID string
	ActorID      string
}

// RemoveAssignment deletes an assignment and cascades to all its tasks and
// their notes. It returns the number of tasks removed.
func (e Engine) RemoveAssignment(ctx context.Context, opts RemoveAssignmentOptions) (int, error) {
	a, err := e.Repo.GetAssignment(ctx, opts.WorkspaceID, opts.AssignmentID)
	if err != nil {
		return 0, fmt.Errorf("assignment %s: %w", opts.AssignmentID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	deleted, err := e.Repo.DeleteTasksByAssignmentTx(ctx, tx, opts.WorkspaceID, a.ID)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	if err := e.Repo.DeleteAssignmentTx(ctx, tx, opts.WorkspaceID, a.ID); err != nil {
		return 0, fmt.Errorf("delete assignment %s: %w", a.ID, err)
	}
	payload := events.EventPayload{
		"client_id":     a.ClientID,
		"loan_type_id":  a.LoanTypeID,
		"tasks_deleted": deleted,
	}
	if err := e.appendEvent(ctx, tx, "assignment.removed", opts.WorkspaceID, "assignment", a.ID, actorOrSystem(opts.ActorID), payload); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

type UpdateAssignmentOptions struct {
	WorkspaceID  string
	AssignmentID string
	CustomName   *string
	Notes        *string
	CustomOrder  *int
	IsActive     *bool
	ActorID      string
}

// UpdateAssignment patches an assignment's mutable fields.
func (e Engine) UpdateAssignment(ctx context.Context, opts UpdateAssignmentOptions) (domain.Assignment, error) {
	if opts.CustomOrder != nil && *opts.CustomOrder < 1 {
		return domain.Assignment{}, fmt.Errorf("%w: custom_order must be at least 1", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	patch := repo.AssignmentUpdate{CustomName: opts.CustomName, Notes: opts.Notes, CustomOrder: opts.CustomOrder, IsActive: opts.IsActive}
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, opts.WorkspaceID, opts.AssignmentID, patch, e.stamp()); err != nil {
		return domain.Assignment{}, fmt.Errorf("update assignment %s: %w", opts.AssignmentID, err)
	}
	if err := e.appendEvent(ctx, tx, "assignment.updated", opts.WorkspaceID, "assignment", opts.AssignmentID, actorOrSystem(opts.ActorID), nil); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return e.Repo.GetAssignment(ctx, opts.WorkspaceID, opts.AssignmentID)
}

// OrderUpdate pairs an entity id with its new position in a reorder batch.
type OrderUpdate struct {
	ID       string `json:"id"`
	NewOrder int    `json:"new_order"`
}

type ReorderAssignmentsOptions struct {
	WorkspaceID string
	ClientID    string
	Orders      []OrderUpdate
	ActorID     string
}

// ReorderAssignments applies a batch of order changes to a client's
// assignments in one transaction. A missing assignment id fails the whole
// batch.
func (e Engine) ReorderAssignments(ctx context.Context, opts ReorderAssignmentsOptions) error {
	if err := validateOrders(opts.Orders); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ts := e.stamp()
	for _, o := range opts.Orders {
		if err := e.Repo.SetAssignmentOrderTx(ctx, tx, opts.WorkspaceID, opts.ClientID, o.ID, o.NewOrder, ts); err != nil {
			return fmt.Errorf("reorder assignment %s: %w", o.ID, err)
		}
	}
	payload := events.EventPayload{"client_id": opts.ClientID, "count": len(opts.Orders)}
	if err := e.appendEvent(ctx, tx, "assignment.reordered", opts.WorkspaceID, "client", opts.ClientID, actorOrSystem(opts.ActorID), payload); err != nil {
		return err
	}
	return tx.Commit()
}

type ReorderTasksOptions struct {
	WorkspaceID  string
	AssignmentID string
	Orders       []OrderUpdate
	ActorID      string
}

// ReorderTasks applies a batch of display order changes to an assignment's
// tasks in one transaction.
func (e Engine) ReorderTasks(ctx context.Context, opts ReorderTasksOptions) error {
	if err := validateOrders(opts.Orders); err != nil {
		return err
	}
	if _, err := e.Repo.GetAssignment(ctx, opts.WorkspaceID, opts.AssignmentID); err != nil {
		return fmt.Errorf("assignment %s: %w", opts.AssignmentID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ts := e.stamp()
	for _, o := range opts.Orders {
		if err := e.Repo.SetTaskOrderTx(ctx, tx, opts.WorkspaceID, opts.AssignmentID, o.ID, o.NewOrder, ts); err != nil {
			return fmt.Errorf("reorder task %s: %w", o.ID, err)
		}
	}
	payload := events.EventPayload{"assignment_id": opts.AssignmentID, "count": len(opts.Orders)}
	if err := e.appendEvent(ctx, tx, "task.reordered", opts.WorkspaceID, "assignment", opts.AssignmentID, actorOrSystem(opts.ActorID), payload); err != nil {
		return err
	}
	return tx.Commit()
}

func validateOrders(orders []OrderUpdate) error {
	if len(orders) == 0 {
		return fmt.Errorf("%w: orders must not be empty", ErrValidation)
	}
	for _, o := range orders {
		if o.ID == "" {
			return fmt.Errorf("%w: order entry is missing an id", ErrValidation)
		}
		if o.NewOrder < 1 {
			return fmt.Errorf("%w: new_order for %s must be at least 1", ErrValidation, o.ID)
		}
	}
	return nil
}
