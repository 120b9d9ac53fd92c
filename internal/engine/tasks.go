package engine

import (
	"context"
	"fmt"
	"time"

	"loandesk/internal/domain"
	"loandesk/internal/events"
)

type CreateTaskOptions struct {
	WorkspaceID        string
	AssignmentID       string
	Title              string
	AssigneeRole       string
	Instructions       string
	IsRequired         bool
	DueInDays          *int
	AttachmentsAllowed bool
	Priority           string
	ActorID            string
}

// CreateTask adds an ad-hoc task to an assignment. It carries no template
// reference, lands at the end of the assignment's order and starts pending
// with a due date derived from now.
func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: task title is required", ErrValidation)
	}
	role := opts.AssigneeRole
	if role == "" {
		role = domain.RoleClient
	}
	if !domain.ValidRole(role) {
		return domain.Task{}, fmt.Errorf("%w: assignee role %q is not one of advisor, staff, client", ErrValidation, role)
	}
	priority := opts.Priority
	if priority == "" {
		priority = e.Config.Defaults.TaskPriority
	}
	if !domain.ValidPriority(priority) {
		return domain.Task{}, fmt.Errorf("%w: priority %q is not one of low, normal, high, urgent", ErrValidation, priority)
	}
	dueInDays := e.Config.Defaults.DueInDays
	if opts.DueInDays != nil {
		dueInDays = *opts.DueInDays
	}
	if dueInDays < 0 {
		return domain.Task{}, fmt.Errorf("%w: due_in_days must not be negative", ErrValidation)
	}
	a, err := e.Repo.GetAssignment(ctx, opts.WorkspaceID, opts.AssignmentID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("assignment %s: %w", opts.AssignmentID, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	order, err := e.Repo.NextTaskOrderTx(ctx, tx, opts.WorkspaceID, a.ID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:                 newID(),
		WorkspaceID:        opts.WorkspaceID,
		ClientID:           a.ClientID,
		AssignmentID:       a.ID,
		Title:              opts.Title,
		AssigneeRole:       role,
		Instructions:       opts.Instructions,
		IsRequired:         opts.IsRequired,
		DueInDays:          dueInDays,
		AttachmentsAllowed: opts.AttachmentsAllowed,
		Priority:           priority,
		DisplayOrder:       order,
		Status:             domain.StatusPending,
		DueDate:            dueAt(now, dueInDays),
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "task.created", opts.WorkspaceID, "task", t.ID, actorOrSystem(opts.ActorID), events.EventPayload{"assignment_id": a.ID, "title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type TaskStatusOptions struct {
	WorkspaceID string
	TaskID      string
	Status      string
	// CompletedAt overrides the completion stamp when Status is completed.
	CompletedAt *string
	ActorID     string
}

// UpdateTaskStatus moves a task to any status in the enum. Completing stamps
// completed_at; moving to any other status clears it.
func (e Engine) UpdateTaskStatus(ctx context.Context, opts TaskStatusOptions) (domain.Task, error) {
	if !domain.ValidTaskStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("%w: status %q is not one of pending, in_progress, ready_for_review, completed, skipped", ErrValidation, opts.Status)
	}
	if opts.CompletedAt != nil {
		if opts.Status != domain.StatusCompleted {
			return domain.Task{}, fmt.Errorf("%w: completed_at only applies when status is completed", ErrValidation)
		}
		if _, err := time.Parse(time.RFC3339, *opts.CompletedAt); err != nil {
			return domain.Task{}, fmt.Errorf("%w: completed_at must be RFC 3339", ErrValidation)
		}
	}
	t, err := e.Repo.GetTask(ctx, opts.WorkspaceID, opts.TaskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.TaskID, err)
	}
	from := t.Status
	t.Status = opts.Status
	if opts.Status == domain.StatusCompleted {
		ts := e.stamp()
		if opts.CompletedAt != nil {
			ts = *opts.CompletedAt
		}
		t.CompletedAt = &ts
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if err := e.appendEvent(ctx, tx, "task.status_changed", opts.WorkspaceID, "task", t.ID, actorOrSystem(opts.ActorID), events.EventPayload{"from": from, "to": opts.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type UpdateTaskOptions struct {
	WorkspaceID        string
	TaskID             string
	Title              *string
	AssigneeRole       *string
	Instructions       *string
	IsRequired         *bool
	DueInDays          *int
	AttachmentsAllowed *bool
	Priority           *string
	AssigneeID         *string
	ClientNote         *string
	ActorID            string
}

// UpdateTask patches a task's editable fields. Changing due_in_days
// recomputes the due date anchored at the task's creation time, so the due
// date stays a pure function of its inputs.
func (e Engine) UpdateTask(ctx context.Context, opts UpdateTaskOptions) (domain.Task, error) {
	if opts.Title != nil && *opts.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: task title must not be empty", ErrValidation)
	}
	if opts.AssigneeRole != nil && !domain.ValidRole(*opts.AssigneeRole) {
		return domain.Task{}, fmt.Errorf("%w: assignee role %q is not one of advisor, staff, client", ErrValidation, *opts.AssigneeRole)
	}
	if opts.Priority != nil && !domain.ValidPriority(*opts.Priority) {
		return domain.Task{}, fmt.Errorf("%w: priority %q is not one of low, normal, high, urgent", ErrValidation, *opts.Priority)
	}
	if opts.DueInDays != nil && *opts.DueInDays < 0 {
		return domain.Task{}, fmt.Errorf("%w: due_in_days must not be negative", ErrValidation)
	}
	t, err := e.Repo.GetTask(ctx, opts.WorkspaceID, opts.TaskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.TaskID, err)
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.AssigneeRole != nil {
		t.AssigneeRole = *opts.AssigneeRole
	}
	if opts.Instructions != nil {
		t.Instructions = *opts.Instructions
	}
	if opts.IsRequired != nil {
		t.IsRequired = *opts.IsRequired
	}
	if opts.AttachmentsAllowed != nil {
		t.AttachmentsAllowed = *opts.AttachmentsAllowed
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	if opts.AssigneeID != nil {
		t.AssigneeID = opts.AssigneeID
	}
	if opts.ClientNote != nil {
		t.ClientNote = opts.ClientNote
	}
	if opts.DueInDays != nil {
		t.DueInDays = *opts.DueInDays
		created, err := time.Parse(time.RFC3339, t.CreatedAt)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s has malformed created_at %q", t.ID, t.CreatedAt)
		}
		t.DueDate = dueAt(created, t.DueInDays)
	}
	t.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if err := e.appendEvent(ctx, tx, "task.updated", opts.WorkspaceID, "task", t.ID, actorOrSystem(opts.ActorID), nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type TaskNoteOptions struct {
	WorkspaceID string
	TaskID      string
	Text        string
	AuthorID    string
}

// AppendTaskNote adds one entry to a task's note log.
func (e Engine) AppendTaskNote(ctx context.Context, opts TaskNoteOptions) (domain.TaskNote, error) {
	if opts.Text == "" {
		return domain.TaskNote{}, fmt.Errorf("%w: note text is required", ErrValidation)
	}
	if _, err := e.Repo.GetTask(ctx, opts.WorkspaceID, opts.TaskID); err != nil {
		return domain.TaskNote{}, fmt.Errorf("task %s: %w", opts.TaskID, err)
	}
	n := domain.TaskNote{
		ID:          newID(),
		WorkspaceID: opts.WorkspaceID,
		TaskID:      opts.TaskID,
		AuthorID:    actorOrSystem(opts.AuthorID),
		TS:          e.stamp(),
		Text:        opts.Text,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskNote{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskNoteTx(ctx, tx, n); err != nil {
		return domain.TaskNote{}, fmt.Errorf("insert note: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "task.note_added", opts.WorkspaceID, "task", opts.TaskID, n.AuthorID, nil); err != nil {
		return domain.TaskNote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskNote{}, err
	}
	return n, nil
}

type DeleteTaskOptions struct {
	WorkspaceID string
	TaskID      string
	ActorID     string
}

// DeleteTask removes a single task and its notes.
func (e Engine) DeleteTask(ctx context.Context, opts DeleteTaskOptions) error {
	t, err := e.Repo.GetTask(ctx, opts.WorkspaceID, opts.TaskID)
	if err != nil {
		return fmt.Errorf("task %s: %w", opts.TaskID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTaskTx(ctx, tx, opts.WorkspaceID, t.ID); err != nil {
		return fmt.Errorf("delete task %s: %w", t.ID, err)
	}
	if err := e.appendEvent(ctx, tx, "task.deleted", opts.WorkspaceID, "task", t.ID, actorOrSystem(opts.ActorID), events.EventPayload{"assignment_id": t.AssignmentID}); err != nil {
		return err
	}
	return tx.Commit()
}
