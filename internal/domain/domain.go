package domain

// Assignee roles for task templates and tasks.
const (
	RoleAdvisor = "advisor"
	RoleStaff   = "staff"
	RoleClient  = "client"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task statuses. Overdue is derived from due_date at read time and never
// stored.
const (
	StatusPending        = "pending"
	StatusInProgress     = "in_progress"
	StatusReadyForReview = "ready_for_review"
	StatusCompleted      = "completed"
	StatusSkipped        = "skipped"
)

func ValidRole(r string) bool {
	switch r {
	case RoleAdvisor, RoleStaff, RoleClient:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ValidTaskStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReadyForReview, StatusCompleted, StatusSkipped:
		return true
	}
	return false
}

type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,suspended"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Client struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Status      string `json:"status" enum:"active,archived"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// LoanType is a reusable named workflow for a category of loan.
type LoanType struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Stages      []string `json:"stages,omitempty"`
	Status      string   `json:"status" enum:"active,inactive"`
	MinAmount   *float64 `json:"min_amount,omitempty"`
	MaxAmount   *float64 `json:"max_amount,omitempty"`
	MinRate     *float64 `json:"min_rate,omitempty"`
	MaxRate     *float64 `json:"max_rate,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// TaskTemplate is a reusable task definition linked to loan types through
// template associations.
type TaskTemplate struct {
	ID                 string `json:"id"`
	WorkspaceID        string `json:"workspace_id"`
	Title              string `json:"title"`
	AssigneeRole       string `json:"assignee_role" enum:"advisor,staff,client"`
	Instructions       string `json:"instructions,omitempty"`
	IsRequired         bool   `json:"is_required"`
	DueInDays          int    `json:"due_in_days"`
	AttachmentsAllowed bool   `json:"attachments_allowed"`
	Priority           string `json:"priority" enum:"low,normal,high,urgent"`
	DisplayOrder       int    `json:"display_order"`
	CreatedAt          string `json:"created_at" format:"date-time"`
	UpdatedAt          string `json:"updated_at" format:"date-time"`
}

// TemplateAssociation links a task template to one loan type. Pure join row.
type TemplateAssociation struct {
	ID             string `json:"id"`
	WorkspaceID    string `json:"workspace_id"`
	TaskTemplateID string `json:"task_template_id"`
	LoanTypeID     string `json:"loan_type_id"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Assignment is one concrete assignment of a loan type to one client. A client
// may hold several assignments of the same loan type, told apart by
// CustomName.
type Assignment struct {
	ID           string  `json:"id"`
	WorkspaceID  string  `json:"workspace_id"`
	ClientID     string  `json:"client_id"`
	LoanTypeID   string  `json:"loan_type_id"`
	CustomOrder  int     `json:"custom_order"`
	IsActive     bool    `json:"is_active"`
	AssignedAt   string  `json:"assigned_at" format:"date-time"`
	AssignedBy   string  `json:"assigned_by"`
	CustomName   *string `json:"custom_name,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	LoanTypeName string  `json:"loan_type_name,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Task is one mutable task instance owned by an assignment. TemplateID is nil
// for ad-hoc tasks created directly against the assignment.
type Task struct {
	ID                 string  `json:"id"`
	WorkspaceID        string  `json:"workspace_id"`
	ClientID           string  `json:"client_id"`
	AssignmentID       string  `json:"assignment_id"`
	TemplateID         *string `json:"template_id,omitempty"`
	Title              string  `json:"title"`
	AssigneeRole       string  `json:"assignee_role" enum:"advisor,staff,client"`
	Instructions       string  `json:"instructions,omitempty"`
	IsRequired         bool    `json:"is_required"`
	DueInDays          int     `json:"due_in_days"`
	AttachmentsAllowed bool    `json:"attachments_allowed"`
	Priority           string  `json:"priority" enum:"low,normal,high,urgent"`
	DisplayOrder       int     `json:"display_order"`
	Status             string  `json:"status" enum:"pending,in_progress,ready_for_review,completed,skipped"`
	DueDate            string  `json:"due_date" format:"date-time"`
	CompletedAt        *string `json:"completed_at,omitempty" format:"date-time"`
	AssigneeID         *string `json:"assignee_id,omitempty"`
	ClientNote         *string `json:"client_note,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// TaskNote is one entry in a task's append-only note log.
type TaskNote struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	TaskID      string `json:"task_id"`
	AuthorID    string `json:"author_id"`
	TS          string `json:"ts" format:"date-time"`
	Text        string `json:"text"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AssignmentStats is the per-assignment progress rollup.
type AssignmentStats struct {
	AssignmentID       string `json:"assignment_id"`
	TaskCount          int    `json:"task_count"`
	CompletedTasks     int    `json:"completed_tasks"`
	ProgressPercentage int    `json:"progress_percentage"`
}

// ClientTaskStats is the per-client rollup across all assignments.
type ClientTaskStats struct {
	ClientID       string `json:"client_id"`
	Total          int    `json:"total"`
	Pending        int    `json:"pending"`
	InProgress     int    `json:"in_progress"`
	ReadyForReview int    `json:"ready_for_review"`
	Completed      int    `json:"completed"`
	Skipped        int    `json:"skipped"`
	Overdue        int    `json:"overdue"`
	HighPriority   int    `json:"high_priority"`
	Urgent         int    `json:"urgent"`
}
