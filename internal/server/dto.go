package server

import (
	"fmt"
	"time"

	"loandesk/internal/domain"
	"loandesk/internal/engine"
)

type CreateClientRequest struct {
	Name  string `json:"name" example:"Jordan Avery"`
	Email string `json:"email,omitempty" example:"jordan@example.com"`
	Phone string `json:"phone,omitempty"`
}

type UpdateClientRequest struct {
	Name   *string `json:"name,omitempty"`
	Email  *string `json:"email,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Status *string `json:"status,omitempty" enum:"active,archived"`
}

type CreateLoanTypeRequest struct {
	Name        string   `json:"name" example:"Home Loan"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty" example:"residential"`
	Stages      []string `json:"stages,omitempty"`
	MinAmount   *float64 `json:"min_amount,omitempty"`
	MaxAmount   *float64 `json:"max_amount,omitempty"`
	MinRate     *float64 `json:"min_rate,omitempty"`
	MaxRate     *float64 `json:"max_rate,omitempty"`
}

type UpdateLoanTypeRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Stages      []string `json:"stages,omitempty"`
	Status      *string  `json:"status,omitempty" enum:"active,inactive"`
	MinAmount   *float64 `json:"min_amount,omitempty"`
	MaxAmount   *float64 `json:"max_amount,omitempty"`
	MinRate     *float64 `json:"min_rate,omitempty"`
	MaxRate     *float64 `json:"max_rate,omitempty"`
}

type CreateTaskTemplateRequest struct {
	Title              string `json:"title" example:"Collect payslips"`
	AssigneeRole       string `json:"assignee_role,omitempty" enum:"advisor,staff,client"`
	Instructions       string `json:"instructions,omitempty"`
	IsRequired         bool   `json:"is_required,omitempty"`
	DueInDays          *int   `json:"due_in_days,omitempty"`
	AttachmentsAllowed bool   `json:"attachments_allowed,omitempty"`
	Priority           string `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	DisplayOrder       *int   `json:"display_order,omitempty"`
}

type UpdateTaskTemplateRequest struct {
	Title              *string `json:"title,omitempty"`
	AssigneeRole       *string `json:"assignee_role,omitempty" enum:"advisor,staff,client"`
	Instructions       *string `json:"instructions,omitempty"`
	IsRequired         *bool   `json:"is_required,omitempty"`
	DueInDays          *int    `json:"due_in_days,omitempty"`
	AttachmentsAllowed *bool   `json:"attachments_allowed,omitempty"`
	Priority           *string `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	DisplayOrder       *int    `json:"display_order,omitempty"`
}

type AssignLoanTypeRequest struct {
	LoanTypeID string `json:"loan_type_id"`
	CustomName string `json:"custom_name,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type UpdateAssignmentRequest struct {
	CustomName  *string `json:"custom_name,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	CustomOrder *int    `json:"custom_order,omitempty" minimum:"1"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type ReorderRequest struct {
	Orders []engine.OrderUpdate `json:"orders"`
}

type CreateTaskRequest struct {
	Title              string `json:"title" example:"Chase missing payslip"`
	AssigneeRole       string `json:"assignee_role,omitempty" enum:"advisor,staff,client"`
	Instructions       string `json:"instructions,omitempty"`
	IsRequired         bool   `json:"is_required,omitempty"`
	DueInDays          *int   `json:"due_in_days,omitempty"`
	AttachmentsAllowed bool   `json:"attachments_allowed,omitempty"`
	Priority           string `json:"priority,omitempty" enum:"low,normal,high,urgent"`
}

type UpdateTaskRequest struct {
	Title              *string `json:"title,omitempty"`
	AssigneeRole       *string `json:"assignee_role,omitempty" enum:"advisor,staff,client"`
	Instructions       *string `json:"instructions,omitempty"`
	IsRequired         *bool   `json:"is_required,omitempty"`
	DueInDays          *int    `json:"due_in_days,omitempty"`
	AttachmentsAllowed *bool   `json:"attachments_allowed,omitempty"`
	Priority           *string `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	AssigneeID         *string `json:"assignee_id,omitempty"`
	ClientNote         *string `json:"client_note,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status      string  `json:"status" enum:"pending,in_progress,ready_for_review,completed,skipped"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type CreateTaskNoteRequest struct {
	Text string `json:"text"`
}

// Thin wrappers keep the wire shapes decoupled from the domain structs.
type WorkspaceBody struct {
	domain.Workspace
}

type ClientBody struct {
	domain.Client
}

type LoanTypeBody struct {
	domain.LoanType
}

type TaskTemplateBody struct {
	domain.TaskTemplate
}

type AssociationBody struct {
	domain.TemplateAssociation
}

type TaskNoteBody struct {
	domain.TaskNote
}

type EventBody struct {
	domain.Event
}

type AssignmentStatsBody struct {
	domain.AssignmentStats
}

type ClientTaskStatsBody struct {
	domain.ClientTaskStats
}

// AssignmentResponse carries the assignment row with its joined loan type name.
type AssignmentResponse struct {
	domain.Assignment
}

type AssignResultResponse struct {
	Assignment  AssignmentResponse `json:"assignment"`
	TasksCloned int                `json:"tasks_cloned"`
	Message     string             `json:"message"`
}

func assignMessage(res engine.AssignResult) string {
	name := res.Assignment.LoanTypeName
	if res.Assignment.CustomName != nil {
		name = *res.Assignment.CustomName
	}
	return fmt.Sprintf("assigned %s; %d tasks created", name, res.TasksCloned)
}

type RemoveAssignmentResponse struct {
	TasksDeleted int `json:"tasks_deleted"`
}

// TaskResponse is the task row plus the derived overdue flag.
type TaskResponse struct {
	domain.Task
	IsOverdue bool `json:"is_overdue"`
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse{Assignment: a}
}

func mapAssignments(items []domain.Assignment) []AssignmentResponse {
	res := make([]AssignmentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, assignmentResponse(a))
	}
	return res
}

func taskResponse(t domain.Task, now time.Time) TaskResponse {
	return TaskResponse{Task: t, IsOverdue: engine.Overdue(t, now)}
}

func mapTasks(items []domain.Task, now time.Time) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t, now))
	}
	return res
}
