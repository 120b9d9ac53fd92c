package engine

import (
	"context"
	"fmt"
	"math"

	"loandesk/internal/domain"
)

// AssignmentStats rolls up task progress for one assignment. An assignment
// with no tasks reports zero progress.
func (e Engine) AssignmentStats(ctx context.Context, workspaceID, assignmentID string) (domain.AssignmentStats, error) {
	a, err := e.Repo.GetAssignment(ctx, workspaceID, assignmentID)
	if err != nil {
		return domain.AssignmentStats{}, fmt.Errorf("assignment %s: %w", assignmentID, err)
	}
	tasks, err := e.Repo.ListTasksByAssignment(ctx, workspaceID, a.ID)
	if err != nil {
		return domain.AssignmentStats{}, err
	}
	stats := domain.AssignmentStats{AssignmentID: a.ID, TaskCount: len(tasks)}
	for _, t := range tasks {
		if t.Status == domain.StatusCompleted {
			stats.CompletedTasks++
		}
	}
	if stats.TaskCount > 0 {
		stats.ProgressPercentage = int(math.Round(100 * float64(stats.CompletedTasks) / float64(stats.TaskCount)))
	}
	return stats, nil
}

// ClientTaskStats rolls up status, overdue and priority counts across every
// task the client holds. Overdue is derived against the current clock and is
// disjoint from the status counts only in the sense that an overdue task is
// still counted as pending.
func (e Engine) ClientTaskStats(ctx context.Context, workspaceID, clientID string) (domain.ClientTaskStats, error) {
	if _, err := e.Repo.GetClient(ctx, workspaceID, clientID); err != nil {
		return domain.ClientTaskStats{}, fmt.Errorf("client %s: %w", clientID, err)
	}
	tasks, err := e.Repo.ListTasksByClient(ctx, workspaceID, clientID)
	if err != nil {
		return domain.ClientTaskStats{}, err
	}
	now := e.now()
	stats := domain.ClientTaskStats{ClientID: clientID, Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusInProgress:
			stats.InProgress++
		case domain.StatusReadyForReview:
			stats.ReadyForReview++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusSkipped:
			stats.Skipped++
		}
		if Overdue(t, now) {
			stats.Overdue++
		}
		switch t.Priority {
		case domain.PriorityHigh:
			stats.HighPriority++
		case domain.PriorityUrgent:
			stats.Urgent++
		}
	}
	return stats, nil
}
