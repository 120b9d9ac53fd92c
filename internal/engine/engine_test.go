package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loandesk/internal/config"
	"loandesk/internal/db"
	"loandesk/internal/domain"
	"loandesk/internal/engine"
	"loandesk/internal/migrate"
	"loandesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.InitWorkspace(ctx, engine.InitWorkspaceOptions{ID: "ws-1", Name: "test", ActorID: "tester"}); err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func seedClient(t *testing.T, env testEnv, name string) domain.Client {
	t.Helper()
	c, err := env.Engine.CreateClient(env.Ctx, engine.CreateClientOptions{WorkspaceID: "ws-1", Name: name, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

func seedLoanType(t *testing.T, env testEnv, name string) domain.LoanType {
	t.Helper()
	lt, err := env.Engine.CreateLoanType(env.Ctx, engine.CreateLoanTypeOptions{WorkspaceID: "ws-1", Name: name, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create loan type: %v", err)
	}
	return lt
}

func seedTemplate(t *testing.T, env testEnv, title string, dueInDays, order int) domain.TaskTemplate {
	t.Helper()
	tt, err := env.Engine.CreateTaskTemplate(env.Ctx, engine.CreateTaskTemplateOptions{
		WorkspaceID:  "ws-1",
		Title:        title,
		AssigneeRole: "client",
		IsRequired:   true,
		DueInDays:    &dueInDays,
		DisplayOrder: &order,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tt
}

func link(t *testing.T, env testEnv, templateID, loanTypeID string) {
	t.Helper()
	_, err := env.Engine.LinkTemplate(env.Ctx, engine.LinkTemplateOptions{
		WorkspaceID: "ws-1", TemplateID: templateID, LoanTypeID: loanTypeID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("link template: %v", err)
	}
}

func TestAssignClonesLinkedTemplates(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	t1 := seedTemplate(t, env, "Collect payslips", 3, 1)
	t2 := seedTemplate(t, env, "Verify identity", 7, 2)
	t3 := seedTemplate(t, env, "Order valuation", 14, 3)
	link(t, env, t1.ID, lt.ID)
	link(t, env, t2.ID, lt.ID)
	link(t, env, t3.ID, lt.ID)

	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{
		WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.TasksCloned != 3 {
		t.Fatalf("tasks cloned = %d, want 3", res.TasksCloned)
	}
	if res.Assignment.CustomOrder != 1 {
		t.Fatalf("first assignment order = %d, want 1", res.Assignment.CustomOrder)
	}
	if res.Assignment.CustomName != nil {
		t.Fatalf("first assignment should have no custom name, got %q", *res.Assignment.CustomName)
	}
	if !res.Assignment.IsActive {
		t.Fatal("assignment should start active")
	}

	tasks, err := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("task count = %d, want 3", len(tasks))
	}
	wantTitles := []string{"Collect payslips", "Verify identity", "Order valuation"}
	wantDue := []string{"2024-01-04T00:00:00Z", "2024-01-08T00:00:00Z", "2024-01-15T00:00:00Z"}
	for i, task := range tasks {
		if task.Title != wantTitles[i] {
			t.Errorf("task %d title = %q, want %q", i, task.Title, wantTitles[i])
		}
		if task.Status != "pending" {
			t.Errorf("task %d status = %q, want pending", i, task.Status)
		}
		if task.DisplayOrder != i+1 {
			t.Errorf("task %d display order = %d, want %d", i, task.DisplayOrder, i+1)
		}
		if task.DueDate != wantDue[i] {
			t.Errorf("task %d due date = %q, want %q", i, task.DueDate, wantDue[i])
		}
		if task.TemplateID == nil {
			t.Errorf("task %d should reference its template", i)
		}
		if task.CompletedAt != nil {
			t.Errorf("task %d should not be completed", i)
		}
	}
}

func TestAssignKeepsTemplateOrderGaps(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	t1 := seedTemplate(t, env, "Collect payslips", 3, 5)
	t2 := seedTemplate(t, env, "Verify identity", 7, 9)
	link(t, env, t1.ID, lt.ID)
	link(t, env, t2.ID, lt.ID)

	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{
		WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	tasks, err := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("task count = %d, want 2", len(tasks))
	}
	// clones carry the template order verbatim, not a renumbered 1..N
	if tasks[0].DisplayOrder != 5 || tasks[1].DisplayOrder != 9 {
		t.Fatalf("cloned orders = %d, %d, want 5, 9", tasks[0].DisplayOrder, tasks[1].DisplayOrder)
	}

	adHoc, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "Chase missing payslip",
	})
	if err != nil {
		t.Fatal(err)
	}
	if adHoc.DisplayOrder != 10 {
		t.Fatalf("ad-hoc order = %d, want 10", adHoc.DisplayOrder)
	}
}

func TestAssignWithoutTemplates(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Bridging Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{
		WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.TasksCloned != 0 {
		t.Fatalf("tasks cloned = %d, want 0", res.TasksCloned)
	}
	if _, err := env.Engine.Repo.GetAssignment(env.Ctx, "ws-1", res.Assignment.ID); err != nil {
		t.Fatalf("assignment should exist: %v", err)
	}
}

func TestAssignDuplicateNameSynthesis(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")

	first, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Assignment.CustomName != nil {
		t.Fatalf("first assignment custom name = %q, want none", *first.Assignment.CustomName)
	}
	second, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Assignment.CustomName == nil || *second.Assignment.CustomName != "Home Loan #2" {
		t.Fatalf("second assignment custom name = %v, want Home Loan #2", second.Assignment.CustomName)
	}
	third, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatal(err)
	}
	if third.Assignment.CustomName == nil || *third.Assignment.CustomName != "Home Loan #3" {
		t.Fatalf("third assignment custom name = %v, want Home Loan #3", third.Assignment.CustomName)
	}
	if second.Assignment.CustomOrder != 2 || third.Assignment.CustomOrder != 3 {
		t.Fatalf("assignment orders = %d, %d, want 2, 3", second.Assignment.CustomOrder, third.Assignment.CustomOrder)
	}

	explicit, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{
		WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, CustomName: "Investment property", ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if explicit.Assignment.CustomName == nil || *explicit.Assignment.CustomName != "Investment property" {
		t.Fatalf("explicit custom name = %v, want Investment property", explicit.Assignment.CustomName)
	}
}

func TestAssignUnknownClientOrLoanType(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	if _, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: "nope", LoanTypeID: lt.ID}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown client: err = %v, want not found", err)
	}
	if _, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: "nope"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown loan type: err = %v, want not found", err)
	}
}

func TestRemoveAssignmentCascades(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	t1 := seedTemplate(t, env, "Collect payslips", 3, 1)
	t2 := seedTemplate(t, env, "Verify identity", 7, 2)
	link(t, env, t1.ID, lt.ID)
	link(t, env, t2.ID, lt.ID)

	first, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", first.Assignment.ID)
	if _, err := env.Engine.AppendTaskNote(env.Ctx, engine.TaskNoteOptions{WorkspaceID: "ws-1", TaskID: tasks[0].ID, Text: "called client", AuthorID: "advisor-1"}); err != nil {
		t.Fatalf("append note: %v", err)
	}

	deleted, err := env.Engine.RemoveAssignment(env.Ctx, engine.RemoveAssignmentOptions{WorkspaceID: "ws-1", AssignmentID: first.Assignment.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("tasks deleted = %d, want 2", deleted)
	}
	if _, err := env.Engine.Repo.GetAssignment(env.Ctx, "ws-1", first.Assignment.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("assignment should be gone, err = %v", err)
	}
	remaining, err := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", second.Assignment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("second assignment tasks = %d, want 2 untouched", len(remaining))
	}

	if _, err := env.Engine.RemoveAssignment(env.Ctx, engine.RemoveAssignmentOptions{WorkspaceID: "ws-1", AssignmentID: first.Assignment.ID}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second remove: err = %v, want not found", err)
	}
}

func TestTaskCompletionStamp(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "Upload bank statements", ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	task, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: task.ID, Status: "completed", ActorID: "client-1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedAt == nil || *task.CompletedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("completed_at = %v, want pinned clock", task.CompletedAt)
	}

	task, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: task.ID, Status: "in_progress", ActorID: "client-1"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if task.CompletedAt != nil {
		t.Fatalf("completed_at should clear on reopen, got %q", *task.CompletedAt)
	}

	supplied := "2024-01-02T09:30:00Z"
	task, err = env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: task.ID, Status: "completed", CompletedAt: &supplied, ActorID: "client-1"})
	if err != nil {
		t.Fatal(err)
	}
	if task.CompletedAt == nil || *task.CompletedAt != supplied {
		t.Fatalf("completed_at = %v, want %q", task.CompletedAt, supplied)
	}

	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: task.ID, Status: "done"}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("bad status: err = %v, want validation", err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: task.ID, Status: "skipped", CompletedAt: &supplied}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("completed_at on skipped: err = %v, want validation", err)
	}
}

func TestAdHocTaskAppendsToOrder(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	t1 := seedTemplate(t, env, "Collect payslips", 3, 1)
	t2 := seedTemplate(t, env, "Verify identity", 7, 2)
	link(t, env, t1.ID, lt.ID)
	link(t, env, t2.ID, lt.ID)
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}

	days := 2
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "Chase missing payslip", DueInDays: &days, ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.DisplayOrder != 3 {
		t.Fatalf("ad-hoc task order = %d, want 3", task.DisplayOrder)
	}
	if task.TemplateID != nil {
		t.Fatalf("ad-hoc task should carry no template, got %q", *task.TemplateID)
	}
	if task.DueDate != "2024-01-03T00:00:00Z" {
		t.Fatalf("ad-hoc due date = %q", task.DueDate)
	}
	if task.ClientID != c.ID {
		t.Fatalf("ad-hoc task client = %q, want %q", task.ClientID, c.ID)
	}
}

func TestTaskDefaultsFromConfig(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "Review file"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Priority != "normal" {
		t.Fatalf("default priority = %q, want normal", task.Priority)
	}
	if task.DueInDays != 7 {
		t.Fatalf("default due_in_days = %d, want 7", task.DueInDays)
	}
	if task.AssigneeRole != "client" {
		t.Fatalf("default assignee role = %q, want client", task.AssigneeRole)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "x", Priority: "asap"}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("bad priority: err = %v, want validation", err)
	}
}

func TestUpdateTaskDueInDaysAnchorsAtCreation(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	days := 3
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "Upload ID", DueInDays: &days})
	if err != nil {
		t.Fatal(err)
	}

	// later edit must still derive from creation time, not edit time
	*env.Clock = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	newDays := 10
	task, err = env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{WorkspaceID: "ws-1", TaskID: task.ID, DueInDays: &newDays, ActorID: "advisor-1"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.DueDate != "2024-01-11T00:00:00Z" {
		t.Fatalf("recomputed due date = %q, want 2024-01-11T00:00:00Z", task.DueDate)
	}
	if task.DueInDays != 10 {
		t.Fatalf("due_in_days = %d, want 10", task.DueInDays)
	}
	if task.UpdatedAt != "2024-01-10T00:00:00Z" {
		t.Fatalf("updated_at = %q", task.UpdatedAt)
	}
}

func TestReorderTasksTransactional(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	t1 := seedTemplate(t, env, "Collect payslips", 3, 1)
	t2 := seedTemplate(t, env, "Verify identity", 7, 2)
	link(t, env, t1.ID, lt.ID)
	link(t, env, t2.ID, lt.ID)
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)

	err = env.Engine.ReorderTasks(env.Ctx, engine.ReorderTasksOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID,
		Orders: []engine.OrderUpdate{
			{ID: tasks[0].ID, NewOrder: 2},
			{ID: tasks[1].ID, NewOrder: 1},
		},
		ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	swapped, _ := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)
	if swapped[0].ID != tasks[1].ID || swapped[1].ID != tasks[0].ID {
		t.Fatal("reorder did not swap tasks")
	}

	// one bad id fails the whole batch
	err = env.Engine.ReorderTasks(env.Ctx, engine.ReorderTasksOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID,
		Orders: []engine.OrderUpdate{
			{ID: tasks[0].ID, NewOrder: 1},
			{ID: "nope", NewOrder: 2},
		},
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bad batch: err = %v, want not found", err)
	}
	unchanged, _ := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)
	if unchanged[0].ID != tasks[1].ID {
		t.Fatal("failed batch should leave order untouched")
	}

	if err := env.Engine.ReorderTasks(env.Ctx, engine.ReorderTasksOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("empty batch: err = %v, want validation", err)
	}
}

func TestReorderAssignments(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	home := seedLoanType(t, env, "Home Loan")
	car := seedLoanType(t, env, "Car Loan")
	a1, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: home.ID})
	if err != nil {
		t.Fatal(err)
	}
	a2, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: car.ID})
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.ReorderAssignments(env.Ctx, engine.ReorderAssignmentsOptions{
		WorkspaceID: "ws-1", ClientID: c.ID,
		Orders: []engine.OrderUpdate{
			{ID: a1.Assignment.ID, NewOrder: 2},
			{ID: a2.Assignment.ID, NewOrder: 1},
		},
		ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	list, err := env.Engine.Repo.ListAssignmentsByClient(env.Ctx, "ws-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].ID != a2.Assignment.ID || list[1].ID != a1.Assignment.ID {
		t.Fatal("assignments not reordered")
	}
	if list[0].LoanTypeName != "Car Loan" {
		t.Fatalf("joined loan type name = %q, want Car Loan", list[0].LoanTypeName)
	}
}

func TestAssignmentStats(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}

	empty, err := env.Engine.AssignmentStats(env.Ctx, "ws-1", res.Assignment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if empty.TaskCount != 0 || empty.ProgressPercentage != 0 {
		t.Fatalf("empty stats = %+v, want zeros", empty)
	}

	var ids []string
	for _, title := range []string{"a", "b", "c", "d"} {
		task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: title})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: ids[0], Status: "completed"}); err != nil {
		t.Fatal(err)
	}
	stats, err := env.Engine.AssignmentStats(env.Ctx, "ws-1", res.Assignment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TaskCount != 4 || stats.CompletedTasks != 1 || stats.ProgressPercentage != 25 {
		t.Fatalf("stats = %+v, want 4/1/25", stats)
	}
}

func TestClientTaskStats(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}

	zero, err := env.Engine.ClientTaskStats(env.Ctx, "ws-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if zero.Total != 0 || zero.Overdue != 0 {
		t.Fatalf("empty stats = %+v, want zeros", zero)
	}

	mk := func(title, priority string, days int) domain.Task {
		task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
			WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: title, Priority: priority, DueInDays: &days,
		})
		if err != nil {
			t.Fatal(err)
		}
		return task
	}
	pendingSoon := mk("pending soon", "normal", 30)
	pendingLate := mk("pending late", "high", 1)
	working := mk("working", "urgent", 5)
	done := mk("done", "normal", 1)
	skipped := mk("skipped", "low", 1)
	_ = pendingSoon

	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: working.ID, Status: "in_progress"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: done.ID, Status: "completed"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, engine.TaskStatusOptions{WorkspaceID: "ws-1", TaskID: skipped.ID, Status: "skipped"}); err != nil {
		t.Fatal(err)
	}

	// a week later "pending late" is past due; completed and skipped tasks are
	// not overdue no matter their due dates
	*env.Clock = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	stats, err := env.Engine.ClientTaskStats(env.Ctx, "ws-1", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 5 {
		t.Fatalf("total = %d, want 5", stats.Total)
	}
	if stats.Pending != 2 || stats.InProgress != 1 || stats.Completed != 1 || stats.Skipped != 1 {
		t.Fatalf("status counts = %+v", stats)
	}
	if stats.Overdue != 1 {
		t.Fatalf("overdue = %d, want 1 (%s)", stats.Overdue, pendingLate.ID)
	}
	if stats.HighPriority != 1 || stats.Urgent != 1 {
		t.Fatalf("priority counts = %+v", stats)
	}
}

func TestTaskNotes(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, Title: "Upload ID"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.AppendTaskNote(env.Ctx, engine.TaskNoteOptions{WorkspaceID: "ws-1", TaskID: task.ID, Text: "", AuthorID: "advisor-1"}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("empty note: err = %v, want validation", err)
	}
	if _, err := env.Engine.AppendTaskNote(env.Ctx, engine.TaskNoteOptions{WorkspaceID: "ws-1", TaskID: task.ID, Text: "called client", AuthorID: "advisor-1"}); err != nil {
		t.Fatal(err)
	}
	*env.Clock = env.Clock.Add(time.Hour)
	if _, err := env.Engine.AppendTaskNote(env.Ctx, engine.TaskNoteOptions{WorkspaceID: "ws-1", TaskID: task.ID, Text: "docs received", AuthorID: "client-1"}); err != nil {
		t.Fatal(err)
	}
	notes, err := env.Engine.Repo.ListTaskNotes(env.Ctx, "ws-1", task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 {
		t.Fatalf("note count = %d, want 2", len(notes))
	}
	if notes[0].Text != "called client" || notes[1].Text != "docs received" {
		t.Fatalf("notes out of order: %q, %q", notes[0].Text, notes[1].Text)
	}
	if notes[1].AuthorID != "client-1" {
		t.Fatalf("note author = %q", notes[1].AuthorID)
	}
}

func TestLinkTemplateRules(t *testing.T) {
	env := newTestEnv(t)
	lt := seedLoanType(t, env, "Home Loan")
	tt := seedTemplate(t, env, "Collect payslips", 3, 1)
	link(t, env, tt.ID, lt.ID)

	_, err := env.Engine.LinkTemplate(env.Ctx, engine.LinkTemplateOptions{WorkspaceID: "ws-1", TemplateID: tt.ID, LoanTypeID: lt.ID})
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("duplicate link: err = %v, want conflict", err)
	}
	_, err = env.Engine.LinkTemplate(env.Ctx, engine.LinkTemplateOptions{WorkspaceID: "ws-1", TemplateID: "nope", LoanTypeID: lt.ID})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown template: err = %v, want not found", err)
	}
	if err := env.Engine.UnlinkTemplate(env.Ctx, engine.UnlinkTemplateOptions{WorkspaceID: "ws-1", TemplateID: tt.ID, LoanTypeID: lt.ID}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := env.Engine.UnlinkTemplate(env.Ctx, engine.UnlinkTemplateOptions{WorkspaceID: "ws-1", TemplateID: tt.ID, LoanTypeID: lt.ID}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second unlink: err = %v, want not found", err)
	}
}

func TestLinkAfterAssignDoesNotBackfill(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	t1 := seedTemplate(t, env, "Collect payslips", 3, 1)
	link(t, env, t1.ID, lt.ID)
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}

	t2 := seedTemplate(t, env, "Verify identity", 7, 2)
	link(t, env, t2.ID, lt.ID)

	tasks, err := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("existing assignment gained tasks: %d, want 1", len(tasks))
	}

	// a fresh assignment picks up both templates
	fresh, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	if fresh.TasksCloned != 2 {
		t.Fatalf("fresh assignment cloned %d, want 2", fresh.TasksCloned)
	}
}

func TestTemplateEditDoesNotTouchClones(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	tt := seedTemplate(t, env, "Collect payslips", 3, 1)
	link(t, env, tt.ID, lt.ID)
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}

	title := "Collect six months of payslips"
	if _, err := env.Engine.UpdateTaskTemplate(env.Ctx, engine.UpdateTaskTemplateOptions{
		WorkspaceID: "ws-1", TemplateID: tt.ID, Patch: repo.TaskTemplateUpdate{Title: &title}, ActorID: "advisor-1",
	}); err != nil {
		t.Fatal(err)
	}
	tasks, _ := env.Engine.Repo.ListTasksByAssignment(env.Ctx, "ws-1", res.Assignment.ID)
	if tasks[0].Title != "Collect payslips" {
		t.Fatalf("cloned task title changed to %q", tasks[0].Title)
	}
}

func TestAssignmentUpdate(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID})
	if err != nil {
		t.Fatal(err)
	}
	name := "Primary residence"
	inactive := false
	a, err := env.Engine.UpdateAssignment(env.Ctx, engine.UpdateAssignmentOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, CustomName: &name, IsActive: &inactive, ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if a.CustomName == nil || *a.CustomName != "Primary residence" {
		t.Fatalf("custom name = %v", a.CustomName)
	}
	if a.IsActive {
		t.Fatal("assignment should be inactive")
	}

	order := 7
	a, err = env.Engine.UpdateAssignment(env.Ctx, engine.UpdateAssignmentOptions{
		WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, CustomOrder: &order, ActorID: "advisor-1",
	})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}
	if a.CustomOrder != 7 {
		t.Fatalf("custom order = %d, want 7", a.CustomOrder)
	}
	bad := 0
	if _, err := env.Engine.UpdateAssignment(env.Ctx, engine.UpdateAssignmentOptions{WorkspaceID: "ws-1", AssignmentID: res.Assignment.ID, CustomOrder: &bad}); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("zero order: err = %v, want validation", err)
	}

	if _, err := env.Engine.UpdateAssignment(env.Ctx, engine.UpdateAssignmentOptions{WorkspaceID: "ws-1", AssignmentID: "nope", CustomName: &name}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown assignment: err = %v, want not found", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	c := seedClient(t, env, "Acme Holdings")
	lt := seedLoanType(t, env, "Home Loan")
	res, err := env.Engine.AssignLoanType(env.Ctx, engine.AssignOptions{WorkspaceID: "ws-1", ClientID: c.ID, LoanTypeID: lt.ID, ActorID: "advisor-1"})
	if err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "ws-1", "assignment.created", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("assignment.created events = %d, want 1", len(evts))
	}
	if evts[0].EntityID != res.Assignment.ID || evts[0].ActorID != "advisor-1" {
		t.Fatalf("event = %+v", evts[0])
	}
}
