package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"loandesk/internal/config"
	"loandesk/internal/db"
	"loandesk/internal/domain"
	"loandesk/internal/engine"
	"loandesk/internal/migrate"
	"loandesk/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("ws-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := e.InitWorkspace(context.Background(), engine.InitWorkspaceOptions{ID: "ws-1", Name: "test", ActorID: "tester"}); err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createEntity(t *testing.T, srv *testServer, path string, body any) map[string]any {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+path, body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("POST %s status %d: %s", path, res.StatusCode, string(data))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s response: %v", path, err)
	}
	return out
}

func TestAssignmentFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	c := createEntity(t, srv, "/v1/clients", map[string]any{"name": "Jordan Avery", "email": "jordan@example.com"})
	clientID := c["id"].(string)
	lt := createEntity(t, srv, "/v1/loan-types", map[string]any{"name": "Home Loan", "category": "residential"})
	loanTypeID := lt["id"].(string)
	t1 := createEntity(t, srv, "/v1/task-templates", map[string]any{"title": "Collect payslips", "due_in_days": 3, "display_order": 1})
	t2 := createEntity(t, srv, "/v1/task-templates", map[string]any{"title": "Verify identity", "due_in_days": 7, "display_order": 2})

	for _, tmpl := range []map[string]any{t1, t2} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/loan-types/"+loanTypeID+"/templates/"+tmpl["id"].(string), nil, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("link status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/clients/"+clientID+"/assignments", map[string]any{"loan_type_id": loanTypeID}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var assigned struct {
		Assignment  domain.Assignment `json:"assignment"`
		TasksCloned int               `json:"tasks_cloned"`
		Message     string            `json:"message"`
	}
	if err := json.Unmarshal(data, &assigned); err != nil {
		t.Fatalf("unmarshal assignment: %v", err)
	}
	if assigned.TasksCloned != 2 {
		t.Fatalf("tasks_cloned = %d, want 2", assigned.TasksCloned)
	}
	if assigned.Message != "assigned Home Loan; 2 tasks created" {
		t.Fatalf("message = %q", assigned.Message)
	}
	assignmentID := assigned.Assignment.ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/assignments/"+assignmentID+"/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []TaskResponse
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("task count = %d, want 2", len(tasks))
	}
	if tasks[0].Title != "Collect payslips" || tasks[0].Status != "pending" {
		t.Fatalf("first task = %+v", tasks[0])
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+tasks[0].ID+"/status", map[string]any{"status": "completed"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed TaskResponse
	_ = json.Unmarshal(data, &completed)
	if completed.CompletedAt == nil {
		t.Fatal("completed task should carry completed_at")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/assignments/"+assignmentID+"/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats domain.AssignmentStats
	_ = json.Unmarshal(data, &stats)
	if stats.TaskCount != 2 || stats.CompletedTasks != 1 || stats.ProgressPercentage != 50 {
		t.Fatalf("stats = %+v, want 2/1/50", stats)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/assignments/"+assignmentID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove status %d: %s", res.StatusCode, string(data))
	}
	var removed RemoveAssignmentResponse
	_ = json.Unmarshal(data, &removed)
	if removed.TasksDeleted != 2 {
		t.Fatalf("tasks_deleted = %d, want 2", removed.TasksDeleted)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+tasks[0].ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cascaded task status %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/clients/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q, want not_found", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/clients", map[string]any{"email": "x@example.com"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing name status %d: %s", res.StatusCode, string(data))
	}

	c := createEntity(t, srv, "/v1/clients", map[string]any{"name": "Jordan Avery"})
	lt := createEntity(t, srv, "/v1/loan-types", map[string]any{"name": "Home Loan"})
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/clients/"+c["id"].(string)+"/assignments", map[string]any{"loan_type_id": lt["id"].(string)}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var assigned struct {
		Assignment domain.Assignment `json:"assignment"`
	}
	_ = json.Unmarshal(data, &assigned)
	task := createEntity(t, srv, "/v1/assignments/"+assigned.Assignment.ID+"/tasks", map[string]any{"title": "Upload ID"})
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task["id"].(string)+"/status", map[string]any{"status": "archived"}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity && res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status code %d: %s", res.StatusCode, string(data))
	}

	tmpl := createEntity(t, srv, "/v1/task-templates", map[string]any{"title": "Collect payslips"})
	linkPath := srv.URL + "/v1/loan-types/" + lt["id"].(string) + "/templates/" + tmpl["id"].(string)
	if res, data = doJSON(t, client, http.MethodPost, linkPath, nil, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("link status %d: %s", res.StatusCode, string(data))
	}
	if res, data = doJSON(t, client, http.MethodPost, linkPath, nil, nil); res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate link status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/clients", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d, want 401", res.StatusCode)
	}

	// health is open
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/health", nil)
	res, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}

	key := "ldk_test_key"
	err = srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "k1",
		ActorID:   "advisor-1",
		Name:      "test",
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/clients", nil)
	req.Header.Set("X-Api-Key", key)
	res, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key status %d, want 200", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/clients", nil)
	req.Header.Set("X-Api-Key", "wrong")
	res, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key status %d, want 401", res.StatusCode)
	}
}
