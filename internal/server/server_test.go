package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true, EnableDevLogin: true},
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

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func register(t *testing.T, srv *testServer, actor, role string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/me/register", map[string]any{
		"role": role,
	}, asActor(actor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s as %s: %d %s", actor, role, res.StatusCode, string(data))
	}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error body %q: %v", string(data), err)
	}
	return env.Error.Code
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestRegisterIsRequiredBeforeActing(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "No role yet",
		"description": "d",
		"deadline":    "2030-01-01T00:00:00Z",
		"budget":      100,
	}, asActor("newcomer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "role_not_set" {
		t.Fatalf("expected role_not_set, got %s", code)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	register(t, srv, "c1", "client")
	register(t, srv, "f1", "freelancer")
	register(t, srv, "f2", "freelancer")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Translate brochure",
		"description": "EN to FR, 12 pages",
		"deadline":    "2030-01-01T00:00:00Z",
		"budget":      20000,
	}, asActor("c1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != "draft" {
		t.Fatalf("expected draft, got %s", task.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/publish", nil, asActor("c1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/applications", map[string]any{
		"message": "native speaker",
	}, asActor("f1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apply f1: %d %s", res.StatusCode, string(data))
	}
	var app ApplicationResponse
	if err := json.Unmarshal(data, &app); err != nil {
		t.Fatalf("unmarshal application: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/applications", map[string]any{}, asActor("f2"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apply f2: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/applications/"+app.ID+"/accept", nil, asActor("c1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, asActor("c1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
	var assigned TaskResponse
	_ = json.Unmarshal(data, &assigned)
	if assigned.Status != "assigned" || assigned.AssignedFreelancerID == nil || *assigned.AssignedFreelancerID != "f1" {
		t.Fatalf("task not assigned to f1: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/start", nil, asActor("f1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/submit", map[string]any{
		"deliverable": map[string]any{"url": "https://files.example/translation.pdf"},
	}, asActor("f1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/complete", nil, asActor("c1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var completed TaskResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != "completed" {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=payment.release_requested", nil, asActor("c1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events paginatedEvents
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) != 1 {
		t.Fatalf("expected one payment release event, got %d", len(events.Items))
	}
}

func TestDenialsCarryStructuredReasons(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	register(t, srv, "c1", "client")
	register(t, srv, "c2", "client")
	register(t, srv, "f1", "freelancer")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Guarded task",
		"description": "d",
		"deadline":    "2030-01-01T00:00:00Z",
		"budget":      100,
	}, asActor("c1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)

	// Wrong role.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/publish", nil, asActor("f1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "forbidden" || env.Error.Details["reason"] != "wrong_role" {
		t.Fatalf("unexpected deny envelope: %s", string(data))
	}

	// Right role, wrong owner.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/publish", nil, asActor("c2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &env)
	if env.Error.Details["reason"] != "not_owner" {
		t.Fatalf("unexpected deny envelope: %s", string(data))
	}

	// Applying to a draft is a state conflict, not a permission problem.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/applications", map[string]any{}, asActor("f1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "task_not_open" {
		t.Fatalf("expected task_not_open, got %s", code)
	}
}

func TestValidationErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	register(t, srv, "c1", "client")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Past deadline",
		"description": "d",
		"deadline":    "2020-01-01T00:00:00Z",
		"budget":      100,
	}, asActor("c1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "validation_failed" || env.Error.Details["field"] != "deadline" {
		t.Fatalf("unexpected validation envelope: %s", string(data))
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"account_id": "c1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("no token in %s (%v)", string(data), err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/me/register", map[string]any{
		"role": "client",
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register with token: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me PrincipalResponse
	_ = json.Unmarshal(data, &me)
	if me.ID != "c1" || me.Role != "client" {
		t.Fatalf("unexpected principal: %s", string(data))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	register(t, srv, "c1", "client")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"name": "ci",
	}, asActor("c1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil || created.Key == "" {
		t.Fatalf("no raw key in %s (%v)", string(data), err)
	}

	// The raw key authenticates; the listing never repeats it.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/apikeys", nil, asActor("c1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", res.StatusCode, string(data))
	}
	var listed []APIKeyResponse
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal keys: %v", err)
	}
	if len(listed) != 1 || listed[0].Key != "" {
		t.Fatalf("listing leaked key material: %s", string(data))
	}
}

func TestTaskListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	register(t, srv, "c1", "client")

	for i := 0; i < 5; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
			"title":       "Task",
			"description": "d",
			"deadline":    "2030-01-01T00:00:00Z",
			"budget":      100,
		}, asActor("c1"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, res.StatusCode, string(data))
		}
	}

	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 4; page++ {
		addr := srv.URL + "/v0/tasks?limit=2"
		if cursor != "" {
			addr += "&cursor=" + url.QueryEscape(cursor)
		}
		res, data := doJSON(t, client, http.MethodGet, addr, nil, asActor("c1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list: %d %s", res.StatusCode, string(data))
		}
		var pageBody struct {
			Items      []TaskResponse `json:"items"`
			NextCursor string         `json:"next_cursor"`
		}
		if err := json.Unmarshal(data, &pageBody); err != nil {
			t.Fatalf("unmarshal page: %v", err)
		}
		for _, item := range pageBody.Items {
			if seen[item.ID] {
				t.Fatalf("task %s repeated across pages", item.ID)
			}
			seen[item.ID] = true
		}
		if pageBody.NextCursor == "" {
			break
		}
		cursor = pageBody.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("paged %d distinct tasks, want 5", len(seen))
	}
}
