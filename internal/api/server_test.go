package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/audit"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/cache"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/engine"
	"taskgraph/pkg/report"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

type testEnv struct {
	srv                 *Server
	bus                 *audit.Bus
	admin, manager, dev string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	actors := actor.NewMemStore()
	reg := func(name string, r actor.Role) string {
		a, err := actors.Register(ctx, actor.TypeHuman, name, name+"@example.com", r)
		if err != nil {
			t.Fatal(err)
		}
		return a.ID
	}
	env := &testEnv{
		bus:     audit.NewBus(),
		admin:   reg("admin", actor.RoleAdmin),
		manager: reg("manager", actor.RoleManager),
		dev:     reg("dev", actor.RoleDeveloper),
	}
	cascade, err := actor.RegisterCascade(ctx, actors, "cascade")
	if err != nil {
		t.Fatal(err)
	}
	runner := store.NewMemory()
	coord := cache.NewCoordinator(cache.NewMemory(), cache.DefaultTTLs)
	guard := authz.NewGuard(authz.NewTableProvider(authz.DefaultTable, actors))
	cfg := engine.Config{CascadeActorID: cascade.ID, RetryBaseDelay: time.Millisecond}
	eng := engine.New(runner, guard, coord, actors, cfg, env.bus)
	env.srv = New(eng, report.New(runner, coord), actors, guard, env.bus)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, who, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if who != "" {
		req.Header.Set(ActorHeader, who)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createTask(t *testing.T, title string) task.Task {
	t.Helper()
	body := fmt.Sprintf(`{"title":%q,"description":"d","type":"Feature","due_date":"2026-11-01","assigned_to":%q}`, title, e.dev)
	rec := e.do(t, "POST", "/api/tasks", e.manager, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var out task.Task
	json.NewDecoder(rec.Body).Decode(&out)
	return out
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{authz.ErrUnauthorized, 403},
		{fmt.Errorf("task 3: %w", task.ErrNotFound), 404},
		{dependency.ErrNotFound, 404},
		{dependency.ErrCycleDetected, 409},
		{dependency.ErrInvalidEdge, 422},
		{task.ErrInvalid, 422},
		{store.ErrConflict, 503},
		{engine.ErrPropagationLimit, 500},
		{errors.New("boom"), 500},
	}
	for _, c := range cases {
		if got := statusOf(c.err); got != c.want {
			t.Errorf("%v: expected %d, got %d", c.err, c.want, got)
		}
	}
}

func TestMissingActor(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, "GET", "/api/tasks", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, "GET", "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")

	rec := env.do(t, "POST", fmt.Sprintf("/api/tasks/%d/dependencies", a.ID), env.manager, fmt.Sprintf(`{"depends_on_id":%d}`, b.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add dependency: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var out engine.Outcome
	json.NewDecoder(rec.Body).Decode(&out)
	if out.Task.Status != task.StatusBlocked {
		t.Errorf("expected Blocked, got %s", out.Task.Status)
	}

	rec = env.do(t, "PUT", fmt.Sprintf("/api/tasks/%d/status", a.ID), env.dev, `{"status":"In_Progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	out = engine.Outcome{}
	json.NewDecoder(rec.Body).Decode(&out)
	if out.Records[0].New != task.StatusBlocked || out.Records[0].Requested != task.StatusInProgress {
		t.Errorf("expected coerced record, got %+v", out.Records[0])
	}

	rec = env.do(t, "PUT", fmt.Sprintf("/api/tasks/%d/status", b.ID), env.dev, `{"status":"Completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, "GET", fmt.Sprintf("/api/tasks/%d", a.ID), env.dev, "")
	var view engine.TaskView
	json.NewDecoder(rec.Body).Decode(&view)
	if view.Task.Status != task.StatusOpen || len(view.Edges) != 1 {
		t.Errorf("expected Open with one dependency, got %s %+v", view.Task.Status, view.Edges)
	}

	rec = env.do(t, "GET", fmt.Sprintf("/api/tasks/%d/history", a.ID), env.dev, "")
	var history []audit.Record
	json.NewDecoder(rec.Body).Decode(&history)
	if len(history) != 3 {
		t.Errorf("expected 3 history records, got %d", len(history))
	}

	rec = env.do(t, "DELETE", fmt.Sprintf("/api/tasks/%d/dependencies/%d", a.ID, b.ID), env.manager, "")
	if rec.Code != http.StatusOK {
		t.Errorf("remove dependency: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, "DELETE", fmt.Sprintf("/api/tasks/%d/dependencies/%d", a.ID, b.ID), env.manager, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("remove missing dependency: expected 404, got %d", rec.Code)
	}
}

func TestDependencyErrors(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	path := func(id int64) string { return fmt.Sprintf("/api/tasks/%d/dependencies", id) }

	if rec := env.do(t, "POST", path(a.ID), env.manager, fmt.Sprintf(`{"depends_on_id":%d}`, a.ID)); rec.Code != 422 {
		t.Errorf("self edge: expected 422, got %d", rec.Code)
	}
	env.do(t, "POST", path(a.ID), env.manager, fmt.Sprintf(`{"depends_on_id":%d}`, b.ID))
	if rec := env.do(t, "POST", path(b.ID), env.manager, fmt.Sprintf(`{"depends_on_id":%d}`, a.ID)); rec.Code != 409 {
		t.Errorf("cycle: expected 409, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", path(a.ID), env.dev, fmt.Sprintf(`{"depends_on_id":%d}`, b.ID)); rec.Code != 403 {
		t.Errorf("developer: expected 403, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", path(a.ID), env.manager, `{}`); rec.Code != 400 {
		t.Errorf("missing id: expected 400, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", path(a.ID), env.manager, `{"depends_on_id":999}`); rec.Code != 404 {
		t.Errorf("unknown task: expected 404, got %d", rec.Code)
	}
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	b := env.createTask(t, "b")
	env.createTask(t, "c")
	env.do(t, "POST", fmt.Sprintf("/api/tasks/%d/dependencies", a.ID), env.manager, fmt.Sprintf(`{"depends_on_id":%d}`, b.ID))

	list := func(query string) task.Page {
		t.Helper()
		rec := env.do(t, "GET", "/api/tasks?"+query, env.admin, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", query, rec.Code, rec.Body)
		}
		var p task.Page
		json.NewDecoder(rec.Body).Decode(&p)
		return p
	}
	if p := list("status=Blocked"); p.Total != 1 || p.Tasks[0].ID != a.ID {
		t.Errorf("status filter: got %+v", p)
	}
	if p := list(fmt.Sprintf("depends_on=%d", b.ID)); p.Total != 1 || p.Tasks[0].ID != a.ID {
		t.Errorf("depends_on filter: got %+v", p)
	}
	if p := list("depends_on=null"); p.Total != 2 {
		t.Errorf("depends_on=null: expected 2, got %d", p.Total)
	}
	if p := list("per_page=2&page=2"); p.Total != 3 || len(p.Tasks) != 1 {
		t.Errorf("paging: got %+v", p)
	}
	if rec := env.do(t, "GET", "/api/tasks?status=Done", env.admin, ""); rec.Code != 422 {
		t.Errorf("bad status: expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/tasks/mine", env.dev, ""); rec.Code != http.StatusOK {
		t.Errorf("mine: expected 200, got %d", rec.Code)
	}
}

func TestDeleteRestore(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	path := fmt.Sprintf("/api/tasks/%d", a.ID)

	if rec := env.do(t, "DELETE", path, env.manager, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, "GET", path, env.admin, ""); rec.Code != http.StatusNotFound {
		t.Errorf("trashed get: expected 404, got %d", rec.Code)
	}
	rec := env.do(t, "GET", "/api/tasks/trashed", env.admin, "")
	var p task.Page
	json.NewDecoder(rec.Body).Decode(&p)
	if p.Total != 1 {
		t.Errorf("expected 1 trashed task, got %d", p.Total)
	}
	if rec := env.do(t, "POST", path+"/restore", env.manager, ""); rec.Code != http.StatusOK {
		t.Errorf("restore: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", path+"?force=true", env.manager, ""); rec.Code != http.StatusForbidden {
		t.Errorf("manager force delete: expected 403, got %d", rec.Code)
	}
	if rec := env.do(t, "DELETE", path+"?force=true", env.admin, ""); rec.Code != http.StatusNoContent {
		t.Errorf("admin force delete: expected 204, got %d", rec.Code)
	}
}

func TestUpdateAndAssign(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	path := fmt.Sprintf("/api/tasks/%d", a.ID)

	rec := env.do(t, "PATCH", path, env.manager, `{"title":"renamed","due_date":"2026-12-24"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var out engine.Outcome
	json.NewDecoder(rec.Body).Decode(&out)
	if out.Task.Title != "renamed" || out.Task.DueDate.Format(time.DateOnly) != "2026-12-24" {
		t.Errorf("unexpected task %+v", out.Task)
	}
	if rec := env.do(t, "PATCH", path, env.manager, `{"due_date":"tomorrow"}`); rec.Code != 422 {
		t.Errorf("bad date: expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, "PUT", path+"/assignee", env.manager, fmt.Sprintf(`{"assigned_to":%q}`, env.admin)); rec.Code != 422 {
		t.Errorf("assign admin: expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, "PUT", path+"/assignee", env.manager, `{"assigned_to":""}`); rec.Code != http.StatusOK {
		t.Errorf("unassign: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, "PUT", path+"/status", env.dev, `{"status":"Completed"}`); rec.Code != http.StatusForbidden {
		t.Errorf("unassigned developer: expected 403, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", path+"/recompute", env.manager, ""); rec.Code != http.StatusOK {
		t.Errorf("recompute: expected 200, got %d", rec.Code)
	}
}

func TestActors(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, "POST", "/api/actors", env.manager, `{"name":"x","role":"developer"}`); rec.Code != http.StatusForbidden {
		t.Errorf("manager register: expected 403, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/actors", env.admin, `{"name":"x","role":"system"}`); rec.Code != 422 {
		t.Errorf("system role: expected 422, got %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/actors", env.admin, `{"name":"x","role":"developer"}`); rec.Code != http.StatusCreated {
		t.Errorf("register: expected 201, got %d", rec.Code)
	}
	rec := env.do(t, "GET", "/api/actors", env.dev, "")
	var actors []actor.Actor
	json.NewDecoder(rec.Body).Decode(&actors)
	if len(actors) != 5 {
		t.Errorf("expected 5 actors including cascade, got %d", len(actors))
	}
}

func TestVerifyAndReport(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	env.do(t, "PUT", fmt.Sprintf("/api/tasks/%d/status", a.ID), env.dev, `{"status":"In_Progress"}`)

	if rec := env.do(t, "GET", "/api/audit/verify", env.dev, ""); rec.Code != http.StatusForbidden {
		t.Errorf("developer verify: expected 403, got %d", rec.Code)
	}
	rec := env.do(t, "GET", "/api/audit/verify", env.admin, "")
	var result map[string]any
	json.NewDecoder(rec.Body).Decode(&result)
	if result["chain_ok"] != true || result["acyclic"] != true {
		t.Errorf("unexpected verify result %v", result)
	}

	rec = env.do(t, "GET", "/api/reports/daily", env.dev, "")
	var d report.Daily
	json.NewDecoder(rec.Body).Decode(&d)
	if rec.Code != http.StatusOK || d.Total != 1 {
		t.Errorf("daily: expected 1 task, got %d %+v", rec.Code, d)
	}
	if rec := env.do(t, "GET", "/api/reports/daily?date=yesterday", env.dev, ""); rec.Code != 422 {
		t.Errorf("bad date: expected 422, got %d", rec.Code)
	}

	rec = env.do(t, "GET", "/api/status", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"transition_records":1`) {
		t.Errorf("status: got %d %s", rec.Code, rec.Body)
	}
}

func TestAuditStream(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a")
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/api/audit/stream?task=%d", ts.URL, a.ID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	for env.bus.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	env.do(t, "PUT", fmt.Sprintf("/api/tasks/%d/status", a.ID), env.dev, `{"status":"Completed"}`)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec); err != nil {
			t.Fatal(err)
		}
		if rec.TaskID != a.ID || rec.New != task.StatusCompleted {
			t.Errorf("unexpected record %+v", rec)
		}
		return
	}
	t.Fatalf("stream ended without a record: %v", sc.Err())
}
