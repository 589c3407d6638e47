package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
)

// gqlRequest is one decoded request seen by the stub.
type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// stubGraphQL runs an httptest server that dispatches on a query substring.
// Handlers return the JSON for the "data" payload.
type stubGraphQL struct {
	t        *testing.T
	server   *httptest.Server
	handlers []stubHandler
	requests []gqlRequest
}

type stubHandler struct {
	match  string
	handle func(req gqlRequest) string
}

func newStub(t *testing.T) *stubGraphQL {
	t.Helper()
	s := &stubGraphQL{t: t}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("stub: bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.requests = append(s.requests, req)
		for _, h := range s.handlers {
			if strings.Contains(req.Query, h.match) {
				fmt.Fprintf(w, `{"data": %s}`, h.handle(req))
				return
			}
		}
		t.Errorf("stub: unhandled query: %s", req.Query)
		fmt.Fprint(w, `{"data": {}}`)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubGraphQL) on(match string, handle func(req gqlRequest) string) {
	s.handlers = append(s.handlers, stubHandler{match: match, handle: handle})
}

func (s *stubGraphQL) onStatic(match, data string) {
	s.on(match, func(gqlRequest) string { return data })
}

// queriesMatching counts recorded requests containing the substring.
func (s *stubGraphQL) queriesMatching(match string) []gqlRequest {
	var out []gqlRequest
	for _, req := range s.requests {
		if strings.Contains(req.Query, match) {
			out = append(out, req)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Provider: Name,
		Target:   "octo/widgets",
		Auth:     config.AuthToken,
		Token:    "tok",
		Label:    "planpilot",
	}
}

// testProvider builds a provider wired to the stub with setup caches
// pre-populated, skipping the Setup round-trips.
func testProvider(t *testing.T, stub *stubGraphQL, cfg *config.Config) *Provider {
	t.Helper()
	p := New(cfg, zerolog.Nop()).WithEndpoint(stub.server.URL)
	p.client = newGraphQLClient(stub.server.URL, "tok", zerolog.Nop())
	p.owner, p.repo = "octo", "widgets"
	p.repoID = "R_1"
	p.labelID = "L_1"
	p.caps = engine.Capabilities{
		DiscoveryByBodyContains:    true,
		SupportsParentRelation:     true,
		SupportsDependencyRelation: true,
	}
	return p
}

func TestResolveTokenStrategies(t *testing.T) {
	t.Run("gh-cli", func(t *testing.T) {
		cfg := &config.Config{Auth: config.AuthGHCLI}
		token, err := resolveToken(cfg, func(name string, args ...string) ([]byte, error) {
			if name != "gh" || strings.Join(args, " ") != "auth token" {
				t.Errorf("unexpected command: %s %v", name, args)
			}
			return []byte("ghp_abc\n"), nil
		})
		if err != nil {
			t.Fatalf("resolveToken() error = %v", err)
		}
		if token != "ghp_abc" {
			t.Errorf("token = %q", token)
		}
	})

	t.Run("gh-cli failure", func(t *testing.T) {
		cfg := &config.Config{Auth: config.AuthGHCLI}
		_, err := resolveToken(cfg, func(string, ...string) ([]byte, error) {
			return []byte("not logged in"), fmt.Errorf("exit 1")
		})
		if !engine.HasCode(err, engine.ErrCodeAuth) {
			t.Errorf("resolveToken() = %v, want auth error", err)
		}
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "ghp_env")
		cfg := &config.Config{Auth: config.AuthEnv}
		token, err := resolveToken(cfg, nil)
		if err != nil {
			t.Fatalf("resolveToken() error = %v", err)
		}
		if token != "ghp_env" {
			t.Errorf("token = %q", token)
		}
	})

	t.Run("env missing", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "")
		cfg := &config.Config{Auth: config.AuthEnv}
		if _, err := resolveToken(cfg, nil); !engine.HasCode(err, engine.ErrCodeAuth) {
			t.Errorf("resolveToken() = %v, want auth error", err)
		}
	})

	t.Run("inline token", func(t *testing.T) {
		cfg := &config.Config{Auth: config.AuthToken, Token: "ghp_inline"}
		token, err := resolveToken(cfg, nil)
		if err != nil {
			t.Fatalf("resolveToken() error = %v", err)
		}
		if token != "ghp_inline" {
			t.Errorf("token = %q", token)
		}
	})
}

func TestParseBoardURL(t *testing.T) {
	tests := []struct {
		url     string
		kind    string
		login   string
		number  int
		wantErr bool
	}{
		{url: "https://github.com/orgs/octo/projects/7", kind: "orgs", login: "octo", number: 7},
		{url: "https://github.com/users/someone/projects/12", kind: "users", login: "someone", number: 12},
		{url: "https://github.com/octo/widgets", wantErr: true},
		{url: "https://github.com/orgs/octo/projects/zero", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			kind, login, number, err := parseBoardURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseBoardURL() expected an error")
				}
				if !engine.HasCode(err, engine.ErrCodeProjectURL) {
					t.Errorf("parseBoardURL() = %v, want project URL error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBoardURL() error = %v", err)
			}
			if kind != tt.kind || login != tt.login || number != tt.number {
				t.Errorf("parseBoardURL() = %s %s %d", kind, login, number)
			}
		})
	}
}

func TestSearchQueryConstruction(t *testing.T) {
	p := &Provider{owner: "octo", repo: "widgets"}
	got := p.searchQuery(engine.ItemSearchFilters{
		Labels:       []string{"planpilot"},
		BodyContains: "PLAN_ID:a1b2c3d4e5f6",
	})
	want := `repo:octo/widgets is:issue label:"planpilot" in:body "PLAN_ID:a1b2c3d4e5f6"`
	if got != want {
		t.Errorf("searchQuery() = %q, want %q", got, want)
	}
}

func TestSearchItemsPaginates(t *testing.T) {
	stub := newStub(t)
	page := 0
	stub.on("search(type: ISSUE", func(req gqlRequest) string {
		page++
		if page == 1 {
			if req.Variables["after"] != nil {
				t.Errorf("first page should have no cursor, got %v", req.Variables["after"])
			}
			return `{"search": {
				"pageInfo": {"hasNextPage": true, "endCursor": "CUR1"},
				"nodes": [
					{"id": "I_1", "number": 1, "url": "u1", "title": "one", "body": "b1"},
					{"id": "I_2", "number": 2, "url": "u2", "title": "two", "body": "b2"}
				]}}`
		}
		if req.Variables["after"] != "CUR1" {
			t.Errorf("second page cursor = %v, want CUR1", req.Variables["after"])
		}
		return `{"search": {
			"pageInfo": {"hasNextPage": false, "endCursor": ""},
			"nodes": [{"id": "I_3", "number": 3, "url": "u3", "title": "three", "body": "b3"}]}}`
	})

	p := testProvider(t, stub, testConfig())
	items, err := p.SearchItems(context.Background(), engine.ItemSearchFilters{Labels: []string{"planpilot"}})
	if err != nil {
		t.Fatalf("SearchItems() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("SearchItems() returned %d items, want 3 across pages", len(items))
	}
	if items[2].Key != "#3" {
		t.Errorf("items[2].Key = %q", items[2].Key)
	}
	if items[0].Provider() == nil {
		t.Error("returned item is not bound to the provider")
	}
}

func TestCreateItemPlain(t *testing.T) {
	stub := newStub(t)
	stub.on("createIssue", func(req gqlRequest) string {
		input := req.Variables["input"].(map[string]interface{})
		if input["repositoryId"] != "R_1" {
			t.Errorf("repositoryId = %v", input["repositoryId"])
		}
		labels := input["labelIds"].([]interface{})
		if len(labels) != 1 || labels[0] != "L_1" {
			t.Errorf("labelIds = %v", labels)
		}
		return `{"createIssue": {"issue": {"id": "I_9", "number": 9, "url": "u9", "title": "t", "body": "b"}}}`
	})

	p := testProvider(t, stub, testConfig())
	item, err := p.CreateItem(context.Background(), engine.CreateItemInput{
		Title:    "t",
		Body:     "b",
		ItemType: engine.ItemTypeTask,
		Labels:   []string{"planpilot"},
	})
	if err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}
	if item.ID != "I_9" || item.Key != "#9" {
		t.Errorf("CreateItem() = %+v", item)
	}
}

func TestCreateItemPartialFailureOnBoardAdd(t *testing.T) {
	stub := newStub(t)
	stub.onStatic("createIssue",
		`{"createIssue": {"issue": {"id": "I_9", "number": 9, "url": "u9", "title": "t", "body": "b"}}}`)
	stub.on("addProjectV2ItemById", func(gqlRequest) string {
		return `null, "errors": [{"type": "SERVICE_UNAVAILABLE", "message": "board down"}]`
	})

	p := testProvider(t, stub, testConfig())
	p.projectID = "P_1"

	_, err := p.CreateItem(context.Background(), engine.CreateItemInput{Title: "t", Body: "b"})
	if err == nil {
		t.Fatal("CreateItem() expected a partial-create error")
	}
	info, ok := engine.PartialCreateDetails(err)
	if !ok {
		t.Fatalf("CreateItem() = %v, want partial-create details", err)
	}
	if info.CreatedItemID != "I_9" || info.CreatedItemKey != "#9" {
		t.Errorf("partial identity = %+v", info)
	}
	if len(info.CompletedSteps) != 1 || info.CompletedSteps[0] != stepCreateIssue {
		t.Errorf("completed steps = %v", info.CompletedSteps)
	}
}

func TestUpdateItemLabelsAreAdditive(t *testing.T) {
	stub := newStub(t)
	stub.onStatic("updateIssue",
		`{"updateIssue": {"issue": {"id": "I_9", "number": 9, "url": "u9", "title": "t2", "body": "b2"}}}`)
	stub.onStatic(`label(name: $label)`,
		`{"repository": {"label": {"id": "L_1"}}}`)
	stub.on("addLabelsToLabelable", func(req gqlRequest) string {
		input := req.Variables["input"].(map[string]interface{})
		if input["labelableId"] != "I_9" {
			t.Errorf("labelableId = %v", input["labelableId"])
		}
		return `{"addLabelsToLabelable": {"clientMutationId": null}}`
	})

	p := testProvider(t, stub, testConfig())
	title, body := "t2", "b2"
	_, err := p.UpdateItem(context.Background(), "I_9", engine.UpdateItemInput{
		Title:  &title,
		Body:   &body,
		Labels: []string{"planpilot"},
	})
	if err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	if n := len(stub.queriesMatching("addLabelsToLabelable")); n != 1 {
		t.Errorf("addLabelsToLabelable called %d times, want 1", n)
	}
	for _, req := range stub.requests {
		if strings.Contains(req.Query, "removeLabelsFromLabelable") ||
			strings.Contains(req.Query, "setLabelsForLabelable") {
			t.Errorf("update issued a label-replacing mutation: %s", req.Query)
		}
	}
}

func TestReconcileRelationsIssuesOnlyNeededCalls(t *testing.T) {
	stub := newStub(t)
	stub.onStatic("parent { id }", `{"node": {
		"parent": {"id": "I_old_parent"},
		"blockedBy": {
			"pageInfo": {"hasNextPage": false, "endCursor": ""},
			"nodes": [{"id": "I_keep"}, {"id": "I_drop"}]
		}}}`)
	stub.onStatic("addSubIssue", `{"addSubIssue": {"clientMutationId": null}}`)
	stub.onStatic("addIssueDependency", `{"addIssueDependency": {"clientMutationId": null}}`)
	stub.onStatic("removeIssueDependency", `{"removeIssueDependency": {"clientMutationId": null}}`)

	p := testProvider(t, stub, testConfig())
	item := &engine.Item{ID: "I_child"}
	parent := &engine.Item{ID: "I_new_parent"}
	blockers := []*engine.Item{{ID: "I_keep"}, {ID: "I_new"}}

	if err := p.ReconcileRelations(context.Background(), item, parent, blockers); err != nil {
		t.Fatalf("ReconcileRelations() error = %v", err)
	}

	if n := len(stub.queriesMatching("addSubIssue")); n != 1 {
		t.Errorf("addSubIssue called %d times, want 1 (parent changed)", n)
	}
	adds := stub.queriesMatching("addIssueDependency")
	if len(adds) != 1 {
		t.Fatalf("addIssueDependency called %d times, want 1 (only the new blocker)", len(adds))
	}
	input := adds[0].Variables["input"].(map[string]interface{})
	if input["blockedByIssueId"] != "I_new" {
		t.Errorf("added blocker = %v, want I_new", input["blockedByIssueId"])
	}
	removes := stub.queriesMatching("removeIssueDependency")
	if len(removes) != 1 {
		t.Fatalf("removeIssueDependency called %d times, want 1", len(removes))
	}
}

func TestReconcileRelationsConvergedIsNoOp(t *testing.T) {
	stub := newStub(t)
	stub.onStatic("parent { id }", `{"node": {
		"parent": {"id": "I_parent"},
		"blockedBy": {
			"pageInfo": {"hasNextPage": false, "endCursor": ""},
			"nodes": [{"id": "I_blocker"}]
		}}}`)

	p := testProvider(t, stub, testConfig())
	item := &engine.Item{ID: "I_child"}
	parent := &engine.Item{ID: "I_parent"}
	blockers := []*engine.Item{{ID: "I_blocker"}}

	if err := p.ReconcileRelations(context.Background(), item, parent, blockers); err != nil {
		t.Fatalf("ReconcileRelations() error = %v", err)
	}
	for _, mutation := range []string{"addSubIssue", "removeSubIssue", "addIssueDependency", "removeIssueDependency"} {
		if n := len(stub.queriesMatching(mutation)); n != 0 {
			t.Errorf("%s called %d times on a converged state, want 0", mutation, n)
		}
	}
}

func TestGraphQLErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		errs  []graphQLError
		check func(error) bool
		want  string
	}{
		{
			name:  "not found is permanent",
			errs:  []graphQLError{{Type: "NOT_FOUND", Message: "gone"}},
			check: engine.IsPermanent,
			want:  "permanent",
		},
		{
			name:  "rate limited is throttled",
			errs:  []graphQLError{{Type: "RATE_LIMITED", Message: "slow down"}},
			check: engine.IsThrottled,
			want:  "throttled",
		},
		{
			name:  "forbidden is auth",
			errs:  []graphQLError{{Type: "FORBIDDEN", Message: "no"}},
			check: func(err error) bool { return engine.HasCode(err, engine.ErrCodeAuth) },
			want:  "auth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGraphQLErrors(tt.errs)
			if !tt.check(err) {
				t.Errorf("classifyGraphQLErrors() = %v, want %s", err, tt.want)
			}
		})
	}
}
