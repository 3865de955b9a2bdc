package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/starford/cctsync/internal/bulksync"
	"github.com/starford/cctsync/internal/catalog"
	"github.com/starford/cctsync/internal/jetdb"
	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/plugin"
	"github.com/starford/cctsync/internal/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) PublishMappingEvent(kind, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind+":"+id)
}

type testEnv struct {
	router   http.Handler
	jet      *jetdb.DB
	notifier *recordingNotifier
	parent   int64
}

// newTestEnv sets up a temp JetEngine database with a makes -> configs
// relation (id 5), an option store, the plugin and the router.
// An empty token means auth is disabled.
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	return newTestEnvWithSSE(t, token, nil)
}

func newTestEnvWithSSE(t *testing.T, token string, sseHandler http.Handler) *testEnv {
	t.Helper()
	ctx := context.Background()

	makes := models.CCT{Slug: "makes", Name: "Makes", Fields: []models.Field{{Name: "make_name"}}}
	configs := models.CCT{Slug: "configs", Name: "Configs", Fields: []models.Field{{Name: "make_name"}, {Name: "model_name"}}}

	jet := testutil.JetDB(t)
	for _, c := range []models.CCT{makes, configs} {
		if err := jet.EnsureCCTTable(ctx, c); err != nil {
			t.Fatalf("EnsureCCTTable: %v", err)
		}
	}
	if err := jet.EnsureRelationTable(ctx, 5); err != nil {
		t.Fatalf("EnsureRelationTable: %v", err)
	}
	parent, err := jet.InsertItem(ctx, "makes", models.Item{"make_name": "Acme"})
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	cat := catalog.NewStatic([]models.CCT{makes, configs}, []models.Relation{
		{ID: 5, ParentObject: "cct::makes", ChildObject: "cct::configs"},
		{ID: 6, ParentObject: "terms::body_type", ChildObject: "cct::configs"},
	})
	p := plugin.New(cat, jet, testutil.OptionsDB(t), testutil.Logger())
	n := &recordingNotifier{}
	return &testEnv{
		router:   NewRouter(p, token != "", token, sseHandler, n),
		jet:      jet,
		notifier: n,
		parent:   parent,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createMapping(t *testing.T, direction models.Direction) SaveMappingResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/mappings", map[string]any{
		"target_cct":        "configs",
		"trigger_relation":  "5",
		"source_field":      "make_name",
		"destination_field": "make_name",
		"direction":         direction,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var res SaveMappingResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestCreateAndGetMapping(t *testing.T) {
	e := newTestEnv(t, "")

	res := e.createMapping(t, models.DirectionPull)
	if res.Mapping.ID == "" {
		t.Fatal("mapping id is empty")
	}
	if res.Mapping.TriggerRelation != 5 {
		t.Errorf("trigger_relation = %d, want 5", res.Mapping.TriggerRelation)
	}
	if !res.Mapping.Enabled || res.Mapping.UIBehavior != models.UIReadonly {
		t.Errorf("defaults not applied: %+v", res.Mapping)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	w := e.do(t, http.MethodGet, "/mappings/"+res.Mapping.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var m FieldMapping
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if m.SourceField != "make_name" {
		t.Errorf("source_field = %q", m.SourceField)
	}
	if len(e.notifier.events) != 1 || e.notifier.events[0] != "saved:"+res.Mapping.ID {
		t.Errorf("notifier events = %v", e.notifier.events)
	}
}

func TestCreateMapping_DuplicateUpdatesInPlace(t *testing.T) {
	e := newTestEnv(t, "")

	first := e.createMapping(t, models.DirectionPull)
	second := e.createMapping(t, models.DirectionBoth)
	if first.Mapping.ID != second.Mapping.ID {
		t.Errorf("duplicate got new id %q, want %q", second.Mapping.ID, first.Mapping.ID)
	}

	w := e.do(t, http.MethodGet, "/mappings", nil)
	var list MappingListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 || list.Mappings[0].Direction != models.DirectionBoth {
		t.Errorf("list = %+v", list)
	}
}

func TestCreateMapping_Invalid(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.do(t, http.MethodPost, "/mappings", map[string]any{"target_cct": "configs"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/mappings", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestCreateMapping_Warnings(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.do(t, http.MethodPost, "/mappings", map[string]any{
		"target_cct": "configs", "trigger_relation": 6,
		"source_field": "name", "destination_field": "make_name",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var res SaveMappingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", res.Warnings)
	}
}

func TestUpdateMapping(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.createMapping(t, models.DirectionPull)

	w := e.do(t, http.MethodPut, "/mappings/"+res.Mapping.ID, map[string]any{
		"target_cct": "configs", "trigger_relation": 5,
		"source_field": "make_name", "destination_field": "make_name",
		"ui_behavior": "hidden",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated SaveMappingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Mapping.UIBehavior != models.UIHidden {
		t.Errorf("ui_behavior = %q", updated.Mapping.UIBehavior)
	}

	w = e.do(t, http.MethodPut, "/mappings/map_missing", map[string]any{
		"target_cct": "configs", "trigger_relation": 5, "source_field": "a", "destination_field": "b",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestUpdateMapping_Conflict(t *testing.T) {
	e := newTestEnv(t, "")
	first := e.createMapping(t, models.DirectionPull)

	w := e.do(t, http.MethodPost, "/mappings", map[string]any{
		"target_cct": "configs", "trigger_relation": 5,
		"source_field": "make_name", "destination_field": "model_name",
	})
	var second SaveMappingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &second)

	// Rewriting the second mapping into the first one's tuple collides.
	w = e.do(t, http.MethodPut, "/mappings/"+second.Mapping.ID, map[string]any{
		"target_cct": "configs", "trigger_relation": 5,
		"source_field": "make_name", "destination_field": "make_name",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("colliding update = %d, want 409 (first id %s)", w.Code, first.Mapping.ID)
	}
}

func TestToggleAndDeleteMapping(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.createMapping(t, models.DirectionPull)

	w := e.do(t, http.MethodPost, "/mappings/"+res.Mapping.ID+"/toggle", ToggleRequest{Enabled: false})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	var m FieldMapping
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if m.Enabled {
		t.Error("mapping still enabled")
	}

	w = e.do(t, http.MethodGet, "/mappings?enabled=true", nil)
	var list MappingListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 0 {
		t.Errorf("enabled mappings = %d, want 0", list.Total)
	}

	w = e.do(t, http.MethodDelete, "/mappings/"+res.Mapping.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	w = e.do(t, http.MethodDelete, "/mappings/"+res.Mapping.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
	w = e.do(t, http.MethodPost, "/mappings/"+res.Mapping.ID+"/toggle", ToggleRequest{Enabled: true})
	if w.Code != http.StatusNotFound {
		t.Errorf("toggle missing = %d, want 404", w.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.do(t, http.MethodPut, "/settings/year-expander", models.YearExpanderConfig{Enabled: true, TargetCCT: "configs"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("incomplete year expander = %d, want 400", w.Code)
	}

	cfg := models.YearExpanderConfig{
		Enabled: true, TargetCCT: "configs", StartField: "year_start", EndField: "year_end", OutputField: "years",
	}
	if w = e.do(t, http.MethodPut, "/settings/year-expander", cfg); w.Code != http.StatusOK {
		t.Fatalf("save year expander = %d, body = %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodGet, "/settings/year-expander", nil)
	var got models.YearExpanderConfig
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got != cfg {
		t.Errorf("year expander = %+v", got)
	}

	w = e.do(t, http.MethodPut, "/settings/config-name", models.ConfigNameConfig{Enabled: true, TargetCCT: "configs", OutputField: "title"})
	if w.Code != http.StatusOK {
		t.Fatalf("save config name = %d", w.Code)
	}
	var name models.ConfigNameConfig
	_ = json.Unmarshal(w.Body.Bytes(), &name)
	if name.Template == "" {
		t.Error("default template not applied")
	}
}

func TestDiscoveryEndpoints(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.do(t, http.MethodGet, "/ccts", nil)
	var ccts CCTListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &ccts)
	if len(ccts.CCTs) != 2 {
		t.Errorf("ccts = %d, want 2", len(ccts.CCTs))
	}

	w = e.do(t, http.MethodGet, "/ccts/configs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get cct = %d", w.Code)
	}
	var detail plugin.CCTDetail
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if len(detail.Relations) != 2 || len(detail.Fields) != 2 {
		t.Errorf("detail = %+v", detail)
	}

	if w = e.do(t, http.MethodGet, "/ccts/ghosts", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing cct = %d, want 404", w.Code)
	}

	w = e.do(t, http.MethodGet, "/relations?cct=makes&position=parent", nil)
	var rels RelationListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rels)
	if len(rels.Relations) != 1 || rels.Relations[0].ChildName != "Configs" {
		t.Errorf("relations = %+v", rels.Relations)
	}

	if w = e.do(t, http.MethodGet, "/relations?position=sideways", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad position = %d, want 400", w.Code)
	}
}

func TestLockedFieldsEndpoint(t *testing.T) {
	e := newTestEnv(t, "")
	e.createMapping(t, models.DirectionPull)

	w := e.do(t, http.MethodGet, "/locked-fields/configs", nil)
	var locked plugin.LockedFields
	_ = json.Unmarshal(w.Body.Bytes(), &locked)
	if len(locked.Readonly) != 1 || locked.Readonly[0] != "make_name" || len(locked.Hidden) != 0 {
		t.Errorf("locked = %+v", locked)
	}
}

func TestHookEndpoints_PullAndPostCreate(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	e.createMapping(t, models.DirectionPull)

	child, err := e.jet.InsertItem(ctx, "configs", models.Item{"model_name": "Roadster"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.jet.Link(ctx, 5, e.parent, child); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodPost, "/hooks/item-to-update/configs", map[string]any{"_ID": child, "model_name": "Roadster"})
	if w.Code != http.StatusOK {
		t.Fatalf("item-to-update = %d", w.Code)
	}
	var out ItemResponse
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Item["make_name"] != "Acme" {
		t.Errorf("pulled item = %v", out.Item)
	}

	w = e.do(t, http.MethodPost, "/hooks/created-item/configs", CreatedItemRequest{ItemID: child})
	var res HookResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Status != "ok" {
		t.Errorf("created-item = %+v", res)
	}
	v, err := e.jet.GetField(ctx, "configs", child, "make_name")
	if err != nil || v != "Acme" {
		t.Errorf("make_name = %v, %v", v, err)
	}

	if w = e.do(t, http.MethodPost, "/hooks/created-item/configs", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("created-item without id = %d, want 400", w.Code)
	}
}

func TestHookEndpoints_Push(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	e.createMapping(t, models.DirectionPush)

	child, err := e.jet.InsertItem(ctx, "configs", models.Item{"make_name": "old"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.jet.Link(ctx, 5, e.parent, child); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodPost, "/hooks/updated-item/makes", UpdatedItemRequest{
		Item: models.Item{"_ID": e.parent, "make_name": "NewCo"},
	})
	var res HookResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Status != "ok" {
		t.Fatalf("updated-item = %+v", res)
	}
	v, _ := e.jet.GetField(ctx, "configs", child, "make_name")
	if v != "NewCo" {
		t.Errorf("child make_name = %v, want NewCo", v)
	}

	w = e.do(t, http.MethodGet, "/hooks", nil)
	var regs HooksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &regs)
	found := false
	for _, r := range regs.Hooks {
		if r.Name == "flattener.push" {
			found = true
		}
	}
	if !found {
		t.Errorf("push hook not registered: %+v", regs.Hooks)
	}
}

func TestSyncEndpoints(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	e.createMapping(t, models.DirectionPull)

	child, err := e.jet.InsertItem(ctx, "configs", models.Item{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.jet.Link(ctx, 5, e.parent, child); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodGet, "/sync/status", nil)
	var status SyncStatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if len(status.CCTs) != 1 || status.CCTs[0].ItemCount != 1 || status.BatchSize != bulksync.DefaultBatchSize {
		t.Errorf("status = %+v", status)
	}

	w = e.do(t, http.MethodPost, "/sync/configs?offset=0&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d", w.Code)
	}
	var batch bulksync.BatchResult
	_ = json.Unmarshal(w.Body.Bytes(), &batch)
	if batch.Success != 1 || batch.HasMore {
		t.Errorf("batch = %+v", batch)
	}

	if w = e.do(t, http.MethodPost, "/sync/ghosts", nil); w.Code != http.StatusNotFound {
		t.Errorf("sync unknown cct = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := newTestEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/mappings", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := newTestEnv(t, "secret123")

	if w := e.do(t, http.MethodGet, "/mappings", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := newTestEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/mappings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context is done.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := newTestEnvWithSSE(t, "secret", stubSSE)

	if w := e.do(t, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := newTestEnvWithSSE(t, "tok", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
