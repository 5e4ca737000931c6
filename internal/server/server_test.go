package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/chatgrid-ai/chatgrid/internal/prompts"
	"github.com/chatgrid-ai/chatgrid/internal/provider"
	"github.com/chatgrid-ai/chatgrid/internal/session"
	"github.com/chatgrid-ai/chatgrid/internal/settings"
	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

// stubClient backs the router with a canned local provider.
type stubClient struct {
	reply   string
	summary string
}

func (s *stubClient) Name() string { return "stub" }

func (s *stubClient) FetchModels(ctx context.Context) ([]provider.ModelDescriptor, error) {
	return []provider.ModelDescriptor{
		{Provider: "stub", Name: "test-model", ContextLength: 8192},
	}, nil
}

func (s *stubClient) SendMessage(ctx context.Context, sessionID string, messages []provider.Message, model, systemPrompt string) (string, error) {
	return s.reply, nil
}

func (s *stubClient) Summarize(ctx context.Context, sessionID string, messages []provider.Message, model string) (string, error) {
	return s.summary, nil
}

func (s *stubClient) CheckConnection(ctx context.Context) bool { return true }

func (s *stubClient) ContextLimit(model string) int { return 8192 }

type testHarness struct {
	engine  *gin.Engine
	orch    *session.Orchestrator
	monitor *tokens.Monitor
	store   *settings.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := provider.NewRouter()
	router.Register(&stubClient{reply: "echo", summary: "condensed"})

	monitor := tokens.NewMonitor()
	orch, err := session.NewOrchestrator(router, monitor, nil, 2)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	dir := t.TempDir()
	store, err := settings.NewStore(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	lib, err := prompts.NewLibrary(filepath.Join(dir, "system-prompts.json"))
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	engine := gin.New()
	s := &server{opts: Options{
		Router:       router,
		Orchestrator: orch,
		Settings:     store,
		Prompts:      lib,
		Monitor:      monitor,
	}}
	s.registerRoutes(engine)

	return &testHarness{engine: engine, orch: orch, monitor: monitor, store: store}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, w.Body.String())
	}
}

func TestListModels(t *testing.T) {
	h := newTestHarness(t)

	w := h.do(t, http.MethodGet, "/api/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", w.Code, w.Body.String())
	}
	var resp struct {
		Models []provider.ModelDescriptor `json:"models"`
	}
	decode(t, w, &resp)
	if len(resp.Models) != 1 || resp.Models[0].Ref() != "stub:test-model" {
		t.Errorf("models = %+v", resp.Models)
	}

	// Listing refreshes the budget monitor's limit table.
	if got := h.monitor.ContextLimit("stub:test-model"); got != 8192 {
		t.Errorf("monitor limit = %d after listing, want 8192", got)
	}
}

func TestConnectionStatus(t *testing.T) {
	h := newTestHarness(t)
	w := h.do(t, http.MethodGet, "/api/connection/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status map[string]bool
	decode(t, w, &status)
	if !status["stub"] {
		t.Errorf("status = %v, want stub reachable", status)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	h := newTestHarness(t)

	w := h.do(t, http.MethodGet, "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var got settings.Settings
	decode(t, w, &got)
	if got.TokenWarningThreshold != tokens.DefaultWarningThreshold {
		t.Errorf("threshold = %d", got.TokenWarningThreshold)
	}

	// A valid update propagates into the monitor and the pool.
	w = h.do(t, http.MethodPut, "/api/settings", map[string]any{
		"tokenWarningThreshold": 70,
		"maxSessions":           4,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d\n%s", w.Code, w.Body.String())
	}
	if got := h.monitor.WarningThreshold(); got != 70 {
		t.Errorf("monitor threshold = %d, want 70", got)
	}
	if got := h.orch.MaxSessions(); got != 4 {
		t.Errorf("pool cap = %d, want 4", got)
	}

	// An out-of-range update is rejected and changes nothing.
	w = h.do(t, http.MethodPut, "/api/settings", map[string]any{"maxSessions": 99})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid PUT status = %d", w.Code)
	}
	if got := h.orch.MaxSessions(); got != 4 {
		t.Errorf("rejected update resized the pool to %d", got)
	}
}

func TestPromptEndpoints(t *testing.T) {
	h := newTestHarness(t)

	w := h.do(t, http.MethodGet, "/api/system-prompts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []prompts.Prompt
	decode(t, w, &list)
	if len(list) != 3 {
		t.Fatalf("fresh library has %d prompts", len(list))
	}

	w = h.do(t, http.MethodPost, "/api/system-prompts", map[string]string{
		"name":     "Terse",
		"prompt":   "One sentence only.",
		"category": "General",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d\n%s", w.Code, w.Body.String())
	}
	var created prompts.Prompt
	decode(t, w, &created)
	if created.ID == "" || created.Name != "Terse" {
		t.Errorf("created = %+v", created)
	}

	w = h.do(t, http.MethodPut, "/api/system-prompts/"+created.ID, map[string]string{"name": "Very Terse"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	w = h.do(t, http.MethodPut, "/api/system-prompts/missing", map[string]string{"name": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", w.Code)
	}

	w = h.do(t, http.MethodDelete, "/api/system-prompts/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestHarness(t)

	// Create up to the cap of 2, then conflict.
	var first sessionSummary
	w := h.do(t, http.MethodPost, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d\n%s", w.Code, w.Body.String())
	}
	decode(t, w, &first)
	if first.ID == "" || first.Status != session.StatusIdle {
		t.Errorf("created session = %+v", first)
	}

	if w := h.do(t, http.MethodPost, "/api/sessions", nil); w.Code != http.StatusOK {
		t.Fatalf("second create status = %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/api/sessions", nil); w.Code != http.StatusConflict {
		t.Errorf("create past cap status = %d, want 409", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/sessions", nil)
	var listResp struct {
		Sessions    []sessionSummary `json:"sessions"`
		MaxSessions int              `json:"maxSessions"`
	}
	decode(t, w, &listResp)
	if len(listResp.Sessions) != 2 || listResp.MaxSessions != 2 {
		t.Errorf("list = %+v", listResp)
	}

	if w := h.do(t, http.MethodGet, "/api/sessions/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", w.Code)
	}
}

func TestSubmitFlow(t *testing.T) {
	h := newTestHarness(t)

	var created sessionSummary
	decode(t, h.do(t, http.MethodPost, "/api/sessions", nil), &created)
	base := "/api/sessions/" + created.ID

	// Submitting without a model selection is a validation failure.
	w := h.do(t, http.MethodPost, base+"/messages", map[string]string{"content": "hi"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("modelless submit status = %d", w.Code)
	}

	// A malformed ref is rejected; a valid one is accepted.
	if w := h.do(t, http.MethodPut, base+"/model", map[string]string{"model": "no-tag"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad model ref status = %d", w.Code)
	}
	if w := h.do(t, http.MethodPut, base+"/model", map[string]string{"model": "stub:test-model"}); w.Code != http.StatusOK {
		t.Fatalf("set model status = %d", w.Code)
	}
	if w := h.do(t, http.MethodPut, base+"/prompt", map[string]string{"systemPrompt": "be brief"}); w.Code != http.StatusOK {
		t.Fatalf("set prompt status = %d", w.Code)
	}

	w = h.do(t, http.MethodPost, base+"/messages", map[string]string{"content": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d\n%s", w.Code, w.Body.String())
	}
	var turn struct {
		Message provider.Message `json:"message"`
		Report  tokens.Report    `json:"report"`
	}
	decode(t, w, &turn)
	if turn.Message.Role != provider.RoleAssistant || turn.Message.Content != "echo" {
		t.Errorf("turn message = %+v", turn.Message)
	}
	if turn.Report.Limit != 8192 {
		t.Errorf("report limit = %d, want the model's 8192", turn.Report.Limit)
	}

	// The session is now the active one.
	if active := h.orch.Active(); active == nil || active.ID() != created.ID {
		t.Error("submit did not mark the session active")
	}
}

func TestCompactFlow(t *testing.T) {
	h := newTestHarness(t)

	var created sessionSummary
	decode(t, h.do(t, http.MethodPost, "/api/sessions", nil), &created)
	base := "/api/sessions/" + created.ID

	if w := h.do(t, http.MethodPut, base+"/model", map[string]string{"model": "stub:test-model"}); w.Code != http.StatusOK {
		t.Fatalf("set model status = %d", w.Code)
	}

	// Too little history to summarize.
	if w := h.do(t, http.MethodPost, base+"/compact", nil); w.Code != http.StatusBadRequest {
		t.Errorf("premature compact status = %d", w.Code)
	}

	for _, content := range []string{"first", "second"} {
		if w := h.do(t, http.MethodPost, base+"/messages", map[string]string{"content": content}); w.Code != http.StatusOK {
			t.Fatalf("submit %q status = %d", content, w.Code)
		}
	}

	w := h.do(t, http.MethodPost, base+"/compact", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("compact status = %d\n%s", w.Code, w.Body.String())
	}
	var result struct {
		Message provider.Message `json:"message"`
	}
	decode(t, w, &result)
	if result.Message.Role != provider.RoleSystem {
		t.Errorf("summary message role = %q", result.Message.Role)
	}

	// The whole history collapsed to the single summary message.
	var got struct {
		Messages []provider.Message `json:"messages"`
	}
	decode(t, h.do(t, http.MethodGet, base, nil), &got)
	if len(got.Messages) != 1 {
		t.Errorf("session has %d messages after compaction, want 1", len(got.Messages))
	}
}
