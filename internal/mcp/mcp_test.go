package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/promptorg/internal/config"
	"github.com/hpungsan/promptorg/internal/db"
	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/llm"
	"github.com/hpungsan/promptorg/internal/ops"
	"github.com/hpungsan/promptorg/internal/organizer"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// stubLLM returns a fixed token count and streams body in one chunk.
type stubLLM struct {
	initialized bool
	body        string
}

func (s *stubLLM) Initialize(apiKey string) error {
	if apiKey == "" {
		return llm.ErrAPIKeyMissing
	}
	s.initialized = true
	return nil
}

func (s *stubLLM) IsInitialized() bool { return s.initialized }

func (s *stubLLM) CountTokens(context.Context, string) (int, error) { return 800, nil }

func (s *stubLLM) GenerateStream(context.Context, llm.StreamRequest) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		yield(llm.Chunk{Text: s.body, Usage: llm.Usage{InputTokens: 800, OutputTokens: 100}}, nil)
	}
}

// testSetup creates a temporary database, config and deps for testing.
func testSetup(t *testing.T) (*ops.Deps, *stubLLM) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.GeminiAPIKey = "test-key"

	client := &stubLLM{}
	d := ops.NewDeps(database, cfg, tmpDir, client, nil)
	d.Now = func() time.Time { return testNow }
	return d, client
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// seedPrompts adds two qualifying prompts and scripts one template over both.
func seedPrompts(t *testing.T, h *Handlers, client *stubLLM) []string {
	t.Helper()
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"review my diff", "review this PR"} {
		result, err := h.HandlePromptAdd(ctx, makeRequest(map[string]any{
			"content":         content,
			"execution_count": 3,
		}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		out := parseOutput(t, result)
		ids = append(ids, out["prompt"].(map[string]any)["id"].(string))
	}

	client.body = fmt.Sprintf(`{"prompts":[{"title":"Review","content":"Review {{target}}","useCase":"Code review","categoryId":"coding","sourcePromptIds":[%q,%q],"variables":[{"name":"target","description":"What"}]}]}`, ids[0], ids[1])
	return ids
}

func TestHandlePromptAdd(t *testing.T) {
	d, _ := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name:      "valid prompt",
			args:      map[string]any{"content": "Translate to French"},
			wantError: false,
		},
		{
			name:      "missing content",
			args:      map[string]any{"name": "empty"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "negative execution count",
			args:      map[string]any{"content": "x", "execution_count": -1},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown argument",
			args:      map[string]any{"content": "x", "exec_count": 3},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandlePromptAdd(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else if result.IsError {
				t.Errorf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}
}

func TestHandlePromptRecordExecution(t *testing.T) {
	d, client := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()
	ids := seedPrompts(t, h, client)

	result, err := h.HandlePromptRecordExecution(ctx, makeRequest(map[string]any{"id": ids[0]}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	if got := out["prompt"].(map[string]any)["executionCount"]; got != float64(4) {
		t.Errorf("executionCount = %v, want 4", got)
	}

	result, _ = h.HandlePromptRecordExecution(ctx, makeRequest(map[string]any{"id": "missing"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleEstimate(t *testing.T) {
	d, client := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()
	seedPrompts(t, h, client)

	result, err := h.HandleEstimate(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	est := out["estimate"].(map[string]any)
	if est["promptCount"] != float64(2) {
		t.Errorf("promptCount = %v, want 2", est["promptCount"])
	}
	if est["inputTokens"] != float64(800) {
		t.Errorf("inputTokens = %v, want 800", est["inputTokens"])
	}

	result, _ = h.HandleEstimate(ctx, makeRequest(map[string]any{"min_execution_count": 10}))
	out = parseOutput(t, result)
	if got := out["estimate"].(map[string]any)["promptCount"]; got != float64(0) {
		t.Errorf("promptCount with high threshold = %v, want 0", got)
	}

	result, _ = h.HandleEstimate(ctx, makeRequest(map[string]any{"period_days": 0}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleRunAndReview(t *testing.T) {
	d, client := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()
	seedPrompts(t, h, client)

	result, err := h.HandleRun(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	out := parseOutput(t, result)
	templates := out["result"].(map[string]any)["templates"].([]any)
	if len(templates) != 1 {
		t.Fatalf("templates = %d, want 1", len(templates))
	}
	candidateID := templates[0].(map[string]any)["id"].(string)

	result, _ = h.HandlePendingGet(ctx, makeRequest(nil))
	out = parseOutput(t, result)
	if out["has_pending"] != true {
		t.Fatalf("has_pending = %v, want true", out["has_pending"])
	}

	result, _ = h.HandlePendingPreview(ctx, makeRequest(map[string]any{"candidate_id": candidateID}))
	out = parseOutput(t, result)
	items := out["items"].([]any)
	if html := items[0].(map[string]any)["html"].(string); !strings.Contains(html, "<h2>Review</h2>") {
		t.Errorf("preview html missing title: %s", html)
	}

	result, _ = h.HandleReviewCommit(ctx, makeRequest(map[string]any{
		"decisions": map[string]any{candidateID: "keep"},
	}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandleReviewCommit(ctx, makeRequest(map[string]any{
		"decisions": map[string]any{candidateID: "save_and_pin"},
		"edits":     map[string]any{candidateID: map[string]any{"title": "Diff review"}},
	}))
	out = parseOutput(t, result)
	if out["saved"] != float64(1) || out["pinned"] != float64(1) {
		t.Errorf("commit result = %v, want saved=1 pinned=1", out)
	}

	result, _ = h.HandleTemplateList(ctx, makeRequest(map[string]any{"pinned_only": true}))
	out = parseOutput(t, result)
	list := out["items"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["title"] != "Diff review" {
		t.Errorf("template_list = %v, want one pinned 'Diff review'", list)
	}

	result, _ = h.HandlePendingGet(ctx, makeRequest(nil))
	out = parseOutput(t, result)
	if out["has_pending"] != false {
		t.Errorf("has_pending after full review = %v, want false", out["has_pending"])
	}
}

func TestHandleRun_NoQualifyingPrompts(t *testing.T) {
	d, _ := testSetup(t)
	h := NewHandlers(d)

	result, err := h.HandleRun(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "NO_QUALIFYING_PROMPTS")
}

func TestHandleSettings(t *testing.T) {
	d, _ := testSetup(t)
	h := NewHandlers(d)
	ctx := context.Background()

	result, _ := h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{"max_prompts": 5}))
	parseOutput(t, result)

	result, _ = h.HandleSettingsGet(ctx, makeRequest(nil))
	out := parseOutput(t, result)
	if got := out["settings"].(map[string]any)["filterMaxPrompts"]; got != float64(5) {
		t.Errorf("filterMaxPrompts = %v, want 5", got)
	}

	result, _ = h.HandleSettingsUpdate(ctx, makeRequest(map[string]any{"max_prompts": 0}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleCategoryList(t *testing.T) {
	d, _ := testSetup(t)
	h := NewHandlers(d)

	result, _ := h.HandleCategoryList(context.Background(), makeRequest(nil))
	out := parseOutput(t, result)
	if len(out["items"].([]any)) == 0 {
		t.Error("expected seeded categories")
	}
}

func TestServerRegistration(t *testing.T) {
	d, _ := testSetup(t)

	s := NewServer(d, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"organizer_estimate",
		"organizer_run",
		"pending_get",
		"pending_preview",
		"review_commit",
		"settings_get",
		"settings_update",
		"prompt_add",
		"prompt_list",
		"prompt_record_execution",
		"category_list",
		"template_list",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	d, _ := testSetup(t)

	d.Config.DisabledTools = []string{"organizer_run", "settings_update"}
	s := NewServer(d, "test")
	tools := s.ListTools()

	if len(tools) != 10 {
		t.Errorf("registered tool count = %d, want 10", len(tools))
	}
	for _, name := range []string{"organizer_run", "settings_update"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledGroup(t *testing.T) {
	d, _ := testSetup(t)

	d.Config.DisabledTools = []string{"prompt"}
	s := NewServer(d, "test")
	tools := s.ListTools()

	if len(tools) != 9 {
		t.Errorf("registered tool count = %d, want 9", len(tools))
	}
	for name := range tools {
		if GetGroupForTool(name) == "prompt" {
			t.Errorf("tool %q of disabled group should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	d, _ := testSetup(t)

	d.Config.DisabledTools = AllToolNames()
	s := NewServer(d, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"organizer_run", "pending_get"}, 0},
		{"group name", []string{"settings"}, 0},
		{"one unknown", []string{"organizer_run", "fake_tool"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestPendingChangedParams(t *testing.T) {
	cleared := pendingChangedParams(nil)
	if cleared["has_pending"] != false {
		t.Errorf("cleared has_pending = %v, want false", cleared["has_pending"])
	}

	params := pendingChangedParams(&organizer.PendingBatch{
		GeneratedAt: testNow,
		Templates: []organizer.TemplateCandidate{
			{ID: "a", UserAction: organizer.ActionPending},
			{ID: "b", UserAction: organizer.ActionSave},
		},
	})
	if params["total"] != 2 || params["pending"] != 1 {
		t.Errorf("params = %v, want total=2 pending=1", params)
	}
}

func TestProgressNotifier_NoToken(t *testing.T) {
	if fn := progressNotifier(context.Background(), makeRequest(nil)); fn != nil {
		t.Error("expected nil notifier without a progress token")
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("candidate c1: %w", errors.NewNotFound("candidate", "c1"))

	errObj := errorObject(t, errorResult(wrappedErr))

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "candidate c1:") {
		t.Errorf("message should contain wrapper context, got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNoQualifyingPrompts(30, 2)))

	if errObj["code"] != string(errors.ErrNoQualifyingPrompts) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNoQualifyingPrompts)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
	if errObj["retryable"] != false {
		t.Errorf("retryable=%v, want false", errObj["retryable"])
	}
}

func TestErrorResult_RetryableNetworkError(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNetwork("connection reset", nil)))

	if errObj["retryable"] != true {
		t.Errorf("retryable=%v, want true", errObj["retryable"])
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error result %q, got success", expectedCode)
		return
	}
	code, ok := errorObject(t, result)["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}
	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
