package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/ops"
	"github.com/hpungsan/promptorg/internal/organizer"
	"github.com/hpungsan/promptorg/internal/settings"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	d *ops.Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d *ops.Deps) *Handlers {
	return &Handlers{d: d}
}

// Request types for each tool

// SettingsRequest carries per-call settings overrides.
type SettingsRequest struct {
	PeriodDays         *int    `json:"period_days,omitempty"`
	MinExecutionCount  *int    `json:"min_execution_count,omitempty"`
	MaxPrompts         *int    `json:"max_prompts,omitempty"`
	OrganizationPrompt *string `json:"organization_prompt,omitempty"`
}

func (r SettingsRequest) patch() settings.Patch {
	return settings.Patch{
		PeriodDays:         r.PeriodDays,
		MinExecutionCount:  r.MinExecutionCount,
		MaxPrompts:         r.MaxPrompts,
		OrganizationPrompt: r.OrganizationPrompt,
	}
}

// PreviewRequest represents the arguments for pending_preview.
type PreviewRequest struct {
	CandidateID string `json:"candidate_id,omitempty"`
}

// ReviewCommitRequest represents the arguments for review_commit.
type ReviewCommitRequest struct {
	Decisions map[string]string                 `json:"decisions,omitempty"`
	Edits     map[string]ops.CandidateEditInput `json:"edits,omitempty"`
}

// PromptAddRequest represents the arguments for prompt_add.
type PromptAddRequest struct {
	Name           string `json:"name,omitempty"`
	Content        string `json:"content"`
	ExecutionCount int    `json:"execution_count,omitempty"`
}

// PromptListRequest represents the arguments for prompt_list.
type PromptListRequest struct {
	EligibleOnly bool `json:"eligible_only,omitempty"`
	Limit        int  `json:"limit,omitempty"`
	Offset       int  `json:"offset,omitempty"`
}

// PromptRecordExecutionRequest represents the arguments for prompt_record_execution.
type PromptRecordExecutionRequest struct {
	ID string `json:"id"`
}

// TemplateListRequest represents the arguments for template_list.
type TemplateListRequest struct {
	PinnedOnly bool `json:"pinned_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
	Offset     int  `json:"offset,omitempty"`
}

// Handler implementations

// HandleEstimate handles the organizer_estimate tool call.
func (h *Handlers) HandleEstimate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Estimate(ctx, h.d, ops.EstimateInput{Overrides: input.patch()})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRun handles the organizer_run tool call.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Run(ctx, h.d, ops.RunInput{
		Overrides:  input.patch(),
		OnProgress: progressNotifier(ctx, req),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePendingGet handles the pending_get tool call.
func (h *Handlers) HandlePendingGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.GetPending(ctx, h.d)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePendingPreview handles the pending_preview tool call.
func (h *Handlers) HandlePendingPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PreviewRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.PreviewPending(ctx, h.d, ops.PreviewPendingInput{CandidateID: input.CandidateID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReviewCommit handles the review_commit tool call.
func (h *Handlers) HandleReviewCommit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReviewCommitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Review(ctx, h.d, ops.ReviewInput{
		Decisions: input.Decisions,
		Edits:     input.Edits,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSettingsGet handles the settings_get tool call.
func (h *Handlers) HandleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.GetSettings(h.d)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSettingsUpdate handles the settings_update tool call.
func (h *Handlers) HandleSettingsUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.UpdateSettings(h.d, input.patch())
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePromptAdd handles the prompt_add tool call.
func (h *Handlers) HandlePromptAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.AddPrompt(ctx, h.d, ops.AddPromptInput{
		Name:           input.Name,
		Content:        input.Content,
		ExecutionCount: input.ExecutionCount,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePromptList handles the prompt_list tool call.
func (h *Handlers) HandlePromptList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListPrompts(ctx, h.d, ops.ListPromptsInput{
		EligibleOnly: input.EligibleOnly,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePromptRecordExecution handles the prompt_record_execution tool call.
func (h *Handlers) HandlePromptRecordExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PromptRecordExecutionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RecordExecution(ctx, h.d, ops.RecordExecutionInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCategoryList handles the category_list tool call.
func (h *Handlers) HandleCategoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListCategories(ctx, h.d)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTemplateList handles the template_list tool call.
func (h *Handlers) HandleTemplateList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TemplateListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListTemplates(ctx, h.d, ops.ListTemplatesInput{
		PinnedOnly: input.PinnedOnly,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Notifications

// progressNotifier forwards run progress as MCP progress notifications when
// the caller supplied a progress token. Returns nil otherwise.
func progressNotifier(ctx context.Context, req mcp.CallToolRequest) organizer.ProgressFunc {
	if req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return nil
	}
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	token := req.Params.Meta.ProgressToken

	last := -1
	return func(p organizer.Progress) {
		if p.EstimatedProgress == last {
			return
		}
		last = p.EstimatedProgress
		// Best effort; a client that went away still gets the final result.
		_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      p.EstimatedProgress,
			"total":         100,
			"message":       string(p.Status),
		})
	}
}

// pendingChangedParams summarizes a pending batch for PendingChangedMethod.
// A nil batch means the pending store was cleared.
func pendingChangedParams(batch *organizer.PendingBatch) map[string]any {
	if batch == nil {
		return map[string]any{"has_pending": false, "total": 0, "pending": 0}
	}
	pending := 0
	for _, c := range batch.Templates {
		if c.UserAction == organizer.ActionPending {
			pending++
		}
	}
	return map[string]any{
		"has_pending":  true,
		"total":        len(batch.Templates),
		"pending":      pending,
		"generated_at": batch.GeneratedAt,
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if oErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":      oErr.Code,
			"message":   oErr.Message,
			"status":    oErr.Status,
			"retryable": oErr.Retryable(),
		}
		// Keep wrapper context such as "candidate x: ..." in the message.
		if oErr != err && oErr.Code != errors.ErrInternal {
			errorObj["message"] = err.Error()
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if oErr.Code != errors.ErrInternal && len(oErr.Details) > 0 {
			errorObj["details"] = oErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
