package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Settings overrides shared by organizer_estimate and organizer_run.
var settingsOverrideOpts = []mcp.ToolOption{
	mcp.WithNumber("period_days",
		mcp.Description("Only prompts executed within this many days qualify. Defaults to the stored setting."),
		mcp.Min(1),
	),
	mcp.WithNumber("min_execution_count",
		mcp.Description("Minimum execution count for a prompt to qualify. Defaults to the stored setting."),
		mcp.Min(1),
	),
	mcp.WithNumber("max_prompts",
		mcp.Description("Cap on prompts sent to the model. Defaults to the stored setting."),
		mcp.Min(1),
	),
}

var pagingOpts = []mcp.ToolOption{
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
}

func toolWith(name, description string, groups ...[]mcp.ToolOption) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(description)}
	for _, g := range groups {
		opts = append(opts, g...)
	}
	return mcp.NewTool(name, opts...)
}

var estimateToolDef = toolWith("organizer_estimate",
	"Estimate input tokens, output tokens, context usage and cost of an organizer run. Makes a token-count call but generates nothing.",
	settingsOverrideOpts,
)

var runToolDef = toolWith("organizer_run",
	"Run the organizer: send frequently used prompts to the model and store the generated templates as a pending batch for review. Replaces any previous pending batch. Sends progress notifications when the request carries a progress token.",
	settingsOverrideOpts,
)

var pendingGetToolDef = mcp.NewTool("pending_get",
	mcp.WithDescription("Get the pending batch of generated templates awaiting review, with decision counts."),
)

var pendingPreviewToolDef = mcp.NewTool("pending_preview",
	mcp.WithDescription("Render pending candidates as markdown and HTML."),
	mcp.WithString("candidate_id", mcp.Description("Render only this candidate")),
)

var reviewCommitToolDef = mcp.NewTool("review_commit",
	mcp.WithDescription("Apply edits and decisions to pending candidates and commit. Saved candidates become templates; undecided ones stay pending."),
	mcp.WithObject("decisions",
		mcp.Description(`Map of candidate id to "save", "discard" or "save_and_pin"`),
	),
	mcp.WithObject("edits",
		mcp.Description("Map of candidate id to field changes: title, use_case, category_id, content, variables"),
	),
)

var settingsGetToolDef = mcp.NewTool("settings_get",
	mcp.WithDescription("Get the stored organizer settings."),
)

var settingsUpdateToolDef = toolWith("settings_update",
	"Update stored organizer settings. Omitted fields are unchanged.",
	settingsOverrideOpts,
	[]mcp.ToolOption{mcp.WithString("organization_prompt", mcp.Description("Instruction text sent to the model"))},
)

var promptAddToolDef = mcp.NewTool("prompt_add",
	mcp.WithDescription("Add a prompt to the library."),
	mcp.WithString("content", mcp.Required(), mcp.Description("Prompt text")),
	mcp.WithString("name", mcp.Description("Display name (defaults to the first line of content)")),
	mcp.WithNumber("execution_count", mcp.Description("Initial execution count"), mcp.Min(0)),
)

var promptListToolDef = toolWith("prompt_list",
	"List library prompts, most executed first.",
	[]mcp.ToolOption{mcp.WithBoolean("eligible_only", mcp.Description("Only prompts not yet used by an organizer run"))},
	pagingOpts,
)

var promptRecordExecutionToolDef = mcp.NewTool("prompt_record_execution",
	mcp.WithDescription("Record one execution of a prompt."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Prompt id")),
)

var categoryListToolDef = mcp.NewTool("category_list",
	mcp.WithDescription("List template categories."),
)

var templateListToolDef = toolWith("template_list",
	"List saved templates, pinned first.",
	[]mcp.ToolOption{mcp.WithBoolean("pinned_only", mcp.Description("Only pinned templates"))},
	pagingOpts,
)
