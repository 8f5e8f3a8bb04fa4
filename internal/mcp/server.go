package mcp

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/promptorg/internal/ops"
)

// PendingChangedMethod is the notification sent to every client when the
// pending batch is replaced, edited, or cleared.
const PendingChangedMethod = "notifications/promptorg/pending_changed"

// KnownGroups lists the tool name prefixes.
var KnownGroups = []string{"organizer", "pending", "review", "settings", "prompt", "category", "template"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"organizer_estimate": {
		def:     estimateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEstimate },
	},
	"organizer_run": {
		def:     runToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRun },
	},
	"pending_get": {
		def:     pendingGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePendingGet },
	},
	"pending_preview": {
		def:     pendingPreviewToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePendingPreview },
	},
	"review_commit": {
		def:     reviewCommitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReviewCommit },
	},
	"settings_get": {
		def:     settingsGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsGet },
	},
	"settings_update": {
		def:     settingsUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsUpdate },
	},
	"prompt_add": {
		def:     promptAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptAdd },
	},
	"prompt_list": {
		def:     promptListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptList },
	},
	"prompt_record_execution": {
		def:     promptRecordExecutionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePromptRecordExecution },
	},
	"category_list": {
		def:     categoryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryList },
	},
	"template_list": {
		def:     templateListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTemplateList },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
// A known group name disables every tool of that group.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; ok {
			continue
		}
		if isKnownGroup(name) {
			continue
		}
		unknown = append(unknown, name)
	}
	return unknown
}

func isKnownGroup(name string) bool {
	for _, g := range KnownGroups {
		if g == name {
			return true
		}
	}
	return false
}

// GetGroupForTool extracts the group name from a tool name.
// Tool names follow the pattern "group_action" (e.g., "pending_get" → "pending").
func GetGroupForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// disabledSet expands group names and collects individual tool names.
func disabledSet(names []string) map[string]bool {
	disabled := make(map[string]bool)
	for _, name := range names {
		if isKnownGroup(name) {
			for tool := range toolRegistry {
				if GetGroupForTool(tool) == name {
					disabled[tool] = true
				}
			}
			continue
		}
		disabled[name] = true
	}
	return disabled
}

// NewServer creates a new MCP server with the organizer tools registered.
// Tools listed in d.Config.DisabledTools, or whose group is listed there,
// are excluded from registration.
func NewServer(d *ops.Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"promptorg",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)
	disabled := disabledSet(d.Config.DisabledTools)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport until ctx is done.
// Pending batch changes are pushed to connected clients while it runs.
func Run(ctx context.Context, d *ops.Deps, version string) error {
	s := NewServer(d, version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go notifyPendingChanges(ctx, d, s)

	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}

// notifyPendingChanges forwards pending store updates until ctx is done.
func notifyPendingChanges(ctx context.Context, d *ops.Deps, s *server.MCPServer) {
	for batch := range d.Pending.Watch(ctx) {
		s.SendNotificationToAllClients(PendingChangedMethod, pendingChangedParams(batch))
	}
}
