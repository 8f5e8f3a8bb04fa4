package organizer

import (
	"fmt"
	"strings"

	"github.com/hpungsan/promptorg/internal/library"
)

// DefaultOrganizationPrompt is the user-editable instruction used when
// settings carry none.
const DefaultOrganizationPrompt = `Analyze the prompts below and find recurring intents.
Merge prompts that serve the same purpose into one reusable template.
Replace the parts that change between uses with {{variable}} placeholders.
Only create a template when it would be reused; skip one-off prompts.`

// systemInstruction fixes the output contract. It never includes user
// settings, so an edited organization prompt cannot override it.
const systemInstruction = `You organize a user's prompt history into reusable prompt templates.
Always answer with a single JSON object that matches the provided response schema.
Each template must:
- have a short title (at most 20 characters) and a use case (at most 40 characters),
- use {{variable_name}} placeholders for the parts that change, and list every placeholder in "variables" with a description,
- reference in "sourcePromptIds" only ids that appear in the input,
- use a "categoryId" from the category list, or "other" when none fits.
Write titles, use cases and descriptions in the language of the source prompts.`

// BuildPrompt assembles the meta-prompt sent for both counting and
// generation: the organization instruction, the category list, and the
// enumerated candidates.
func BuildPrompt(organizationPrompt string, categories []library.Category, candidates []CandidateInput) string {
	instruction := strings.TrimSpace(organizationPrompt)
	if instruction == "" {
		instruction = DefaultOrganizationPrompt
	}

	var b strings.Builder
	b.WriteString("# Instructions\n")
	b.WriteString(instruction)
	b.WriteString("\n\n# Categories\n")
	if len(categories) == 0 {
		fmt.Fprintf(&b, "- id: %s, name: Other\n", library.OtherCategoryID)
	}
	for _, c := range categories {
		fmt.Fprintf(&b, "- id: %s, name: %s\n", c.ID, c.Name)
	}

	b.WriteString("\n# Prompts\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n## Prompt %d\n", i+1)
		fmt.Fprintf(&b, "id: %s\n", c.ID)
		fmt.Fprintf(&b, "executionCount: %d\n", c.ExecutionCount)
		b.WriteString("content:\n")
		b.WriteString(c.Content)
		b.WriteString("\n")
	}
	return b.String()
}
