package organizer

import "github.com/hpungsan/promptorg/internal/llm"

// TemplateSchema is the response contract sent with every generation.
// Field names are part of the wire format and must stay stable.
func TemplateSchema() *llm.Schema {
	variable := &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"name":        {Type: llm.TypeString, Description: "Placeholder name as used inside {{ }}"},
			"description": {Type: llm.TypeString, Description: "What the user should fill in"},
		},
		Required: []string{"name", "description"},
	}

	template := &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"title":      {Type: llm.TypeString, Description: "Short title, at most 20 characters"},
			"content":    {Type: llm.TypeString, Description: "Template body with {{variable}} placeholders"},
			"useCase":    {Type: llm.TypeString, Description: "When to use it, at most 40 characters"},
			"categoryId": {Type: llm.TypeString, Description: "One of the listed category ids"},
			"sourcePromptIds": {
				Type:        llm.TypeArray,
				Description: "Ids of the input prompts this template was derived from",
				Items:       &llm.Schema{Type: llm.TypeString},
			},
			"variables": {
				Type:  llm.TypeArray,
				Items: variable,
			},
		},
		Required: []string{"title", "content", "useCase", "categoryId", "sourcePromptIds", "variables"},
	}

	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"prompts": {Type: llm.TypeArray, Items: template},
		},
		Required: []string{"prompts"},
	}
}
