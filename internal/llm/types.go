// Package llm is the Gemini client used by the organizer: lazy
// initialization, token counting, and streaming structured generation.
package llm

import (
	"fmt"
)

// SchemaType names a JSON schema type.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is the subset of JSON schema the organizer sends as a response
// contract. It marshals to plain JSON schema.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// StreamRequest is one streaming structured-generation call.
type StreamRequest struct {
	Prompt            string
	SystemInstruction string
	Schema            *Schema
	Temperature       *float32
}

// Usage holds provider token counters.
type Usage struct {
	InputTokens    int `json:"inputTokens"`
	ThoughtsTokens int `json:"thoughtsTokens"`
	OutputTokens   int `json:"outputTokens"`
}

// Merge returns the element-wise maximum of u and next. Streaming usage
// metadata is cumulative, so a counter never goes down.
func (u Usage) Merge(next Usage) Usage {
	return Usage{
		InputTokens:    max(u.InputTokens, next.InputTokens),
		ThoughtsTokens: max(u.ThoughtsTokens, next.ThoughtsTokens),
		OutputTokens:   max(u.OutputTokens, next.OutputTokens),
	}
}

// Chunk is one streamed delivery.
type Chunk struct {
	Text  string
	Usage Usage
}

// Kind classifies client errors.
type Kind string

const (
	KindAPIKeyMissing Kind = "API_KEY_MISSING"
	KindNetwork       Kind = "NETWORK_ERROR"
	KindAPI           Kind = "API_ERROR"
	KindCancelled     Kind = "CANCELLED"
	KindTimeout       Kind = "TIMEOUT"
)

// Error is a classified client error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrAPIKeyMissing is returned by any call made before Initialize with a key.
var ErrAPIKeyMissing = &Error{Kind: KindAPIKeyMissing, Message: "Gemini API key is not configured"}
