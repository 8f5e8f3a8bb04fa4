package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/hpungsan/promptorg/internal/logger"
)

// GeminiClient talks to the Gemini API through google.golang.org/genai.
// It starts uninitialized; Initialize may be called any number of times.
type GeminiClient struct {
	model string
	log   *logger.Logger

	mu     sync.RWMutex
	client *genai.Client
	apiKey string
}

// NewGeminiClient creates an uninitialized client for model.
func NewGeminiClient(model string, log *logger.Logger) *GeminiClient {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GeminiClient{model: model, log: log}
}

// Initialize creates the underlying genai client. Re-initializing with the
// same key is a no-op; a different key replaces the client.
func (c *GeminiClient) Initialize(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrAPIKeyMissing
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.apiKey == apiKey {
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &Error{Kind: KindAPI, Message: fmt.Sprintf("failed to create Gemini client: %v", err), Err: err}
	}
	c.client = client
	c.apiKey = apiKey
	c.log.Debug("gemini client initialized", "model", c.model)
	return nil
}

// IsInitialized reports whether Initialize has succeeded.
func (c *GeminiClient) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

func (c *GeminiClient) current() *genai.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// CountTokens asks the API for the input token count of text. No content
// is generated.
func (c *GeminiClient) CountTokens(ctx context.Context, text string) (int, error) {
	client := c.current()
	if client == nil {
		return 0, ErrAPIKeyMissing
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := client.Models.CountTokens(ctx, c.model, contents, nil)
	if err != nil {
		return 0, classify(ctx, err)
	}
	return int(resp.TotalTokens), nil
}

// GenerateStream issues a streaming structured-generation call. Each
// delivery yields a Chunk; the first error ends the sequence. Breaking out
// of the range loop stops reading but does not recall the request.
func (c *GeminiClient) GenerateStream(ctx context.Context, req StreamRequest) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		client := c.current()
		if client == nil {
			yield(Chunk{}, ErrAPIKeyMissing)
			return
		}

		cfg := &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      req.Temperature,
		}
		if req.SystemInstruction != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
		}
		if req.Schema != nil {
			cfg.ResponseSchema = req.Schema.toGenAI()
		}

		contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
		start := time.Now()
		chunks := 0
		for resp, err := range client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
			if err != nil {
				c.log.Warn("gemini stream failed", "model", c.model, "chunks", chunks, "elapsed", time.Since(start), "error", err)
				yield(Chunk{}, classify(ctx, err))
				return
			}
			chunks++
			if !yield(chunkFrom(resp), nil) {
				return
			}
		}
		c.log.Debug("gemini stream finished", "model", c.model, "chunks", chunks, "elapsed", time.Since(start))
	}
}

func chunkFrom(resp *genai.GenerateContentResponse) Chunk {
	if resp == nil {
		return Chunk{}
	}
	chunk := Chunk{Text: resp.Text()}
	if md := resp.UsageMetadata; md != nil {
		chunk.Usage = Usage{
			InputTokens:    int(md.PromptTokenCount),
			ThoughtsTokens: int(md.ThoughtsTokenCount),
			OutputTokens:   int(md.CandidatesTokenCount),
		}
	}
	return chunk
}

// classify maps transport and provider failures onto Kind.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCancelled, Message: "request cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindAPI, Message: apiMessage(apiErr), Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &Error{Kind: KindAPI, Message: apiMessage(*apiErrPtr), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindAPI, Message: err.Error(), Err: err}
}

func apiMessage(e genai.APIError) string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Status)
}

// toGenAI converts the schema into genai's OpenAPI-flavoured schema.
func (s *Schema) toGenAI() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       s.Items.toGenAI(),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.toGenAI()
		}
	}
	return out
}

func genaiType(t SchemaType) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeString:
		return genai.TypeString
	case TypeInteger:
		return genai.TypeInteger
	case TypeNumber:
		return genai.TypeNumber
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}
