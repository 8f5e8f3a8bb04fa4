package organizer

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/hpungsan/promptorg/internal/library"
	"github.com/hpungsan/promptorg/internal/llm"
)

// fakeClient is a scripted LLMClient.
type fakeClient struct {
	mu          sync.Mutex
	initialized bool
	initCalls   int
	initKey     string

	tokens    int
	countErr  error
	countText string

	chunks    []llm.Chunk
	streamErr error // yielded after all chunks
	lastReq   llm.StreamRequest

	// afterChunk runs after the consumer accepts chunk i.
	afterChunk func(i int)
}

func (f *fakeClient) Initialize(apiKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if apiKey == "" {
		return llm.ErrAPIKeyMissing
	}
	f.initialized = true
	f.initKey = apiKey
	return nil
}

func (f *fakeClient) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *fakeClient) CountTokens(_ context.Context, text string) (int, error) {
	f.countText = text
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.tokens, nil
}

func (f *fakeClient) GenerateStream(_ context.Context, req llm.StreamRequest) iter.Seq2[llm.Chunk, error] {
	f.lastReq = req
	return func(yield func(llm.Chunk, error) bool) {
		for i, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
			if f.afterChunk != nil {
				f.afterChunk(i)
			}
		}
		if f.streamErr != nil {
			yield(llm.Chunk{}, f.streamErr)
		}
	}
}

// respond scripts a successful response split into n chunks.
func (f *fakeClient) respond(body string, n int, usage llm.Usage) {
	f.chunks = nil
	size := (len(body) + n - 1) / n
	for i := 0; i < len(body); i += size {
		end := min(i+size, len(body))
		f.chunks = append(f.chunks, llm.Chunk{Text: body[i:end], Usage: usage})
	}
}

// memPrompts is an in-memory PromptStore.
type memPrompts struct {
	mu        sync.Mutex
	prompts   []library.Prompt
	getErr    error
	failFlags map[string]bool
}

func (m *memPrompts) GetAllPrompts(context.Context) ([]library.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return append([]library.Prompt(nil), m.prompts...), nil
}

func (m *memPrompts) UpdatePrompt(_ context.Context, id string, patch library.PromptPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFlags[id] {
		return fmt.Errorf("update %s: database is locked", id)
	}
	for i := range m.prompts {
		if m.prompts[i].ID == id {
			if patch.ExcludeFromOrganizer != nil {
				m.prompts[i].ExcludeFromOrganizer = *patch.ExcludeFromOrganizer
			}
			return nil
		}
	}
	return fmt.Errorf("prompt %s not found", id)
}

func (m *memPrompts) get(id string) library.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prompts {
		if p.ID == id {
			return p
		}
	}
	return library.Prompt{}
}

type memCategories struct {
	categories []library.Category
}

func (m *memCategories) GetAll(context.Context) ([]library.Category, error) {
	return m.categories, nil
}

// memPending is an in-memory PendingStore.
type memPending struct {
	batch   *PendingBatch
	writes  int
	saveErr error
}

func (m *memPending) LoadPending(context.Context) (*PendingBatch, error) {
	return m.batch, nil
}

func (m *memPending) SavePending(_ context.Context, b *PendingBatch) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.writes++
	cp := *b
	cp.Templates = append([]TemplateCandidate(nil), b.Templates...)
	m.batch = &cp
	return nil
}

func (m *memPending) ClearPending(context.Context) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.writes++
	m.batch = nil
	return nil
}

// memTemplates is an in-memory TemplatePersister.
type memTemplates struct {
	saved   []TemplateCandidate
	saveErr error
}

func (m *memTemplates) SaveTemplates(_ context.Context, cs []TemplateCandidate) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, cs...)
	return nil
}

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func daysAgo(n int) time.Time {
	return testNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func defaultCategories() *memCategories {
	return &memCategories{categories: []library.Category{
		{ID: library.OtherCategoryID, Name: "Other"},
		{ID: "writing", Name: "Writing"},
		{ID: "coding", Name: "Coding"},
	}}
}

func candidate(id string, action UserAction) TemplateCandidate {
	return TemplateCandidate{
		ID:         id,
		Title:      "title " + id,
		Content:    "content {{x}}",
		CategoryID: library.OtherCategoryID,
		Variables:  []library.Variable{{Name: "x", Description: "x"}},
		UserAction: action,
	}
}
