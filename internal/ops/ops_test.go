package ops

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/promptorg/internal/config"
	"github.com/hpungsan/promptorg/internal/db"
	"github.com/hpungsan/promptorg/internal/llm"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// scriptedLLM answers CountTokens with a fixed count and streams body.
type scriptedLLM struct {
	initialized bool
	tokens      int
	body        string
	usage       llm.Usage

	// started is closed when a stream begins; block, when set, is
	// received from before the first chunk.
	started chan struct{}
	block   chan struct{}
}

func (s *scriptedLLM) Initialize(apiKey string) error {
	if apiKey == "" {
		return llm.ErrAPIKeyMissing
	}
	s.initialized = true
	return nil
}

func (s *scriptedLLM) IsInitialized() bool { return s.initialized }

func (s *scriptedLLM) CountTokens(context.Context, string) (int, error) { return s.tokens, nil }

func (s *scriptedLLM) GenerateStream(ctx context.Context, _ llm.StreamRequest) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		if s.started != nil {
			close(s.started)
		}
		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
				yield(llm.Chunk{}, &llm.Error{Kind: llm.KindCancelled, Err: ctx.Err()})
				return
			}
		}
		yield(llm.Chunk{Text: s.body, Usage: s.usage}, nil)
	}
}

func newTestDeps(t *testing.T, client *scriptedLLM) *Deps {
	t.Helper()
	baseDir := t.TempDir()
	database, err := db.Init(baseDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.GeminiAPIKey = "test-key"
	d := NewDeps(database, cfg, baseDir, client, nil)
	d.Now = func() time.Time { return testNow }
	return d
}

func addPrompt(t *testing.T, d *Deps, content string, count int, daysAgo int) string {
	t.Helper()
	at := testNow.Add(-time.Duration(daysAgo) * 24 * time.Hour)
	out, err := AddPrompt(context.Background(), d, AddPromptInput{Content: content, ExecutionCount: count, LastExecutedAt: &at})
	require.NoError(t, err)
	return out.Prompt.ID
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	got, p := page(items, 2, 0)
	require.Equal(t, []int{1, 2}, got)
	require.Equal(t, Pagination{Limit: 2, Offset: 0, HasMore: true, Total: 5}, p)

	got, p = page(items, 2, 4)
	require.Equal(t, []int{5}, got)
	require.False(t, p.HasMore)

	got, _ = page(items, 2, 10)
	require.Empty(t, got)
	require.NotNil(t, got)
}

func TestClampPage(t *testing.T) {
	limit, offset := clampPage(0, -3)
	require.Equal(t, DefaultListLimit, limit)
	require.Equal(t, 0, offset)

	limit, _ = clampPage(1000, 0)
	require.Equal(t, MaxListLimit, limit)
}

func TestPricingFromConfig(t *testing.T) {
	d := newTestDeps(t, &scriptedLLM{})

	p := d.Pricing()

	require.Equal(t, d.Config.PriceInputPerMillion, p.InputPerMillion)
	require.Equal(t, d.Config.PriceOutputPerMillion, p.OutputPerMillion)
	require.Equal(t, d.Config.FXRate, p.FXRate)
	require.Equal(t, d.Config.Currency, p.Currency)
}
