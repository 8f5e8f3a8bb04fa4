package organizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/promptorg/internal/library"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func baseSettings() Settings {
	return Settings{PeriodDays: 30, MinExecutionCount: 2, MaxPrompts: 50}
}

func TestSelectCandidates_Filters(t *testing.T) {
	prompts := []library.Prompt{
		{ID: "keep", ExecutionCount: 5, LastExecutedAt: daysAgo(1)},
		{ID: "excluded", ExecutionCount: 9, LastExecutedAt: daysAgo(1), ExcludeFromOrganizer: true},
		{ID: "stale", ExecutionCount: 9, LastExecutedAt: daysAgo(31)},
		{ID: "never", ExecutionCount: 9},
		{ID: "rare", ExecutionCount: 1, LastExecutedAt: daysAgo(1)},
		{ID: "boundary", ExecutionCount: 2, LastExecutedAt: daysAgo(30)},
	}

	got := SelectCandidates(prompts, baseSettings(), testNow)

	require.Equal(t, []string{"keep", "boundary"}, inputIDs(got))
}

func TestSelectCandidates_OrderAndTies(t *testing.T) {
	prompts := []library.Prompt{
		{ID: "a", ExecutionCount: 3, LastExecutedAt: daysAgo(5)},
		{ID: "b", ExecutionCount: 7, LastExecutedAt: daysAgo(5)},
		{ID: "c", ExecutionCount: 3, LastExecutedAt: daysAgo(1)},
		{ID: "d", ExecutionCount: 3, LastExecutedAt: daysAgo(5)},
	}

	got := SelectCandidates(prompts, baseSettings(), testNow)

	require.Equal(t, []string{"b", "c", "a", "d"}, inputIDs(got))
}

func TestSelectCandidates_CapsAtMaxPrompts(t *testing.T) {
	var prompts []library.Prompt
	for i := 0; i < 10; i++ {
		prompts = append(prompts, library.Prompt{
			ID:             strings.Repeat("p", i+1),
			ExecutionCount: 10 - i,
			LastExecutedAt: daysAgo(1),
		})
	}
	s := baseSettings()
	s.MaxPrompts = 3

	got := SelectCandidates(prompts, s, testNow)

	require.Len(t, got, 3)
	require.Equal(t, []string{"p", "pp", "ppp"}, inputIDs(got))
}

func TestSelectCandidates_Projection(t *testing.T) {
	prompts := []library.Prompt{{
		ID: "p1", Name: "Review", Content: "review this", ExecutionCount: 4, LastExecutedAt: daysAgo(2),
	}}

	got := SelectCandidates(prompts, baseSettings(), testNow)

	require.Equal(t, []CandidateInput{{ID: "p1", Name: "Review", Content: "review this", ExecutionCount: 4}}, got)
}

// Raising the bar never admits a prompt that was previously rejected.
func TestSelectCandidates_MonotonicInMinExecutionCount(t *testing.T) {
	var prompts []library.Prompt
	for i := 0; i < 8; i++ {
		prompts = append(prompts, library.Prompt{
			ID:             string(rune('a' + i)),
			ExecutionCount: i,
			LastExecutedAt: daysAgo(i * 5),
		})
	}

	prev := map[string]bool{}
	for _, p := range SelectCandidates(prompts, Settings{PeriodDays: 30, MinExecutionCount: 0, MaxPrompts: 100}, testNow) {
		prev[p.ID] = true
	}
	for minExec := 1; minExec <= 8; minExec++ {
		got := SelectCandidates(prompts, Settings{PeriodDays: 30, MinExecutionCount: minExec, MaxPrompts: 100}, testNow)
		cur := map[string]bool{}
		for _, p := range got {
			require.True(t, prev[p.ID], "min=%d admitted %s", minExec, p.ID)
			require.GreaterOrEqual(t, p.ExecutionCount, minExec)
			cur[p.ID] = true
		}
		prev = cur
	}
}

func TestSelectCandidates_EmptyIsValid(t *testing.T) {
	require.Empty(t, SelectCandidates(nil, baseSettings(), testNow))
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, baseSettings().Validate())

	bad := []Settings{
		{PeriodDays: 0, MinExecutionCount: 1, MaxPrompts: 1},
		{PeriodDays: 1, MinExecutionCount: -1, MaxPrompts: 1},
		{PeriodDays: 1, MinExecutionCount: 1, MaxPrompts: 0},
	}
	for _, s := range bad {
		require.Error(t, s.Validate(), "%+v", s)
	}
}

func TestParseUserAction(t *testing.T) {
	for _, s := range []string{"pending", "save", "discard", "save_and_pin"} {
		a, err := ParseUserAction(s)
		require.NoError(t, err)
		require.Equal(t, UserAction(s), a)
	}
	_, err := ParseUserAction("pin")
	require.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	text := BuildPrompt("", defaultCategories().categories, []CandidateInput{
		{ID: "p1", Content: "summarize {{doc}}", ExecutionCount: 4},
		{ID: "p2", Content: "translate this", ExecutionCount: 2},
	})

	require.Contains(t, text, DefaultOrganizationPrompt)
	require.Contains(t, text, "- id: writing, name: Writing")
	require.Contains(t, text, "## Prompt 1\nid: p1\nexecutionCount: 4\ncontent:\nsummarize {{doc}}\n")
	require.Contains(t, text, "## Prompt 2\nid: p2\n")
	require.Less(t, strings.Index(text, "id: p1"), strings.Index(text, "id: p2"))
}

func TestBuildPrompt_CustomInstructionAndNoCategories(t *testing.T) {
	text := BuildPrompt("  group by language  ", nil, nil)

	require.True(t, strings.HasPrefix(text, "# Instructions\ngroup by language\n"))
	require.NotContains(t, text, DefaultOrganizationPrompt)
	require.Contains(t, text, "- id: other, name: Other")
}

func TestTemplateSchema_RequiresWireFields(t *testing.T) {
	s := TemplateSchema()
	require.Equal(t, []string{"prompts"}, s.Required)
	item := s.Properties["prompts"].Items
	require.ElementsMatch(t,
		[]string{"title", "content", "useCase", "categoryId", "sourcePromptIds", "variables"},
		item.Required)
}
