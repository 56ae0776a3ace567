package consolidator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func learningItem(id string, tags ...string) *memory.ContextItem {
	it := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "content for "+id)
	it.ID = id
	it.Tags = tags
	return it
}

func TestGroupSimilarItemsByTags(t *testing.T) {
	a := learningItem("a", "config", "env")
	a.Content = "Loader merges overrides last"
	b := learningItem("b", "config", "env", "yaml")
	b.Content = "Parsing falls back to defaults"
	c := learningItem("c", "network")
	c.Content = "Socket deadline raised to thirty seconds"

	groups := groupSimilarItems([]*memory.ContextItem{a, b, c})

	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
	assert.Equal(t, "a", groups[0][0].ID)
	assert.Equal(t, "b", groups[0][1].ID)
}

func TestGroupSimilarItemsByContent(t *testing.T) {
	a := learningItem("a")
	a.Content = "retry the flaky integration suite before merging"
	b := learningItem("b")
	b.Content = "integration suite retry fixed the flaky gate"
	c := learningItem("c")
	c.Content = "database migration rolled back cleanly"

	groups := groupSimilarItems([]*memory.ContextItem{a, b, c})

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b"}, itemIDs(groups[0]))
}

func TestGroupSimilarItemsDropsSingletons(t *testing.T) {
	a := learningItem("a", "alpha")
	a.Content = "first subject entirely"
	b := learningItem("b", "beta")
	b.Content = "second matter altogether"

	assert.Nil(t, groupSimilarItems([]*memory.ContextItem{a, b}))
	assert.Nil(t, groupSimilarItems(nil))
}

func TestGroupConfidence(t *testing.T) {
	small := []*memory.ContextItem{
		{RelevanceScore: 0.5},
		{RelevanceScore: 0.7},
	}
	assert.InDelta(t, 0.8, groupConfidence(small), 1e-9)

	// Size bonus caps at 0.3 and the total clamps at 1.0.
	large := make([]*memory.ContextItem, 5)
	for i := range large {
		large[i] = &memory.ContextItem{RelevanceScore: 0.6}
	}
	assert.InDelta(t, 0.9, groupConfidence(large), 1e-9)

	high := make([]*memory.ContextItem, 5)
	for i := range high {
		high[i] = &memory.ContextItem{RelevanceScore: 0.9}
	}
	assert.Equal(t, 1.0, groupConfidence(high))
}

func TestResultFromGroup(t *testing.T) {
	a := learningItem("a", "config")
	a.Content = "Lower relevance representative"
	a.RelevanceScore = 0.4
	a.ProjectID = "proj-a"
	b := learningItem("b", "config", "env")
	b.Content = "Higher relevance representative"
	b.RelevanceScore = 0.9

	result := resultFromGroup([]*memory.ContextItem{a, b}, memory.ConsolidationPattern)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, memory.ConsolidationPattern, result.Type)
	assert.Equal(t, "Recurring approach (2 occurrences): Higher relevance representative", result.Pattern)
	assert.Equal(t, []string{"a", "b"}, result.Evidence)
	assert.Equal(t, 2, result.Frequency)
	assert.Equal(t, []string{"config", "env", "project:proj-a"}, result.Applicability)
	assert.InDelta(t, 0.85, result.Confidence, 1e-9)
	assert.False(t, result.CreatedAt.IsZero())
}

func TestResultFromGroupFailurePrefix(t *testing.T) {
	a := learningItem("a", "timeout")
	b := learningItem("b", "timeout")
	result := resultFromGroup([]*memory.ContextItem{a, b}, memory.ConsolidationAntipattern)
	assert.Contains(t, result.Pattern, "Recurring failure (2 occurrences):")
}

func TestExtractTechniques(t *testing.T) {
	items := []*memory.ContextItem{
		learningItem("a", memory.TagToolPrefix+"grep"),
		learningItem("b", memory.TagToolPrefix+"grep"),
		learningItem("c", memory.TagToolPrefix+"sed"),
		learningItem("d", memory.TagToolPrefix+"sed"),
	}
	// Tool markers in metadata count the same as tags.
	viaMeta := learningItem("e")
	viaMeta.Metadata[memory.MetaTool] = "grep"
	viaMeta.RelevanceScore = 0.9
	viaMeta.Content = "grep narrowed the failing assertion fast"
	items = append(items, viaMeta)

	results := extractTechniques(items)

	require.Len(t, results, 1)
	technique := results[0]
	assert.Equal(t, memory.ConsolidationTechnique, technique.Type)
	assert.Equal(t, 3, technique.Frequency)
	assert.Equal(t, []string{"a", "b", "e"}, technique.Evidence)
	assert.InDelta(t, 0.6, technique.Confidence, 1e-9)
	assert.Contains(t, technique.Pattern, "grep (3 occurrences)")
	assert.Contains(t, technique.Pattern, "grep narrowed the failing assertion fast")
}

func TestExtractTechniquesConfidenceCap(t *testing.T) {
	var items []*memory.ContextItem
	for i := 0; i < 7; i++ {
		items = append(items, learningItem(string(rune('a'+i)), memory.TagToolPrefix+"rg"))
	}
	results := extractTechniques(items)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.9, results[0].Confidence, 1e-9)
}

func TestPromoteItemHonorsMetadata(t *testing.T) {
	it := learningItem("p1")
	it.Content = "Prefer table-driven tests for parsers"
	it.RelevanceScore = 0.4
	it.Metadata["category"] = "failure"
	it.Metadata["confidence"] = 0.8
	it.Metadata["frequency"] = 4

	result := promoteItem(it)

	assert.Equal(t, memory.ConsolidationAntipattern, result.Type)
	assert.Equal(t, "Prefer table-driven tests for parsers", result.Pattern)
	assert.Equal(t, []string{"p1"}, result.Evidence)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	assert.Equal(t, 4, result.Frequency)
}

func TestConsolidationTypeFor(t *testing.T) {
	tests := []struct {
		name     string
		category string
		tags     []string
		want     memory.ConsolidationType
	}{
		{name: "success metadata", category: "success", want: memory.ConsolidationPattern},
		{name: "failure metadata", category: "failure", want: memory.ConsolidationAntipattern},
		{name: "antipattern metadata", category: "antipattern", want: memory.ConsolidationAntipattern},
		{name: "technique metadata", category: "technique", want: memory.ConsolidationTechnique},
		{name: "technique tag", tags: []string{"technique"}, want: memory.ConsolidationTechnique},
		{name: "uncategorized", want: memory.ConsolidationInsight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := learningItem("x", tt.tags...)
			if tt.category != "" {
				it.Metadata["category"] = tt.category
			}
			assert.Equal(t, tt.want, consolidationTypeFor(it))
		})
	}
}

func TestCrossContextInsight(t *testing.T) {
	var items []*memory.ContextItem
	for i := 0; i < 5; i++ {
		it := learningItem(string(rune('a' + i)))
		if i%2 == 0 {
			it.ProjectID = "proj-a"
		} else {
			it.ProjectID = "proj-b"
		}
		items = append(items, it)
	}

	insight := crossContextInsight(items)
	require.NotNil(t, insight)
	assert.Equal(t, memory.ConsolidationInsight, insight.Type)
	assert.Contains(t, insight.Pattern, "across 2 projects (proj-a, proj-b)")
	assert.Equal(t, 5, insight.Frequency)

	// Too few items, or too few projects, and the insight stays quiet.
	assert.Nil(t, crossContextInsight(items[:4]))
	for _, it := range items {
		it.ProjectID = "proj-a"
	}
	assert.Nil(t, crossContextInsight(items))
}

func TestTemporalInsightRecurringDays(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var items []*memory.ContextItem
	for i := 0; i < 3; i++ {
		it := learningItem(string(rune('a' + i)))
		it.Timestamp = base.AddDate(0, 0, i)
		items = append(items, it)
	}

	insight := temporalInsight(items)
	require.NotNil(t, insight)
	assert.Contains(t, insight.Pattern, "recurring on 3 separate days")
	assert.Contains(t, insight.Pattern, "2026-03-01")
	assert.Contains(t, insight.Pattern, "2026-03-03")
}

func TestTemporalInsightBurst(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var items []*memory.ContextItem
	for i := 0; i < 4; i++ {
		it := learningItem(string(rune('a' + i)))
		it.Timestamp = base.Add(time.Duration(i) * 5 * time.Minute)
		items = append(items, it)
	}

	insight := temporalInsight(items)
	require.NotNil(t, insight)
	assert.Contains(t, insight.Pattern, "Burst of 4 related items")
}

func TestTemporalInsightNone(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Two days, more than an hour apart: neither recurring nor a burst.
	items := []*memory.ContextItem{
		learningItem("a"), learningItem("b"), learningItem("c"),
	}
	items[0].Timestamp = base
	items[1].Timestamp = base.Add(2 * time.Hour)
	items[2].Timestamp = base.AddDate(0, 0, 1)

	assert.Nil(t, temporalInsight(items))
	assert.Nil(t, temporalInsight(items[:2]))
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "short", truncateWords("  short  ", 200))

	long := "alpha beta gamma delta epsilon"
	assert.Equal(t, "alpha beta gamma...", truncateWords(long, 17))

	// No word boundary inside the limit cuts hard.
	assert.Equal(t, "abcd...", truncateWords("abcdefghij", 4))
}

func TestOverlapRatio(t *testing.T) {
	assert.Equal(t, 0.0, overlapRatio(nil, stringSet([]string{"a"})))
	a := stringSet([]string{"a", "b"})
	b := stringSet([]string{"b", "c"})
	assert.InDelta(t, 1.0/3.0, overlapRatio(a, b), 1e-9)
}

func TestToolMarker(t *testing.T) {
	tagged := learningItem("a", "other", memory.TagToolPrefix+"Curl")
	assert.Equal(t, "curl", toolMarker(tagged))

	meta := learningItem("b")
	meta.Metadata[memory.MetaTool] = "jq"
	assert.Equal(t, "jq", toolMarker(meta))

	assert.Equal(t, "", toolMarker(learningItem("c", "plain")))
}
