package consolidator

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

const (
	// minGroupSize is the smallest item group worth distilling.
	minGroupSize = 2

	// tagOverlapThreshold and contentOverlapThreshold are the Jaccard
	// ratios above which two items count as similar. Either signal alone
	// is enough.
	tagOverlapThreshold     = 0.3
	contentOverlapThreshold = 0.2

	// minContentWordLength filters noise words when comparing content.
	// Words must be strictly longer to count.
	minContentWordLength = 3

	// minTechniqueItems is how many items must share a tool marker before
	// the tool usage is distilled as a technique.
	minTechniqueItems = 3

	// minCrossContextItems and minTemporalItems gate the distillation
	// insights.
	minCrossContextItems = 5
	minTemporalItems     = 3

	// minTemporalDays is how many distinct days a theme must span to count
	// as recurring; items closer together than burstWindow form a burst.
	minTemporalDays = 3
	burstWindow     = time.Hour

	// patternTextLimit bounds distilled pattern prose.
	patternTextLimit = 200
)

// applicabilityProjectPrefix marks a project-scoped applicability tag,
// e.g. "project:memoryd".
const applicabilityProjectPrefix = "project:"

// groupSimilarItems partitions items into groups of mutually similar items
// using single-pass greedy clustering: each unvisited item seeds a group
// and absorbs every later item similar to the seed. Groups smaller than
// minGroupSize are discarded.
func groupSimilarItems(items []*memory.ContextItem) [][]*memory.ContextItem {
	tags := make([]map[string]struct{}, len(items))
	words := make([]map[string]struct{}, len(items))
	for i, it := range items {
		tags[i] = stringSet(it.Tags)
		words[i] = contentWords(it.Content)
	}

	visited := make([]bool, len(items))
	var groups [][]*memory.ContextItem
	for i := range items {
		if visited[i] {
			continue
		}
		visited[i] = true
		group := []*memory.ContextItem{items[i]}
		for j := i + 1; j < len(items); j++ {
			if visited[j] {
				continue
			}
			if overlapRatio(tags[i], tags[j]) > tagOverlapThreshold ||
				overlapRatio(words[i], words[j]) > contentOverlapThreshold {
				visited[j] = true
				group = append(group, items[j])
			}
		}
		if len(group) >= minGroupSize {
			groups = append(groups, group)
		}
	}
	return groups
}

// extractSimilarityPatterns distills each similarity group into one result
// of the given type.
func extractSimilarityPatterns(items []*memory.ContextItem, typ memory.ConsolidationType) []*memory.ConsolidationResult {
	var out []*memory.ConsolidationResult
	for _, group := range groupSimilarItems(items) {
		out = append(out, resultFromGroup(group, typ))
	}
	return out
}

// resultFromGroup summarizes a similarity group. The most relevant member
// represents the group; confidence is the mean member relevance plus a
// size bonus of 0.1 per member, capped at 0.3.
func resultFromGroup(group []*memory.ContextItem, typ memory.ConsolidationType) *memory.ConsolidationResult {
	rep := representative(group)
	return &memory.ConsolidationResult{
		ID:            uuid.New().String(),
		Type:          typ,
		Pattern:       groupPattern(typ, len(group), truncateWords(rep.Content, patternTextLimit)),
		Evidence:      itemIDs(group),
		Confidence:    groupConfidence(group),
		Frequency:     len(group),
		Applicability: applicabilityFor(group),
		CreatedAt:     timeNow(),
	}
}

func groupPattern(typ memory.ConsolidationType, n int, rep string) string {
	switch typ {
	case memory.ConsolidationAntipattern:
		return fmt.Sprintf("Recurring failure (%d occurrences): %s", n, rep)
	default:
		return fmt.Sprintf("Recurring approach (%d occurrences): %s", n, rep)
	}
}

// groupConfidence is mean member relevance plus min(0.1*size, 0.3),
// clamped to [0, 1].
func groupConfidence(group []*memory.ContextItem) float64 {
	if len(group) == 0 {
		return 0
	}
	sum := 0.0
	for _, it := range group {
		sum += it.RelevanceScore
	}
	mean := sum / float64(len(group))
	bonus := 0.1 * float64(len(group))
	if bonus > 0.3 {
		bonus = 0.3
	}
	return memory.ClampScore(mean + bonus)
}

// extractTechniques distills repeated tool usage. A tool marked on at
// least minTechniqueItems items becomes a technique with confidence
// min(0.3 + 0.1*count, 0.9).
func extractTechniques(items []*memory.ContextItem) []*memory.ConsolidationResult {
	byTool := make(map[string][]*memory.ContextItem)
	var order []string
	for _, it := range items {
		tool := toolMarker(it)
		if tool == "" {
			continue
		}
		if _, seen := byTool[tool]; !seen {
			order = append(order, tool)
		}
		byTool[tool] = append(byTool[tool], it)
	}

	var out []*memory.ConsolidationResult
	for _, tool := range order {
		group := byTool[tool]
		if len(group) < minTechniqueItems {
			continue
		}
		confidence := 0.3 + 0.1*float64(len(group))
		if confidence > 0.9 {
			confidence = 0.9
		}
		rep := representative(group)
		out = append(out, &memory.ConsolidationResult{
			ID:            uuid.New().String(),
			Type:          memory.ConsolidationTechnique,
			Pattern:       fmt.Sprintf("Repeated effective use of %s (%d occurrences): %s", tool, len(group), truncateWords(rep.Content, patternTextLimit)),
			Evidence:      itemIDs(group),
			Confidence:    confidence,
			Frequency:     len(group),
			Applicability: applicabilityFor(group),
			CreatedAt:     timeNow(),
		})
	}
	return out
}

// distillKnowledge promotes each item into a typed result and adds batch
// level insights: a cross-context insight when the batch spans enough
// projects, and a temporal insight when the batch recurs across days or
// arrives as a burst.
func distillKnowledge(items []*memory.ContextItem) []*memory.ConsolidationResult {
	var out []*memory.ConsolidationResult
	for _, it := range items {
		out = append(out, promoteItem(it))
	}
	if insight := crossContextInsight(items); insight != nil {
		out = append(out, insight)
	}
	if insight := temporalInsight(items); insight != nil {
		out = append(out, insight)
	}
	return out
}

// promoteItem lifts a single item into a result, honoring confidence and
// frequency the item already carries in its metadata.
func promoteItem(it *memory.ContextItem) *memory.ConsolidationResult {
	confidence := it.RelevanceScore
	if v, ok := memory.MetadataFloat(it.Metadata, "confidence"); ok {
		confidence = v
	}
	frequency := 1
	if v, ok := memory.MetadataInt(it.Metadata, "frequency"); ok && v > 0 {
		frequency = v
	}
	return &memory.ConsolidationResult{
		ID:            uuid.New().String(),
		Type:          consolidationTypeFor(it),
		Pattern:       truncateWords(it.Content, patternTextLimit),
		Evidence:      []string{it.ID},
		Confidence:    memory.ClampScore(confidence),
		Frequency:     frequency,
		Applicability: applicabilityFor([]*memory.ContextItem{it}),
		CreatedAt:     timeNow(),
	}
}

// consolidationTypeFor derives the result type from the item's learning
// category, falling back to insight for uncategorized knowledge.
func consolidationTypeFor(it *memory.ContextItem) memory.ConsolidationType {
	category := ""
	if v, ok := it.Metadata["category"]; ok {
		if s, ok := v.(string); ok {
			category = s
		}
	}
	if category == "" {
		for _, c := range []string{"success", "failure", "technique", "antipattern"} {
			if it.HasTag(c) {
				category = c
				break
			}
		}
	}
	switch memory.PatternCategory(category) {
	case memory.CategorySuccess:
		return memory.ConsolidationPattern
	case memory.CategoryFailure, memory.CategoryAntipattern:
		return memory.ConsolidationAntipattern
	case memory.CategoryTechnique:
		return memory.ConsolidationTechnique
	default:
		return memory.ConsolidationInsight
	}
}

// crossContextInsight fires when a batch of at least minCrossContextItems
// items spans two or more projects.
func crossContextInsight(items []*memory.ContextItem) *memory.ConsolidationResult {
	if len(items) < minCrossContextItems {
		return nil
	}
	projects := distinctProjects(items)
	if len(projects) < 2 {
		return nil
	}
	rep := representative(items)
	return &memory.ConsolidationResult{
		ID:   uuid.New().String(),
		Type: memory.ConsolidationInsight,
		Pattern: fmt.Sprintf("Knowledge recurring across %d projects (%s): %s",
			len(projects), strings.Join(projects, ", "), truncateWords(rep.Content, patternTextLimit)),
		Evidence:      itemIDs(items),
		Confidence:    groupConfidence(items),
		Frequency:     len(items),
		Applicability: applicabilityFor(items),
		CreatedAt:     timeNow(),
	}
}

// temporalInsight fires when a batch of at least minTemporalItems items
// either spans minTemporalDays distinct days (a recurring theme) or all
// lands within burstWindow (a burst).
func temporalInsight(items []*memory.ContextItem) *memory.ConsolidationResult {
	if len(items) < minTemporalItems {
		return nil
	}
	days := make(map[string]struct{})
	earliest, latest := items[0].Timestamp, items[0].Timestamp
	for _, it := range items {
		days[it.Timestamp.UTC().Format("2006-01-02")] = struct{}{}
		if it.Timestamp.Before(earliest) {
			earliest = it.Timestamp
		}
		if it.Timestamp.After(latest) {
			latest = it.Timestamp
		}
	}

	rep := representative(items)
	var pattern string
	switch {
	case len(days) >= minTemporalDays:
		pattern = fmt.Sprintf("Theme recurring on %d separate days between %s and %s: %s",
			len(days), earliest.UTC().Format("2006-01-02"), latest.UTC().Format("2006-01-02"),
			truncateWords(rep.Content, patternTextLimit))
	case latest.Sub(earliest) <= burstWindow:
		pattern = fmt.Sprintf("Burst of %d related items within %s: %s",
			len(items), latest.Sub(earliest).Round(time.Second),
			truncateWords(rep.Content, patternTextLimit))
	default:
		return nil
	}
	return &memory.ConsolidationResult{
		ID:            uuid.New().String(),
		Type:          memory.ConsolidationInsight,
		Pattern:       pattern,
		Evidence:      itemIDs(items),
		Confidence:    groupConfidence(items),
		Frequency:     len(items),
		Applicability: applicabilityFor(items),
		CreatedAt:     timeNow(),
	}
}

// representative returns the highest-relevance member, preferring earlier
// members on ties.
func representative(group []*memory.ContextItem) *memory.ContextItem {
	best := group[0]
	for _, it := range group[1:] {
		if it.RelevanceScore > best.RelevanceScore {
			best = it
		}
	}
	return best
}

// applicabilityFor is the sorted union of group tags plus a project tag
// per distinct project.
func applicabilityFor(group []*memory.ContextItem) []string {
	set := make(map[string]struct{})
	for _, it := range group {
		for _, tag := range it.Tags {
			set[tag] = struct{}{}
		}
		if it.ProjectID != "" {
			set[applicabilityProjectPrefix+it.ProjectID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// toolMarker returns the tool an item records usage of, from a tool tag or
// the tool metadata key, or "" when the item carries neither.
func toolMarker(it *memory.ContextItem) string {
	for _, tag := range it.Tags {
		if strings.HasPrefix(tag, memory.TagToolPrefix) && len(tag) > len(memory.TagToolPrefix) {
			return strings.ToLower(strings.TrimPrefix(tag, memory.TagToolPrefix))
		}
	}
	if v, ok := it.Metadata[memory.MetaTool]; ok {
		if s, ok := v.(string); ok && s != "" {
			return strings.ToLower(s)
		}
	}
	return ""
}

func distinctProjects(items []*memory.ContextItem) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, it := range items {
		if it.ProjectID == "" {
			continue
		}
		if _, ok := seen[it.ProjectID]; ok {
			continue
		}
		seen[it.ProjectID] = struct{}{}
		out = append(out, it.ProjectID)
	}
	sort.Strings(out)
	return out
}

func itemIDs(group []*memory.ContextItem) []string {
	ids := make([]string, len(group))
	for i, it := range group {
		ids[i] = it.ID
	}
	return ids
}

// overlapRatio is the Jaccard similarity of two sets.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

// contentWords lowercases content and keeps words longer than
// minContentWordLength. Underscores bind identifiers together.
func contentWords(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(map[string]struct{})
	for _, w := range words {
		if len(w) > minContentWordLength {
			set[w] = struct{}{}
		}
	}
	return set
}

// truncateWords shortens s to at most limit bytes at a word boundary.
func truncateWords(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	cut := strings.LastIndex(s[:limit], " ")
	if cut <= 0 {
		cut = limit
	}
	return s[:cut] + "..."
}
