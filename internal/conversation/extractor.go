package conversation

import (
	"regexp"
	"strings"
)

// maxEntitiesPerTurn caps how many entities one turn contributes to the
// mention index.
const maxEntitiesPerTurn = 8

// Extractor derives entities and intent from raw message text.
type Extractor struct {
	filePathPattern *regexp.Regexp
	codeSpanPattern *regexp.Regexp
	versionPattern  *regexp.Regexp
}

// NewExtractor creates an extractor with compiled patterns.
func NewExtractor() *Extractor {
	return &Extractor{
		// Paths with an extension, delimited by whitespace, quotes or
		// brackets.
		filePathPattern: regexp.MustCompile(`(?:^|[\s"'\(])([a-zA-Z0-9_\-./]+\.[a-zA-Z0-9]+)(?:$|[\s"'\):,])`),
		codeSpanPattern: regexp.MustCompile("`([^`\n]+)`"),
		versionPattern:  regexp.MustCompile(`^v\d+\.\d+`),
	}
}

// Entities extracts file paths and inline code spans mentioned in the text,
// deduplicated in order of first mention.
func (e *Extractor) Entities(text string) []string {
	var entities []string
	seen := make(map[string]bool)
	add := func(entity string) {
		entity = strings.TrimSpace(entity)
		if entity == "" || seen[entity] || len(entities) >= maxEntitiesPerTurn {
			return
		}
		seen[entity] = true
		entities = append(entities, entity)
	}

	for _, match := range e.filePathPattern.FindAllStringSubmatch(text, -1) {
		if len(match) > 1 && e.isValidFilePath(match[1]) {
			add(match[1])
		}
	}
	for _, match := range e.codeSpanPattern.FindAllStringSubmatch(text, -1) {
		if len(match) > 1 && isValidCodeSpan(match[1]) {
			add(match[1])
		}
	}
	return entities
}

// isValidFilePath filters out URLs, version strings and abbreviation-like
// false positives.
func (e *Extractor) isValidFilePath(path string) bool {
	if len(path) < 3 {
		return false
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return false
	}
	if e.versionPattern.MatchString(path) {
		return false
	}
	switch path {
	case "0.0.0", "1.0.0", "2.0.0", "e.g.", "i.e.", "etc.":
		return false
	}
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return false
	}
	ext := parts[len(parts)-1]
	return len(ext) >= 1 && len(ext) <= 10
}

func isValidCodeSpan(span string) bool {
	span = strings.TrimSpace(span)
	return len(span) >= 2 && len(span) <= 64
}

// interrogatives open questions that lack a question mark.
var interrogatives = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"which": true, "who": true, "can": true, "could": true, "should": true,
	"would": true, "does": true, "did": true, "is": true, "are": true,
}

// commandVerbs open imperative requests.
var commandVerbs = map[string]bool{
	"add": true, "build": true, "change": true, "create": true,
	"delete": true, "fix": true, "implement": true, "install": true,
	"make": true, "move": true, "refactor": true, "remove": true,
	"rename": true, "run": true, "update": true, "write": true,
}

var feedbackMarkers = []string{
	"thanks", "thank you", "looks good", "lgtm", "perfect", "well done",
	"not what i", "that's wrong", "that is wrong", "try again",
}

// Intent classifies a turn. Question beats command beats feedback; anything
// else is a statement.
func (e *Extractor) Intent(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return IntentStatement
	}
	if strings.HasSuffix(t, "?") {
		return IntentQuestion
	}

	words := strings.Fields(t)
	first := words[0]
	if interrogatives[first] {
		return IntentQuestion
	}
	for _, lead := range []string{"please", "now", "then"} {
		if first == lead && len(words) > 1 {
			first = words[1]
			break
		}
	}
	if commandVerbs[first] {
		return IntentCommand
	}
	for _, marker := range feedbackMarkers {
		if strings.Contains(t, marker) {
			return IntentFeedback
		}
	}
	return IntentStatement
}
