package task

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// minFailuresForMining is the failure count that triggers pattern
	// mining.
	minFailuresForMining = 2

	// minKeywordLength is the length an error word must exceed to count
	// as a keyword.
	minKeywordLength = 3

	// minKeywordAttempts is the number of distinct failed attempts a
	// keyword must appear in to count as repeated.
	minKeywordAttempts = 2

	// minToolRepeats is the number of failed attempts a tool must appear
	// in to count as repeated.
	minToolRepeats = 2
)

// repeatedErrorKeywords returns, in first-seen order, every error keyword
// that appears in at least minKeywordAttempts distinct failed attempts.
func repeatedErrorKeywords(failures []Attempt) []string {
	counts := make(map[string]int)
	var order []string
	for _, a := range failures {
		seen := make(map[string]bool)
		for _, kw := range errorKeywords(a.Error) {
			if seen[kw] {
				continue
			}
			seen[kw] = true
			if counts[kw] == 0 {
				order = append(order, kw)
			}
			counts[kw]++
		}
	}
	var repeated []string
	for _, kw := range order {
		if counts[kw] >= minKeywordAttempts {
			repeated = append(repeated, kw)
		}
	}
	return repeated
}

// errorKeywords lowercases the error text and keeps every word longer than
// minKeywordLength.
func errorKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	var keywords []string
	for _, w := range words {
		if len(w) > minKeywordLength {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// repeatedTools returns, in first-seen order, every tool used in at least
// minToolRepeats failed attempts.
func repeatedTools(failures []Attempt) []string {
	counts := make(map[string]int)
	var order []string
	for _, a := range failures {
		if a.Tool == "" {
			continue
		}
		if counts[a.Tool] == 0 {
			order = append(order, a.Tool)
		}
		counts[a.Tool]++
	}
	var repeated []string
	for _, tool := range order {
		if counts[tool] >= minToolRepeats {
			repeated = append(repeated, tool)
		}
	}
	return repeated
}

// formatAttempt renders one attempt as searchable prose.
func formatAttempt(taskDescription string, number int, a Attempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d for task %q", number, taskDescription)
	if a.Description != "" {
		fmt.Fprintf(&b, ": %s", a.Description)
	}
	if a.Tool != "" {
		fmt.Fprintf(&b, ". Tool: %s", a.Tool)
	}
	if a.Success {
		b.WriteString(". Outcome: success")
		if a.Solution != "" {
			fmt.Fprintf(&b, ". Solution: %s", a.Solution)
		}
	} else {
		b.WriteString(". Outcome: failure")
		if a.Error != "" {
			fmt.Fprintf(&b, ". Error: %s", a.Error)
		}
	}
	b.WriteString(".")
	return b.String()
}

// formatFailureEvidence renders mined failure signals as searchable prose.
func formatFailureEvidence(taskDescription string, keywords, tools []string, failureCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurring failure evidence for task %q after %d failed attempts.", taskDescription, failureCount)
	if len(keywords) > 0 {
		fmt.Fprintf(&b, " Repeated error keywords: %s.", strings.Join(keywords, ", "))
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, " Repeatedly failing tools: %s.", strings.Join(tools, ", "))
	}
	return b.String()
}
