package memory

import "time"

// PatternCategory classifies a recognized recurring behavior.
type PatternCategory string

const (
	CategorySuccess     PatternCategory = "success"
	CategoryFailure     PatternCategory = "failure"
	CategoryTechnique   PatternCategory = "technique"
	CategoryAntipattern PatternCategory = "antipattern"
)

// NewPatternConfidence is the confidence assigned to a pattern on first
// observation.
const NewPatternConfidence = 0.5

// LearningPattern is a frequency- and diversity-weighted recurring behavior
// extracted from raw items.
type LearningPattern struct {
	ID         string
	Pattern    string
	Category   PatternCategory
	Frequency  int
	LastSeen   time.Time
	Projects   []string
	Confidence float64
}

// Observe records another sighting of the pattern. Confidence grows with
// frequency and project diversity, never decreases, and never exceeds 1.0:
//
//	max(current, min(0.1 + 0.1*frequency + 0.05*distinctProjects, 1.0))
func (p *LearningPattern) Observe(projectID string, now time.Time) {
	p.Frequency++
	p.LastSeen = now
	if projectID != "" && !p.hasProject(projectID) {
		p.Projects = append(p.Projects, projectID)
	}
	if next := ClampScore(0.1 + 0.1*float64(p.Frequency) + 0.05*float64(len(p.Projects))); next > p.Confidence {
		p.Confidence = next
	}
}

func (p *LearningPattern) hasProject(projectID string) bool {
	for _, id := range p.Projects {
		if id == projectID {
			return true
		}
	}
	return false
}

// Clone returns a copy safe for callers to keep while the original keeps
// evolving.
func (p *LearningPattern) Clone() *LearningPattern {
	cp := *p
	cp.Projects = append([]string(nil), p.Projects...)
	return &cp
}

// ConsolidationType classifies distilled knowledge.
type ConsolidationType string

const (
	ConsolidationPattern     ConsolidationType = "pattern"
	ConsolidationInsight     ConsolidationType = "insight"
	ConsolidationTechnique   ConsolidationType = "technique"
	ConsolidationAntipattern ConsolidationType = "antipattern"
)

// ConsolidationResult is distilled knowledge derived from a group of similar
// items. It is written back into the store as a high-priority
// consolidated_learning item and folded into a LearningPattern.
type ConsolidationResult struct {
	ID            string
	Type          ConsolidationType
	Pattern       string
	Evidence      []string
	Confidence    float64
	Frequency     int
	Applicability []string
	CreatedAt     time.Time
}

// ClampScore bounds a relevance or confidence value to [0, 1]. Every score
// adjustment in the ranking and consolidation paths runs through this so
// scores from different strategies stay directly comparable.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
