package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret with its location.
type Finding struct {
	RuleID      string
	Description string
	Line        int
	StartCol    int
	EndCol      int
	Secret      string
}

// Result holds the outcome of one scrub pass.
type Result struct {
	Original      string
	Scrubbed      string
	Findings      []Finding
	ByRule        map[string]int
	TotalFindings int
	Duration      time.Duration
}

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) (*Result, error)

	// Check detects secrets without redacting.
	Check(content string) (*Result, error)

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// Config holds scrubber configuration.
type Config struct {
	// Enabled turns detection on. A disabled scrubber passes content
	// through untouched.
	Enabled bool

	// ProjectPath is the directory searched for .gitleaks.toml.
	ProjectPath string

	// UserAllowlistPath is the path to a user-level allowlist file.
	UserAllowlistPath string
}

// gitleaksScrubber runs the Gitleaks SDK over content.
type gitleaksScrubber struct {
	config    Config
	allowlist *Allowlist
}

var _ Scrubber = (*gitleaksScrubber)(nil)

// New creates a Scrubber. Allowlists are loaded once at construction.
func New(cfg Config) (Scrubber, error) {
	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}
	allowlist, err := LoadAllowlists(cfg.ProjectPath, cfg.UserAllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}
	return &gitleaksScrubber{
		config:    cfg,
		allowlist: allowlist,
	}, nil
}

// Scrub redacts secrets, replacing each with a [REDACTED:rule-id:preview]
// marker.
func (s *gitleaksScrubber) Scrub(content string) (*Result, error) {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	findings, err := s.detect(content)
	if err != nil {
		return nil, err
	}

	result.Findings = findings
	result.TotalFindings = len(findings)
	for _, f := range findings {
		result.ByRule[f.RuleID]++
	}
	if len(findings) > 0 {
		result.Scrubbed = replaceFindings(content, findings)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// Check detects secrets without redacting.
func (s *gitleaksScrubber) Check(content string) (*Result, error) {
	result, err := s.Scrub(content)
	if err != nil {
		return nil, err
	}
	result.Scrubbed = result.Original
	return result, nil
}

// IsEnabled returns whether scrubbing is enabled.
func (s *gitleaksScrubber) IsEnabled() bool {
	return s.config.Enabled
}

// detect runs Gitleaks over the content. A fresh detector is created per
// call; the SDK detector accumulates findings across invocations.
func (s *gitleaksScrubber) detect(content string) ([]Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if s.allowlist != nil {
		applyAllowlist(&detector.Config, s.allowlist)
	}

	raw := detector.DetectString(content)
	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			StartCol:    f.StartColumn,
			EndCol:      f.EndColumn,
			Secret:      f.Secret,
		})
	}
	return findings, nil
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns are pre-validated at load time, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) {
	global := &gitleaksconfig.Allowlist{
		Description: "memoryd user/project allowlist",
	}
	for _, pattern := range allowlist.Paths {
		re := regexp.MustCompile(pattern)
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// replaceFindings replaces secrets with redaction markers, working backwards
// through the content so earlier indices stay valid.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, finding := range sorted {
		if finding.Line < 1 || finding.Line > len(lines) {
			continue
		}
		line := lines[finding.Line-1]

		preview := extractPreview(finding.Secret, 4)
		marker := fmt.Sprintf("[REDACTED:%s:%s]", finding.RuleID, preview)

		if finding.StartCol >= 0 && finding.EndCol <= len(line) && finding.StartCol < finding.EndCol {
			lines[finding.Line-1] = line[:finding.StartCol] + marker + line[finding.EndCol:]
		}
	}
	return strings.Join(lines, "\n")
}

// extractPreview returns the first n characters of a secret for the marker.
func extractPreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NoopScrubber passes content through untouched.
type NoopScrubber struct{}

var _ Scrubber = (*NoopScrubber)(nil)

func (*NoopScrubber) Scrub(content string) (*Result, error) {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}, nil
}

func (n *NoopScrubber) Check(content string) (*Result, error) {
	return n.Scrub(content)
}

func (*NoopScrubber) IsEnabled() bool {
	return false
}
