package indexer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultSkipDirs are directories that are never descended into during
// indexing. These typically contain generated code, dependencies, or
// version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true, // Rust/Java build output
}

// defaultIgnoreFiles are the ignore file names consulted at the root of an
// indexed directory, in order.
var defaultIgnoreFiles = []string{".gitignore", ".memoryignore"}

// fallbackExcludePatterns apply when a directory carries no ignore files at
// all, keeping the obvious noise out of the index.
var fallbackExcludePatterns = []string{
	"**/*.min.js",
	"**/*.lock",
	"**/*.log",
	"**/*.tmp",
	"**/.DS_Store",
}

// loadExcludePatterns reads the given ignore files from root and returns the
// combined exclude patterns. Missing files are skipped; if none exist the
// fallback patterns are returned instead.
func loadExcludePatterns(root string, ignoreFiles []string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, name := range ignoreFiles {
		filePatterns, err := parseIgnoreFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return fallbackExcludePatterns, nil
	}
	return deduplicate(patterns), nil
}

// parseIgnoreFile reads a single gitignore-style file and returns its
// patterns converted to glob form.
func parseIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseIgnoreLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseIgnoreLine parses one line from a gitignore-style file. Comments,
// blank lines and negation patterns yield the empty string.
func parseIgnoreLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return ""
	}
	if strings.HasPrefix(line, "#") {
		return ""
	}
	// Negation patterns are not supported.
	if strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to a glob pattern usable with
// filepath.Match plus the "**" prefix rule applied by excluded.
func toGlobPattern(pattern string) string {
	// A leading slash anchors to the root, which is where matching starts
	// anyway.
	pattern = strings.TrimPrefix(pattern, "/")

	// A trailing slash means a directory; match everything below it.
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}

	// A bare name can match anywhere in the tree.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "*") {
		pattern = "**/" + pattern
	}

	// A name without an extension is usually a directory; match recursively.
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		pattern += "/**"
	}

	return pattern
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// validatePatterns rejects glob patterns filepath.Match cannot parse.
func validatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// excluded reports whether relPath matches any exclude pattern. Patterns are
// tried against the basename, the full relative path, and, for "**"
// patterns, as a directory prefix.
func excluded(patterns []string, relPath string) bool {
	basename := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if strings.Contains(pattern, "**") {
			trimmed := strings.TrimPrefix(pattern, "**/")
			if matched, _ := filepath.Match(trimmed, basename); matched {
				return true
			}
			if matched, _ := filepath.Match(trimmed, relPath); matched {
				return true
			}
			prefix := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
			if relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}
