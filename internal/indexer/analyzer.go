package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// dependencyManifests maps manifest file names to their ecosystem. Matching
// files become dependency items so project stack questions can be answered
// from memory.
var dependencyManifests = map[string]string{
	"go.mod":           "go",
	"package.json":     "node",
	"requirements.txt": "python",
	"pyproject.toml":   "python",
	"Cargo.toml":       "rust",
	"Gemfile":          "ruby",
	"pom.xml":          "java",
	"build.gradle":     "java",
	"composer.json":    "php",
}

// languageByExt maps file extensions to the language recorded on code items.
// Files with an extension outside this table (and docExts) are skipped.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".sh":    "shell",
	".sql":   "sql",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".proto": "protobuf",
	".html":  "html",
	".css":   "css",
}

// docExts maps documentation extensions to their format name.
var docExts = map[string]string{
	".md":   "markdown",
	".rst":  "restructuredtext",
	".txt":  "text",
	".adoc": "asciidoc",
}

// fileClass is the item shape a file maps to.
type fileClass struct {
	itemType memory.ItemType
	source   memory.ItemSource
	language string
}

// classify determines the item type, source and language for a file path.
// Dependency manifests win over their extension; unknown extensions report
// ok=false and are skipped by the indexer.
func classify(relPath string) (fileClass, bool) {
	base := filepath.Base(relPath)
	if eco, ok := dependencyManifests[base]; ok {
		return fileClass{itemType: memory.TypeDependency, source: memory.SourceFileSystem, language: eco}, true
	}
	ext := strings.ToLower(filepath.Ext(base))
	if format, ok := docExts[ext]; ok {
		return fileClass{itemType: memory.TypeDocumentation, source: memory.SourceDocumentation, language: format}, true
	}
	if lang, ok := languageByExt[ext]; ok {
		return fileClass{itemType: memory.TypeCode, source: memory.SourceCodeAnalysis, language: lang}, true
	}
	return fileClass{}, false
}

// itemID derives a stable id from the project and the file's relative path,
// so re-indexing a file replaces its previous item instead of duplicating it.
func itemID(projectID, relPath string) string {
	hash := sha256.Sum256([]byte(projectID + "|" + filepath.ToSlash(relPath)))
	return "file_" + hex.EncodeToString(hash[:])[:16]
}

// fileItem builds the context item stored for one indexed file.
func fileItem(projectID, relPath string, content []byte, class fileClass) *memory.ContextItem {
	item := memory.NewItem(class.itemType, class.source, string(content))
	item.ID = itemID(projectID, relPath)
	item.ProjectID = projectID
	item.RelevanceScore = 0.5
	item.Tags = []string{"file", class.language}
	item.Metadata["file_path"] = filepath.ToSlash(relPath)
	item.Metadata["extension"] = strings.ToLower(filepath.Ext(relPath))
	item.Metadata["language"] = class.language
	item.Metadata["size_bytes"] = len(content)
	if class.itemType == memory.TypeDependency {
		item.Priority = memory.PriorityHigh
		item.RelevanceScore = 0.6
		item.Metadata["ecosystem"] = class.language
	}
	return item
}
