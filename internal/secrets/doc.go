// Package secrets detects and redacts credentials before content reaches
// the vector store.
//
// Detection uses the Gitleaks SDK with its default ruleset, so anything
// Gitleaks would flag in a repository is also kept out of stored memories.
// Secrets are replaced with [REDACTED:rule-id:preview] markers that keep
// enough context for embeddings to stay useful.
//
// Allowlists follow the Gitleaks convention: a .gitleaks.toml in the
// project root plus an optional user-level allowlist file, merged with
// union semantics.
package secrets
