// Package retrieval ranks stored context for a query. A set of pluggable
// strategies re-scores store results for different access patterns (task
// work, project browsing, recent-session recall, documentation lookup);
// the engine either picks the single best strategy or blends every
// applicable one into a single ranked list.
package retrieval
