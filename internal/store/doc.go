// Package store persists context items durably and hides chunking from
// callers.
//
// Items are routed across topic collections by type and source. Oversized
// content is split into overlapping chunks on write and reassembled on
// read, so callers always see whole items. Search blends content
// similarity with metadata filtering and always excludes expired items.
//
// The store absorbs backend failures instead of propagating them: if the
// vector store is unreachable at startup it degrades to a no-op mode, and
// a failed search returns empty results rather than an error. A memory
// outage costs recall quality, never the agent loop.
package store
