// Package vectorstore provides the narrow interface memoryd consumes from
// its backing vector store, plus the concrete backends: a remote Qdrant
// store over gRPC, an embedded chromem-go store, and a no-op store used when
// the backend is unreachable and the system degrades to memoryless operation.
//
// Backends speak in flat string metadata and raw distances; everything
// domain-shaped (chunk envelopes, relevance scores, expiry) belongs to
// internal/store.
package vectorstore
