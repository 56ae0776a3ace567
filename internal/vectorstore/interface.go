package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors returned by store implementations.
var (
	ErrCollectionNotFound    = errors.New("vectorstore: collection not found")
	ErrConnectionFailed      = errors.New("vectorstore: connection failed")
	ErrEmbeddingFailed       = errors.New("vectorstore: embedding failed")
	ErrInvalidConfig         = errors.New("vectorstore: invalid configuration")
	ErrInvalidCollectionName = errors.New("vectorstore: invalid collection name")
	ErrEmptyDocuments        = errors.New("vectorstore: documents cannot be empty")
)

// Document is one stored record: an id, its text content, and a flat string
// metadata map. Metadata values must already be stringified; the backends
// never interpret them.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// QueryResult is one similarity hit. Distance is the raw metric distance
// reported by the backend (0 = identical); callers convert to relevance.
type QueryResult struct {
	Document
	Distance float32
}

// Store is the consumed interface of the backing vector store, per named
// collection. Implementations embed documents client-side via an Embedder.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, name string) error

	// Add upserts documents into a collection.
	Add(ctx context.Context, collection string, docs []Document) error

	// Get returns documents matching the metadata filter without similarity
	// ranking. A nil filter matches everything; limit <= 0 means no limit.
	Get(ctx context.Context, collection string, where map[string]string, limit int) ([]Document, error)

	// Query performs similarity search over the collection, returning at
	// most n results ordered by ascending distance.
	Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]QueryResult, error)

	// Delete removes documents by id. Missing ids are not an error.
	Delete(ctx context.Context, collection string, ids ...string) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Count returns the number of documents in a collection. A missing
	// collection counts as zero.
	Count(ctx context.Context, collection string) (int, error)

	// Heartbeat probes backend liveness. Used once at store initialization;
	// a failure puts the context store into degraded no-op mode.
	Heartbeat(ctx context.Context) error

	Close() error
}

// Embedder generates vector embeddings for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// collectionNamePattern restricts collection names to lowercase letters,
// numbers and underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names that could not be used safely across
// every backend (path components for chromem, identifiers for qdrant).
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}
