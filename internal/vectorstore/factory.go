package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a Store backend.
type Config struct {
	// Provider selects the backend: "chromem" (default), "qdrant", "noop".
	Provider string

	// Chromem configures the embedded backend.
	Chromem ChromemConfig

	// Qdrant configures the remote gRPC backend.
	Qdrant QdrantConfig
}

// NewStore creates a Store from the configuration.
//
// The chromem provider is the default: embedded, zero external dependencies,
// suitable for a single-user assistant. The qdrant provider talks to an
// external server over gRPC. The noop provider discards everything and is
// only useful in tests and as the degraded-mode fallback.
func NewStore(cfg Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, embedder, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	case "noop":
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant, noop)", ErrInvalidConfig, cfg.Provider)
	}
}
