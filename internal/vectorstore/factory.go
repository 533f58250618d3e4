package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// Config selects and configures a Store backend.
type Config struct {
	// Provider is "qdrant" or "chromem".
	// Default: "qdrant"
	Provider string
	Qdrant   QdrantConfig
	Chromem  ChromemConfig
}

// New creates the Store named by cfg.Provider.
//
// Qdrant is the default since it is what the server runs against; the
// embedded chromem store needs no external service and suits local use:
//
//	store, err := vectorstore.New(vectorstore.Config{
//	    Provider: vectorstore.ProviderChromem,
//	    Chromem:  vectorstore.ChromemConfig{Path: "~/.local/share/knowme"},
//	}, logger)
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case ProviderQdrant, "":
		return NewQdrantStore(cfg.Qdrant, logger)
	case ProviderChromem:
		return NewChromemStore(cfg.Chromem, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: qdrant, chromem)", ErrInvalidConfig, cfg.Provider)
	}
}
