package storage

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// New creates a store from a URI. An empty URI is memory://.
func New(uri string, log *slog.Logger) (interfaces.CiphertextStore, error) {
	if uri == "" {
		return NewMemoryBackend(), nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid store URI: %w", err)
	}

	switch parsed.Scheme {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		if parsed.Path == "" {
			return nil, fmt.Errorf("file store URI needs a path: %s", uri)
		}
		return NewFileBackend(parsed.Path, log)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %q", parsed.Scheme)
	}
}
