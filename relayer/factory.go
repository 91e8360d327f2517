package relayer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// Factory builds relayer-backed engines. It implements interfaces.EngineFactory.
type Factory struct {
	url  string
	http *http.Client
}

// NewFactory creates a factory for the relayer at url.
func NewFactory(url string, httpClient *http.Client) *Factory {
	return &Factory{url: url, http: httpClient}
}

// New performs the handshake and fails unless the relayer serves chainID.
func (f *Factory) New(ctx context.Context, chainID uint64, _ interfaces.Signer) (interfaces.ConfidentialEngine, error) {
	client := NewClient(f.url, f.http)
	keys, err := client.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if keys.ChainID != chainID {
		return nil, fmt.Errorf("%w: relayer %d, session %d", ErrChainMismatch, keys.ChainID, chainID)
	}
	return client, nil
}
