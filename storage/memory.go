package storage

import (
	"context"
	"sync"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// MemoryBackend keeps ciphertexts in process memory.
type MemoryBackend struct {
	mu          sync.RWMutex
	ciphertexts map[interfaces.Handle]interfaces.StoredCiphertext
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{ciphertexts: make(map[interfaces.Handle]interfaces.StoredCiphertext)}
}

func (b *MemoryBackend) Put(ctx context.Context, ct *interfaces.StoredCiphertext) (interfaces.Handle, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Handle{}, err
	}
	h := ct.Handle()
	b.mu.Lock()
	b.ciphertexts[h] = *ct
	b.mu.Unlock()
	return h, nil
}

func (b *MemoryBackend) Get(ctx context.Context, h interfaces.Handle) (*interfaces.StoredCiphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	ct, ok := b.ciphertexts[h]
	b.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrCiphertextNotFound
	}
	return &ct, nil
}

func (b *MemoryBackend) Available(context.Context) bool { return true }

func (b *MemoryBackend) Name() string { return "memory" }

// Len returns the number of stored ciphertexts.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ciphertexts)
}
