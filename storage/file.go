package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// FileBackend stores ciphertexts on the local file system, one JSON file per
// handle in a directory per field kind.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend rooted at baseDir, creating the kind
// subdirectories if they don't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, kind := range []interfaces.FieldKind{interfaces.FieldName, interfaces.FieldAge, interfaces.FieldContact} {
		if err := os.MkdirAll(filepath.Join(baseDir, kind.String()), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put writes ct to its handle's file. Existing files are left untouched.
func (b *FileBackend) Put(ctx context.Context, ct *interfaces.StoredCiphertext) (interfaces.Handle, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Handle{}, err
	}
	h := ct.Handle()
	path := b.getFilePath(h)
	if path == "" {
		return h, fmt.Errorf("unsupported field kind %d", ct.Kind)
	}

	data, err := json.Marshal(ct)
	if err != nil {
		return h, err
	}

	// Write then rename so a crash never leaves a partial ciphertext behind.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return h, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return h, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return h, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return h, fmt.Errorf("failed to store ciphertext: %w", err)
	}

	b.log.Debug("Stored ciphertext in file",
		slog.String("path", path),
		slog.String("handle", h.String()))

	return h, nil
}

// Get reads the ciphertext for h and checks it hashes back to h.
func (b *FileBackend) Get(ctx context.Context, h interfaces.Handle) (*interfaces.StoredCiphertext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := b.getFilePath(h)
	if path == "" {
		return nil, interfaces.ErrCiphertextNotFound
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrCiphertextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var ct interfaces.StoredCiphertext
	if err := json.Unmarshal(data, &ct); err != nil {
		return nil, fmt.Errorf("corrupt ciphertext %s: %w", h, err)
	}
	if ct.Handle() != h {
		return nil, fmt.Errorf("corrupt ciphertext %s: content does not match handle", h)
	}

	b.log.Debug("Fetched ciphertext from file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return &ct, nil
}

// Available checks the base directory still exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// getFilePath returns "" for handles whose kind byte is unknown.
func (b *FileBackend) getFilePath(h interfaces.Handle) string {
	kind := interfaces.FieldKind(h[31])
	if kind.String() == "unknown" {
		return ""
	}
	return filepath.Join(b.baseDir, kind.String(), h.String()[2:]+".json")
}
