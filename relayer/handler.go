// Package relayer exposes a confidential engine over HTTP, and provides the
// client and factory that let a session use a remote engine.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/confidential-athlete-registry/common"
	"github.com/ruteri/confidential-athlete-registry/engine"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

const (
	// RequestIDHeader carries the id the relayer assigned to a request.
	RequestIDHeader = "X-Request-Id"

	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024

	// maxHandlesPerRequest bounds user-decrypt batches.
	maxHandlesPerRequest = 32
)

// Handler serves the relayer API for one engine on one chain.
type Handler struct {
	engine  interfaces.ConfidentialEngine
	chainID uint64
	log     *slog.Logger
}

// NewHandler creates a handler serving eng for chainID.
func NewHandler(eng interfaces.ConfidentialEngine, chainID uint64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine:  eng,
		chainID: chainID,
		log:     log,
	}
}

// Healthy reports whether the engine can serve requests. Engines that do not
// report availability are assumed healthy.
func (h *Handler) Healthy(ctx context.Context) bool {
	checker, ok := h.engine.(interface{ Available(context.Context) bool })
	return !ok || checker.Available(ctx)
}

// RegisterRoutes registers:
//   - GET /api/v1/keys
//   - POST /api/v1/encrypt
//   - POST /api/v1/user-decrypt
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/keys", h.HandleKeys)
	r.Post("/api/v1/encrypt", h.HandleEncrypt)
	r.Post("/api/v1/user-decrypt", h.HandleUserDecrypt)
}

// HandleKeys answers the engine initialization handshake.
func (h *Handler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, KeysResponse{ChainID: h.chainID, Version: common.Version})
}

// HandleEncrypt encrypts one field for (contract, owner).
//
// Status codes:
//   - 200 OK: handle returned
//   - 400 Bad Request: malformed body, unknown kind or a value the engine rejects
func (h *Handler) HandleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	kind, err := interfaces.ParseFieldKind(req.Kind)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	target := interfaces.EncryptTarget{Contract: req.Contract, Owner: req.Owner}
	handle, err := h.engine.Encrypt(r.Context(), target, interfaces.Field{Kind: kind, Value: req.Value})
	if err != nil {
		h.log.Warn("Encryption rejected", "err", err, "kind", kind, "owner", req.Owner.Hex())
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	h.log.Debug("Encrypted field", "kind", kind, "owner", req.Owner.Hex(), "handle", handle)
	writeJSON(w, http.StatusOK, EncryptResponse{Handle: handle})
}

// HandleUserDecrypt returns plaintexts for handles owned by the
// authorization's signer.
//
// Status codes:
//   - 200 OK: values returned
//   - 400 Bad Request: malformed body or too many handles
//   - 401 Unauthorized: missing, expired or forged authorization
//   - 403 Forbidden: a handle is not owned by the authorization's owner
//   - 404 Not Found: a handle is unknown
func (h *Handler) HandleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var req UserDecryptRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(req.Handles) == 0 || len(req.Handles) > maxHandlesPerRequest {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("between 1 and %d handles required", maxHandlesPerRequest))
		return
	}

	values, err := h.engine.UserDecrypt(r.Context(), req.Handles, req.Authorization)
	if err != nil {
		h.log.Warn("User decryption rejected", "err", err, "handles", len(req.Handles))
		h.writeError(w, r, statusFor(err), err)
		return
	}

	resp := UserDecryptResponse{Values: make(map[interfaces.Handle]hexutil.Bytes, len(values))}
	for handle, value := range values {
		resp.Values[handle] = value
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrUnknownHandle):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("could not read request body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
