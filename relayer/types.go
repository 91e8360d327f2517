package relayer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/confidential-athlete-registry/interfaces"
)

// KeysResponse is returned by GET /api/v1/keys. Engines compare ChainID with
// their session's network before declaring themselves ready.
type KeysResponse struct {
	ChainID uint64 `json:"chain_id"`
	Version string `json:"version"`
}

// EncryptRequest is the body of POST /api/v1/encrypt.
type EncryptRequest struct {
	Contract common.Address `json:"contract"`
	Owner    common.Address `json:"owner"`
	Kind     string         `json:"kind"`
	Value    hexutil.Bytes  `json:"value"`
}

// EncryptResponse carries the handle of the new ciphertext.
type EncryptResponse struct {
	Handle interfaces.Handle `json:"handle"`
}

// UserDecryptRequest is the body of POST /api/v1/user-decrypt.
type UserDecryptRequest struct {
	Handles       []interfaces.Handle       `json:"handles"`
	Authorization *interfaces.Authorization `json:"authorization"`
}

// UserDecryptResponse maps each requested handle to its plaintext.
type UserDecryptResponse struct {
	Values map[interfaces.Handle]hexutil.Bytes `json:"values"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
