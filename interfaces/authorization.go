package interfaces

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChallengeDomain separates decryption challenges from any other message the
// owner might sign.
const ChallengeDomain = "AthleteRegistryDecryption"

// Authorization is a time-bounded credential, signed by the owner, allowing
// retrieval of plaintext for ciphertexts the owner holds on a contract.
type Authorization struct {
	Owner      common.Address `json:"owner"`
	Contract   common.Address `json:"contract"`
	ValidFrom  time.Time      `json:"valid_from"`
	ValidUntil time.Time      `json:"valid_until"`
	Signature  []byte         `json:"signature"`
}

// ValidAt reports whether t falls inside the validity window.
func (a *Authorization) ValidAt(t time.Time) bool {
	return !t.Before(a.ValidFrom) && t.Before(a.ValidUntil)
}

// ChallengeHash computes the hash the owner signs:
// keccak256(abi.encode(domain, owner, contract, validFrom, validUntil)).
func ChallengeHash(owner, contract common.Address, validFrom, validUntil time.Time) ([32]byte, error) {
	stringTy, _ := abi.NewType("string", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)

	arguments := abi.Arguments{
		{Type: stringTy},
		{Type: addressTy},
		{Type: addressTy},
		{Type: uintTy},
		{Type: uintTy},
	}

	packed, err := arguments.Pack(ChallengeDomain, owner, contract,
		big.NewInt(validFrom.Unix()), big.NewInt(validUntil.Unix()))
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// Challenge returns the challenge hash of this authorization.
func (a *Authorization) Challenge() ([32]byte, error) {
	return ChallengeHash(a.Owner, a.Contract, a.ValidFrom, a.ValidUntil)
}

// Verify checks the signature recovers to the owner and that now is inside
// the validity window.
func (a *Authorization) Verify(now time.Time) error {
	if !a.ValidAt(now) {
		return errors.New("authorization expired or not yet valid")
	}
	if len(a.Signature) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(a.Signature))
	}

	challenge, err := a.Challenge()
	if err != nil {
		return err
	}

	sig := make([]byte, len(a.Signature))
	copy(sig, a.Signature)
	// Wallets produce V in {27, 28}; recovery expects {0, 1}.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(challenge[:]), sig)
	if err != nil {
		return fmt.Errorf("could not recover signer: %w", err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != a.Owner {
		return fmt.Errorf("authorization signed by %s, expected %s", signer.Hex(), a.Owner.Hex())
	}
	return nil
}
