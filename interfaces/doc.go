// Package interfaces defines the data model and collaborator contracts of the
// confidential athlete registry client, separating interface definitions from
// implementations.
//
// # Collaborators
//
// Signer: the request-signing capability of a connected wallet. It signs
// decryption authorization challenges and produces transaction options.
//
// ChainBackend: the read provider capability, any go-ethereum backend that
// can call contracts, send transactions and look up receipts.
//
// ConfidentialEngine and EngineFactory: the encryption engine, constructed per
// (chain, signer), encrypting fields into opaque handles and decrypting them
// for an authorized owner.
//
// AthleteLedger and LedgerFactory: the registry contract, with a single write
// call (RegisterAthlete) and two reads (GetAthleteRecord, IsRegistered).
//
// CiphertextStore: content-addressed persistence of sealed fields, used by
// engines that keep ciphertexts themselves.
//
// # Data Model
//
//   - Handle: 32-byte opaque ciphertext reference, bytes32 on chain
//   - Field, FieldKind: plaintext registration fields before encryption
//   - EncryptedAthleteRecord: a registration as stored on the ledger
//   - ClearAthleteRecord: a decrypted registration, memory only
//   - Authorization: owner-signed, time-bounded decryption credential
//   - SportCategory: category table with minimum ages
//
// # Error Kinds
//
// ErrValidation, ErrEngineNotReady, ErrAuthorizationDenied, ErrTransaction,
// ErrDecryption and ErrNoRecord are sentinels. Failures wrap them with
// fmt.Errorf("%w: ...") so callers classify errors with errors.Is.
package interfaces
