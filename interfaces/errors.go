package interfaces

import "errors"

var (
	// ErrValidation is returned for bad form input. It never reaches the network.
	ErrValidation = errors.New("validation error")

	// ErrEngineNotReady is returned when the confidential engine is not ready
	// for the current session identity.
	ErrEngineNotReady = errors.New("confidential engine not ready")

	// ErrAuthorizationDenied is returned when the signer declines or fails to
	// sign a decryption authorization challenge.
	ErrAuthorizationDenied = errors.New("decryption authorization denied")

	// ErrTransaction is returned when a ledger submission is rejected or reverted.
	ErrTransaction = errors.New("transaction failed")

	// ErrDecryption is returned when the engine or oracle fails to decrypt.
	ErrDecryption = errors.New("decryption failed")

	// ErrNoRecord is returned when decryption is attempted without a fetched record.
	ErrNoRecord = errors.New("no athlete record, refresh first")

	// ErrRecordNotFound is returned by ledgers when the owner has no registration.
	ErrRecordNotFound = errors.New("athlete record not found")

	// ErrNotConnected is returned when an operation needs a connected session.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrStaleSession is returned when a result was produced for a session
	// identity that is no longer current.
	ErrStaleSession = errors.New("session changed during operation")
)
