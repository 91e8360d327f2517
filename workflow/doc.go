// Package workflow sequences athlete registration and the owner's decryption
// of their own record.
//
// Both workflows read the session from a session.Provider, use the engine
// lifecycle for encryption and decryption, and capture the session identity
// when an operation starts. Results produced for an identity that is no
// longer current are discarded.
//
// Registration moves through Idle, Validating, Encrypting, Submitting and
// ends in Registered or Failed. A call made while another registration is in
// flight, or after the account is registered, is a no-op.
//
// Decryption keeps the encrypted record fetched from the ledger and the
// cleartext recovered from it. The cleartext is dropped on refresh and on
// session change, and kept when a later decryption fails.
package workflow
