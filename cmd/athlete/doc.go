// Package main (cmd/athlete) is the athlete registry client.
//
// It connects the account whose key is in ATHLETE_PRIVATE_KEY, waits for the
// confidential engine served by the relayer, and then registers the athlete or
// decrypts the account's own record. Ciphertexts are produced on the client;
// the ledger only ever sees handles.
//
// Example usage:
//
//	athlete --config athlete.toml register --name Alice --age 25 \
//	    --contact 5551234 --category Individual
//	athlete --config athlete.toml decrypt
//	athlete --config athlete.toml check-age --category Combat
package main
