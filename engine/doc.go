// Package engine manages the confidential engine for the current wallet
// session.
//
// Lifecycle is a state machine Idle -> Loading -> Ready | Error. Every session
// change resets it to Idle and, once the connection has been stable for the
// configured delay, starts a new initialization through an
// interfaces.EngineFactory. Results of initializations started for a session
// that is no longer current are discarded, so a Ready state is only ever
// observable for the identity that produced it. Encrypt and Decrypt fail with
// interfaces.ErrEngineNotReady unless the engine is Ready for the caller's
// identity.
//
// LocalEngine is an in-process engine with the same contract, used by the
// development relayer and tests.
package engine
