// Package types defines the wire types shared by the agent and the server:
// the per-probe status Event emitted by a Probe Executor, the batch start and
// completion signals that bracket a session, and the Command envelope the
// agent buffers and ships.
//
// Every optional Event field tolerates absence. Missing text fields take the
// display sentinels below and missing measurements read as Unknown (-1), so a
// server can always merge an Event that carries an identity.
package types
