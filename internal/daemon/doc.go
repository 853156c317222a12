// Package daemon coordinates the long-running dramapipe process.
//
// It wires configuration, the job store, the broker-fed worker pool, the
// sweeper, and the daily scheduler into a single lifecycle with flock-based
// locking to prevent multiple instances, and serves the HTTP API the CLI
// talks to. Keep orchestration logic here: stage execution lives in the
// workflow and services packages while the daemon focuses on startup,
// shutdown, and operator-facing job actions.
package daemon
