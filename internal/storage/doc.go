package storage

// Package storage provides the durable key-value state and the telemetry
// event log used by the survey scheduler.
//
// It currently supports:
//   - Key-value state global to the installation (skip flag, remind-later
//     timestamp, first-session stamp, machine id)
//   - Append-only telemetry events with periodic pruning
