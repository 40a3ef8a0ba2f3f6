// Package interfaces defines the core types and collaborator boundaries of the
// sensor node, separating interface definitions from implementations.
//
// # Identity Types
//
//   - Address: 20-byte device identifier, rendered as "0x<hex>" or "did:dephy:0x<hex>"
//
// # Hardware Boundaries
//
//   - KeyStore: write-once secure slot anchoring the device key
//   - RandomSource: hardware random number generator
//   - StatusIndicator: binary status output (LED)
//   - Sensor: temperature reading
//   - Clock: network-corrected wall clock
//
// # Network Boundaries
//
//   - Transport: delivery of encoded signed messages, acknowledged by AckOK
//
// Implementations live in the keystore, transport, sensor and connectivity
// packages; tests substitute in-memory versions.
package interfaces
