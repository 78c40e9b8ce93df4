// Package types provides shared data structures for the lapp host.
//
// Core Types:
//   - Lapp: snapshot of one registry entry
//   - Manifest: lapp.toml / lapp.yaml declaration
//   - Stats: manager counters
//
// State Management:
//   - State: installed -> enabled -> loaded
//
// Values are plain copies; holding one never pins registry state.
package types
