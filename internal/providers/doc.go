// Package providers groups the host capabilities a lapp can be granted.
//
// Each subpackage backs one family of host functions exposed to guests:
//   - permissions: the capability set declared in a lapp manifest and the gate
//     every host call passes through
//   - storage: a per-lapp SQLite key-value store
//   - filesystem: a per-lapp sandboxed directory
//   - http/client: outbound fetches for lapps granted http_fetch
//
// The runtime package wires these into the guest's host module; nothing here
// knows about WebAssembly.
package providers
