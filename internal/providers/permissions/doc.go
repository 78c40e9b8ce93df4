// Package permissions defines the capability classes a lapp may declare and
// the gate that checks them.
//
// A lapp's manifest lists the capabilities it needs. The list is parsed once
// into an immutable Set when the lapp is loaded; changing it requires an
// unload and reload. Every privileged host call made by a running lapp is
// checked through a Gate before it touches storage, the filesystem, the
// network or the gossip transport.
//
// Capabilities:
//   - file-read, file-write: the lapp's sandboxed data directory
//   - network: outbound HTTP requests
//   - database: the lapp's SQLite database
//   - peer-messaging: gossip publish/subscribe
//
// A denial is a normal result. The caller receives a *DeniedError that
// matches ErrPermissionDenied and the lapp keeps running.
//
// Example Usage:
//
//	set, err := permissions.ParseSet(manifest.Permissions)
//	gate := permissions.NewGate("echo", set)
//	if err := gate.Check(permissions.Database); err != nil {
//	    return err
//	}
package permissions
