/*
Package lapps is the Lapps Manager: the registry of installed lapps, their
lifecycle and the only owner of live instances, storage handles and gossip
subscriptions.

Lifecycle:

	installed (disabled) --Enable--> enabled --Load--> loaded
	loaded --Unload--> enabled --Disable--> installed
	loaded --Disable--> installed (unloads in the same transition)

Resolve takes the read lock and yields a Handle only for loaded lapps,
checking existence, then the enabled flag, then the live instance. Every
transition takes the exclusive lock; a panic inside one leaves the manager
broken and every later call fails with ErrLockUnusable until Recover
rebuilds the registry from disk.

On disk each lapp is <lapps_dir>/<name>/ holding lapp.toml or lapp.yaml,
the wasm module and static files. Its data lives in <data_dir>/<name>/ and
survives unload; only Remove deletes it.
*/
package lapps
