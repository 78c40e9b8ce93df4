// Package config loads server configuration from environment variables
// with kelseyhightower/envconfig.
//
// Every setting has a default, so an empty environment yields a working
// single-node server with the in-memory gossip transport. Load validates
// the result; an invalid configuration is fatal at startup.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	addr := cfg.Server.Addr()
package config
