// Package main is the entry point for the Laplace lapp host.
//
// The server loads lapps (WebAssembly server module, static front-end and a
// manifest) from LAPPS_DIR and serves each one under /{lapp}:
//
//	Browser → Gateway → Lapps Manager → Instance (wazero)
//	                                  → Storage (SQLite), Fetch, Gossip
//
// The server provides:
//   - per-lapp static assets, HTTP API passthrough and WebSocket bridge
//   - capability-gated database, file, network and peer messaging access
//   - a management API under /laplace (install, enable, load, unload, remove)
//   - Prometheus metrics at /metrics and health at /health
//
// Configuration comes from environment variables (see package config):
//
//	PORT=8000 LAPPS_DIR=./lapps LAPPS_DATA_DIR=./data LAPPS_AUTOLOAD=true ./server
//
//	# Multi-node peer messaging over redis
//	GOSSIP_TRANSPORT=redis GOSSIP_REDIS_URL=redis://localhost:6379/0 ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
