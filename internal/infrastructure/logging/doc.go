// Package logging builds the zap logger shared by every Laplace component.
//
// Production output is JSON with "timestamp", "level", "logger" and "message"
// keys. LOG_DEV switches to colored console output. Components derive named
// children ("runtime", "lapps", "gossip", "http"); a lapp's guest output is
// logged under "runtime.stdout" and "runtime.stderr" with a "lapp" field.
//
// The level is atomic. The management API exposes it at /laplace/log/level:
//
//	curl -X PUT -d '{"level":"debug"}' localhost:8000/laplace/log/level
package logging
