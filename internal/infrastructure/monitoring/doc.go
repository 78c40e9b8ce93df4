/*
Package monitoring provides Prometheus metrics for the lapp host.

# Overview

Metrics owns a private registry and implements the observer interfaces of
the runtime, gossip and lapps packages, so wiring it is a matter of passing
it where an observer is accepted.

# Metrics

- HTTP requests (count, latency, sizes) labelled by route, never by raw path
- Loaded lapps gauge and lifecycle transitions
- Guest invocations by lapp, export and result, with latency
- Permission gate refusals by lapp and permission
- Gossip messages by direction and result
- WebSocket connections and frames
- Go runtime and process collectors, uptime

# Usage

	metrics := monitoring.NewMetrics()
	engine := runtime.NewEngine(cfg, logger, metrics)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
