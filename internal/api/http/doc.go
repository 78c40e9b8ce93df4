// Package http serves lapps and the host's management API over HTTP.
//
// Lapp routes are matched by Match, a pure function of method and path, and
// dispatched by Gateway, which is mounted as the router's NoRoute handler so
// host routes always take precedence:
//
//	GET    /{lapp}              index asset
//	GET    /{lapp}/{static}/*   static asset from the lapp's static dir
//	GET    /{lapp}/api/ws       WebSocket bridge
//	POST   /{lapp}/api/p2p      start a gossip session
//	DELETE /{lapp}/api/p2p      stop a gossip session
//	*      /{lapp}/api/*        passthrough to the lapp's http_handler
//	GET    /{lapp}/*            index asset for lapp-internal routing
//
// Handlers serves /health and the management API under /laplace.
//
// Every failure is rendered by one function in the shared shape
//
//	{"error": {"kind": "not_loaded", "message": "...", "lapp": "echo"}}
//
// with a status derived from the error kind (see package response).
//
// Example Usage:
//
//	gateway := http.NewGateway(manager, wsHandler, cfg.Server.MaxBodyBytes, logger)
//	handlers := http.NewHandlers(manager, cfg.Lapps.MaxPackageBytes, logger)
//	router.GET("/health", handlers.Health)
//	handlers.Register(router.Group("/laplace"))
//	router.NoRoute(gateway.Handle)
package http
