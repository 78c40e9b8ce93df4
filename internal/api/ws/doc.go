// Package ws bridges WebSocket connections to lapps.
//
// A connection to /<lapp>/api/ws is accepted only while the lapp is loaded.
// Every text or binary frame is passed verbatim to the lapp's ws_handler
// export and a non-empty result is written back as a frame of the same type.
//
// Failures:
//   - an invoke error is reported as a JSON text frame in the gateway's
//     error shape and the connection stays open
//   - when the lapp is disabled, unloaded or removed the next frame gets an
//     error frame and the connection is closed with 1001 (going away)
//
// Connections are kept alive with ping/pong. A peer that stays silent past
// PongWait is dropped.
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, ws.DefaultConfig(), logger, metrics)
//	err := handler.Serve(w, r, "chat")
package ws
