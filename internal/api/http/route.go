package http

import (
	"net/http"
	"strings"

	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
)

// RouteKind identifies what a lapp request is for
type RouteKind int

const (
	// RouteIndex serves the index asset: GET /{lapp}
	RouteIndex RouteKind = iota
	// RoutePage is GET /{lapp}/*tail: a static asset when tail lies in the
	// lapp's static dir, the index asset otherwise
	RoutePage
	// RouteAPI passes the request to http_handler: any /{lapp}/api/*tail
	RouteAPI
	// RouteWS upgrades to the WebSocket bridge: GET /{lapp}/api/ws
	RouteWS
	// RouteP2PStart starts a gossip session: POST /{lapp}/api/p2p
	RouteP2PStart
	// RouteP2PStop stops a gossip session: DELETE /{lapp}/api/p2p
	RouteP2PStop
)

var routeNames = map[RouteKind]string{
	RouteIndex:    "index",
	RoutePage:     "page",
	RouteAPI:      "api",
	RouteWS:       "ws",
	RouteP2PStart: "p2p_start",
	RouteP2PStop:  "p2p_stop",
}

func (k RouteKind) String() string {
	if name, ok := routeNames[k]; ok {
		return name
	}
	return "unknown"
}

// Route is a matched lapp request
type Route struct {
	Kind RouteKind
	Lapp string
	// Tail is the slash-prefixed remainder: after /{lapp}/api for RouteAPI,
	// after /{lapp} for RoutePage
	Tail string
}

const apiSegment = "api"

// Match resolves a request line to a lapp route. It reports false for paths
// that do not name a valid lapp, for reserved names and for methods a
// route does not accept.
func Match(method, path string) (Route, bool) {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return Route{}, false
	}

	name, tail, hasTail := strings.Cut(rest, "/")
	if lapps.ValidateName(name) != nil {
		return Route{}, false
	}
	route := Route{Lapp: name}
	get := method == http.MethodGet || method == http.MethodHead

	if !hasTail || tail == "" {
		if !get {
			return Route{}, false
		}
		route.Kind = RouteIndex
		return route, true
	}

	if first, apiTail, _ := strings.Cut(tail, "/"); first == apiSegment {
		switch {
		case apiTail == "ws" && method == http.MethodGet:
			route.Kind = RouteWS
			return route, true
		case apiTail == "p2p" && method == http.MethodPost:
			route.Kind = RouteP2PStart
			return route, true
		case apiTail == "p2p" && method == http.MethodDelete:
			route.Kind = RouteP2PStop
			return route, true
		}
		route.Kind = RouteAPI
		route.Tail = "/" + apiTail
		return route, true
	}

	if !get {
		return Route{}, false
	}
	route.Kind = RoutePage
	route.Tail = "/" + tail
	return route, true
}
