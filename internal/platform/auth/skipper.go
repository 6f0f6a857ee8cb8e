package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks, metrics, and the ICE
// server list that clients fetch before they have a session.
var publicPaths = map[string]bool{
	"/health":                 true,
	"/health/db":              true,
	"/metrics":                true,
	"/api/webrtc/ice-servers": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
