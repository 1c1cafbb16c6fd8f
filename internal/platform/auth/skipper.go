package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are infrastructure routes served without an identity.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// SkipPublicPaths is an AuthenticateConfig.Skipper that lets health and
// metrics checks through without a session lookup.
func SkipPublicPaths(c echo.Context) bool {
	return publicPaths[c.Path()]
}
