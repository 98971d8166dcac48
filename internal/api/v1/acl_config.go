package v1

// adminRoutes names the routes that need a valid admin token.
var adminRoutes = map[string]bool{
	"createTextBook":   true,
	"createPDFBook":    true,
	"deleteBook":       true,
	"remoteConnect":    true,
	"remoteDisconnect": true,
}

// isOnlyForAdminAllowedRoute returns true if the route may only be called by the admin.
func isOnlyForAdminAllowedRoute(name string) bool {
	return adminRoutes[name]
}
