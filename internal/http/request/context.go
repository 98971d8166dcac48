package request // import "github.com/Xunop/celestial/internal/http/request"

import (
	"net/http"
)

type ContextKey int

const (
	ClientIPContextKey ContextKey = iota
	IsAdminContextKey
)

func getContextStringValue(r *http.Request, key ContextKey) string {
	if v := r.Context().Value(key); v != nil {
		if value, valid := v.(string); valid {
			return value
		}
	}
	return ""
}

func getContextBoolValue(r *http.Request, key ContextKey) bool {
	if v := r.Context().Value(key); v != nil {
		if value, valid := v.(bool); valid {
			return value
		}
	}
	return false
}

// ClientIP returns the client IP address stored in the context.
func ClientIP(r *http.Request) string {
	if ip := getContextStringValue(r, ClientIPContextKey); ip != "" {
		return ip
	}
	return FindClientIP(r)
}

// IsAdmin reports whether the request carried a valid admin token.
func IsAdmin(r *http.Request) bool {
	return getContextBoolValue(r, IsAdminContextKey)
}
