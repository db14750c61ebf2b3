package server

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// authMiddleware rejects cross-origin browser requests from non-loopback
// origins and, when token is set, requests without a matching bearer token.
func authMiddleware(token string, logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if origin := req.Header.Get("Origin"); origin != "" && !isValidOrigin(origin) {
			logger.Warnf("Invalid Origin header: %s", origin)
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}

		if version := req.Header.Get("MCP-Protocol-Version"); version != "" && !isValidProtocolVersion(version) {
			logger.Warnf("Unsupported MCP Protocol Version: %s", version)
		}

		if token != "" {
			const bearerPrefix = "Bearer "
			header := req.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) ||
				subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, bearerPrefix)), []byte(token)) != 1 {
				logger.Warn("Request rejected: missing or invalid bearer token")
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, req)
	})
}

func isValidProtocolVersion(version string) bool {
	return slices.Contains(supportedProtocolVersions, version)
}

// isValidOrigin accepts loopback origins only.
func isValidOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
