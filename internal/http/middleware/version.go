// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the API version a request targets. The path segment is
// authoritative (routes are mounted under the versioned base path); the
// X-API-Version request header is honored for clients that cannot shape the
// path, and requests naming neither default to the latest version. Every
// response is stamped with the version that served it.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// versionHeader carries the requested and served API version.
	versionHeader = "X-API-Version"

	// latestVersion is the default when a request names no version.
	latestVersion = "v1"
)

// supportedVersions is the accept-list for header-addressed versions.
var supportedVersions = map[string]bool{"v1": true}

// VersionStamp stamps every response with the latest API version, including
// responses produced outside the versioned group (NoRoute 404s, /metrics).
// Version() overrides the value for routes that resolve a version.
func VersionStamp() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set(versionHeader, latestVersion)
		c.Next()
	}
}

// Version returns the version-resolution middleware for routes mounted under
// basePath. A header naming an unsupported version is rejected with a 400
// validation_error rather than silently served by a different contract.
func Version(basePath string) gin.HandlerFunc {
	pathVersion := strings.Trim(basePath, "/")
	return func(c *gin.Context) {
		v := pathVersion
		if !supportedVersions[v] {
			v = latestVersion
		}
		if hv := strings.TrimSpace(c.GetHeader(versionHeader)); hv != "" {
			if !supportedVersions[strings.ToLower(hv)] {
				errorEnvelope(c, http.StatusBadRequest, "validation_error",
					"unsupported API version "+hv)
				return
			}
			v = strings.ToLower(hv)
		}
		c.Writer.Header().Set(versionHeader, v)
		c.Next()
	}
}
