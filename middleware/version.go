package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/upb/biped-api/utils"
)

// APIVersionHeader lets clients pick a version without changing the path
const APIVersionHeader = "API-Version"

// DefaultAPIVersion applies when neither the header nor the path names one
const DefaultAPIVersion = "v1"

// SupportedAPIVersions lists the accepted versions
var SupportedAPIVersions = []string{"v1", "v2"}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// APIVersion resolves the API version from the API-Version header or the
// /api/vN path prefix and rejects unsupported versions with 400.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := strings.ToLower(strings.TrimSpace(r.Header.Get(APIVersionHeader)))
		if version == "" {
			version = versionFromPath(r.URL.Path)
		}
		if version == "" {
			version = DefaultAPIVersion
		}

		if !isSupportedVersion(version) {
			_ = utils.WriteBadRequest(w, "Unsupported API version: "+version, map[string]interface{}{
				"supported_versions": SupportedAPIVersions,
			})
			return
		}

		w.Header().Set(APIVersionHeader, version)
		next.ServeHTTP(w, r.WithContext(WithAPIVersion(r.Context(), version)))
	})
}

// versionFromPath returns N from /api/vN/..., or ""
func versionFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	segment, _, _ := strings.Cut(rest, "/")
	if !versionSegment.MatchString(segment) {
		return ""
	}
	return segment
}

func isSupportedVersion(v string) bool {
	for _, s := range SupportedAPIVersions {
		if v == s {
			return true
		}
	}
	return false
}
