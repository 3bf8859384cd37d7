package handlers

import "net/http"

// Version is stamped at build time with -ldflags "-X .../handlers.Version=..."
var Version = "dev"

// VersionInfo reports the running build
func VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version":   Version,
		"timestamp": timestamp(),
	})
}
