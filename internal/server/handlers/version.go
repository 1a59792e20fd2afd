package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// VersionResponse is the body of /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var versionInfo = VersionResponse{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo sets the build metadata reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionResponse{Version: version, Commit: commit, BuildDate: buildDate}
}

// VersionHandler serves build metadata.
func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	resp := versionInfo
	resp.GoVersion = runtime.Version()
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
