package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/3leaps/treeaudit/internal/errors"
	"github.com/3leaps/treeaudit/pkg/audit"
	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// Auditor is the job surface served over HTTP.
type Auditor interface {
	Start(rootPath string, creds contentstore.Credentials, repair bool) bool
	Stop()
	IsRunning() bool
	Status() string
	Snapshot() audit.Status
}

// AuditDefaults fill fields a start request leaves empty.
type AuditDefaults struct {
	Root        string
	Credentials contentstore.Credentials
}

// StartRequest is the body of POST /audit/start. All fields are optional.
type StartRequest struct {
	Root     string `json:"root"`
	Username string `json:"username"`
	Password string `json:"password"`
	Repair   bool   `json:"repair"`
}

// AuditStatusResponse carries the status line and the structured snapshot.
type AuditStatusResponse struct {
	Line string `json:"line"`
	audit.Status
}

// RunningResponse is the body of GET /audit/running.
type RunningResponse struct {
	Running bool `json:"running"`
}

// AuditHandler serves the audit job operations.
type AuditHandler struct {
	job      Auditor
	defaults AuditDefaults
}

// NewAuditHandler creates a handler over job.
func NewAuditHandler(job Auditor, defaults AuditDefaults) *AuditHandler {
	if defaults.Root == "" {
		defaults.Root = "/"
	}
	return &AuditHandler{job: job, defaults: defaults}
}

func (h *AuditHandler) statusResponse() AuditStatusResponse {
	st := h.job.Snapshot()
	return AuditStatusResponse{Line: st.String(), Status: st}
}

// Status serves GET /audit/status.
func (h *AuditHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.statusResponse())
}

// Running serves GET /audit/running.
func (h *AuditHandler) Running(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RunningResponse{Running: h.job.IsRunning()})
}

// Start serves POST /audit/start. A run already in progress is a conflict.
func (h *AuditHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.Body != nil {
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondWithError(w, r, apperrors.NewInvalidArgument("invalid start request: "+err.Error()))
			return
		}
	}

	root := req.Root
	if root == "" {
		root = h.defaults.Root
	}
	creds := h.defaults.Credentials
	if req.Username != "" {
		creds.Username = req.Username
	}
	if req.Password != "" {
		creds.Password = req.Password
	}

	if !h.job.Start(root, creds, req.Repair) {
		respondWithError(w, r, apperrors.NewConflict("audit already running"))
		return
	}
	writeJSON(w, http.StatusAccepted, h.statusResponse())
}

// Stop serves POST /audit/stop. Stopping an idle job is not an error.
func (h *AuditHandler) Stop(w http.ResponseWriter, _ *http.Request) {
	h.job.Stop()
	writeJSON(w, http.StatusAccepted, h.statusResponse())
}
