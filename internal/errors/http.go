package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteHTTPError writes an error envelope with the given status.
func WriteHTTPError(w http.ResponseWriter, status int, body HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError writes err as an error envelope, deriving code and
// status from its kind.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	body := HTTPError{
		Code:      string(kind),
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
	}
	WriteHTTPError(w, kind.StatusCode(), body)
}
