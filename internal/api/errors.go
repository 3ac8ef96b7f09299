package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// HTTPError wraps a non-2xx upstream response.
type HTTPError struct {
	Message    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s — %s", e.StatusCode, e.Message, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates an HTTPError from an HTTP response, consuming its body.
func NewHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(resp.Body)
	return &HTTPError{
		Message:    resp.Status,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// ErrorResponse is the JSON error format returned to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// WriteError writes a structured JSON error response.
func WriteError(w http.ResponseWriter, status int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Message: message, Type: errType, Code: code},
	})
}

// WriteAuthRequired writes the 401 returned when no usable credential exists.
func WriteAuthRequired(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "authentication_error", "",
		"Not authenticated. Open the proxy in a browser and log in with your Anthropic account.")
}

// ForwardError writes a structured JSON error, unwrapping HTTPError bodies
// into the client-facing message where possible.
func ForwardError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := err.Error()
	errType := "internal_error"

	if httpErr, ok := err.(*HTTPError); ok {
		statusCode = httpErr.StatusCode
		var parsed struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(httpErr.Body), &parsed) == nil {
			if parsed.Error.Message != "" {
				message = parsed.Error.Message
				errType = parsed.Error.Type
			} else if parsed.Message != "" {
				message = parsed.Message
			}
		}
	}

	slog.Error("request error", "status", statusCode, "message", message)
	WriteError(w, statusCode, errType, "", message)
}
