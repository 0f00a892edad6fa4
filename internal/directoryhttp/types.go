package directoryhttp

import "github.com/linnemanlabs/toolsdir-web/internal/directory"

// ListResponse is the body of GET /api/tools.
type ListResponse struct {
	Tools  []directory.Tool `json:"tools"`
	Count  int              `json:"count"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ErrorResponse is the error body shared with the rate limiter and the
// recover middleware.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Field is set on validation errors.
	Field string `json:"field,omitempty"`
}
