package veeam

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the Veeam REST API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("veeam api: %s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
// Used to treat "session already gone" as success during unmount.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401, meaning the bearer token
// expired or the credentials are wrong
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// authError maps an authentication status code to a descriptive error
func authError(status int) error {
	switch status {
	case http.StatusBadRequest:
		return &APIError{StatusCode: status, Message: "bad request, check the server URL and API version"}
	case http.StatusUnauthorized:
		return &APIError{StatusCode: status, Message: "invalid username or password"}
	case http.StatusForbidden:
		return &APIError{StatusCode: status, Message: "account is not allowed to use the REST API"}
	case http.StatusNotFound:
		return &APIError{StatusCode: status, Message: "token endpoint not found, check the server URL"}
	default:
		return &APIError{StatusCode: status, Message: "authentication failed"}
	}
}
