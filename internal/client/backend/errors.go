package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrNoSession    = errors.New("no active session")
)

// mapStatus converts an HTTP response status into one of the package
// sentinels, falling back to a generic error carrying the status text.
func mapStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound, status == http.StatusNotAcceptable:
		return ErrNotFound
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return ErrUnavailable
	default:
		return fmt.Errorf("backend error: status %d: %s", status, body)
	}
}
