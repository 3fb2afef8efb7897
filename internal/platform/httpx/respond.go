// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wasteflow/wasteflow/internal/shared"
)

// ActorHeader carries the authenticated operator, set by the upstream gateway.
const ActorHeader = "X-Actor"

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, shared.ErrValidation)
	}
	return nil
}

// Actor returns the acting user from the request or a validation error.
func Actor(r *http.Request) (string, error) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		return "", fmt.Errorf("missing %s header: %w", ActorHeader, shared.ErrValidation)
	}
	return actor, nil
}
