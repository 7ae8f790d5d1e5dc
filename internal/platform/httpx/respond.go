// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
)

const problemTypeBase = "https://odyssey-pos.dev/problems/"

// ProblemDetail represents RFC7807 problem details. Field is an extension member set for
// validation failures.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{Title: title, Status: status, Detail: detail})
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	if p.Type == "" {
		p.Type = problemType(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problemType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return problemTypeBase + "validation"
	case http.StatusUnauthorized:
		return problemTypeBase + "unauthenticated"
	case http.StatusForbidden:
		return problemTypeBase + "scope-violation"
	case http.StatusNotFound:
		return problemTypeBase + "not-found"
	case http.StatusConflict:
		return problemTypeBase + "conflict"
	case http.StatusGone:
		return problemTypeBase + "expired"
	case http.StatusTooManyRequests:
		return problemTypeBase + "rate-limited"
	default:
		return "about:blank"
	}
}
