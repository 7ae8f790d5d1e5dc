// Package finexport runs the asynchronous finance export lifecycle: request, render,
// store, and signed download.
package finexport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Status captures the state of an export record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type is the artifact format.
type Type string

const (
	TypeCSV  Type = "csv"
	TypePDF  Type = "pdf"
	TypeXLSX Type = "xlsx"
)

// ParseType normalises raw and rejects unsupported formats.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypeCSV, TypePDF, TypeXLSX:
		return t, nil
	default:
		return "", shared.Invalid("type", "must be one of csv, pdf, xlsx")
	}
}

// Extension is the file suffix for the type.
func (t Type) Extension() string {
	return string(t)
}

// ContentType is the MIME type served for the type.
func (t Type) ContentType() string {
	switch t {
	case TypePDF:
		return "application/pdf"
	case TypeXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Export is a persisted export request and its outcome.
type Export struct {
	ID             uuid.UUID
	TenantID       int64
	StoreID        *int64
	Type           Type
	Status         Status
	Options        json.RawMessage
	Path           string
	AvailableUntil *time.Time
	Error          string
	RequestedBy    string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
	PurgedAt       *time.Time
}

// Downloadable reports whether the artifact may be served at now.
func (e Export) Downloadable(now time.Time) bool {
	return e.Status == StatusCompleted &&
		e.PurgedAt == nil &&
		e.AvailableUntil != nil &&
		now.Before(*e.AvailableUntil)
}

// RequestReceipt is returned when an export has been accepted.
type RequestReceipt struct {
	JobID     uuid.UUID `json:"job_id"`
	StatusURL string    `json:"status_url"`
}

// StatusView is the polling representation of an export.
type StatusView struct {
	JobID          uuid.UUID  `json:"job_id"`
	Status         Status     `json:"status"`
	Type           Type       `json:"type"`
	Error          string     `json:"error,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
	DownloadURL    string     `json:"download_url,omitempty"`
}

var (
	ErrExportNotFound    = fmt.Errorf("finexport: export not found: %w", httpx.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("finexport: invalid status transition: %w", httpx.ErrConflict)
	ErrExportExpired     = fmt.Errorf("finexport: export no longer available: %w", httpx.ErrGone)
	ErrExportNotReady    = fmt.Errorf("finexport: export not ready: %w", httpx.ErrConflict)
	ErrDownloadDenied    = fmt.Errorf("finexport: download token rejected: %w", httpx.ErrForbidden)
)

// ObjectKey is the storage key for an export artifact.
func ObjectKey(tenantID int64, id uuid.UUID, t Type) string {
	return "exports/" + strconv.FormatInt(tenantID, 10) + "/" + id.String() + "." + t.Extension()
}

const maxErrorLen = 500

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown error"
	}
	if len(msg) <= maxErrorLen {
		return msg
	}
	cut := msg[:maxErrorLen]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
