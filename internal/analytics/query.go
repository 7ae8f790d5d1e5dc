package analytics

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics/period"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	// DefaultMaxRangeDays bounds the aggregation cost of a single query.
	DefaultMaxRangeDays = 370
	// MaxLimit caps list-shaped results.
	MaxLimit = 50
)

var validate = validator.New()

// QueryParams is the raw, caller-supplied shape of a scoped query.
type QueryParams struct {
	DateFrom    string `validate:"required"`
	DateTo      string `validate:"required"`
	Timezone    string `validate:"omitempty,max=64"`
	StoreID     *int64 `validate:"omitempty,gt=0"`
	Currency    string `validate:"omitempty,len=3,alpha"`
	Granularity string
	Limit       int `validate:"gte=0,lte=50"`
}

// ScopedQuery is the normalised, tenant-bound request descriptor consumed by every
// aggregation operation. It is built only through NewScopedQuery or RestoreQuery.
type ScopedQuery struct {
	TenantID      int64              `json:"tenant_id"`
	StoreID       *int64             `json:"store_id,omitempty"`
	DateFrom      string             `json:"date_from"`
	DateTo        string             `json:"date_to"`
	Timezone      string             `json:"timezone"`
	Currency      string             `json:"currency,omitempty"`
	Granularity   period.Granularity `json:"bucket"`
	Limit         int                `json:"limit"`
	RangeStartUTC time.Time          `json:"range_start_utc"`
	RangeEndUTC   time.Time          `json:"range_end_utc"`

	window period.Window
}

// NewScopedQuery validates params against the caller scope and produces a ScopedQuery.
// The tenant always comes from the scope; the store goes through the role constraint.
func NewScopedQuery(scope shared.Scope, params QueryParams, maxRangeDays int) (ScopedQuery, error) {
	if scope.TenantID <= 0 {
		return ScopedQuery{}, shared.ErrScopeMissing
	}
	if err := validate.Struct(params); err != nil {
		return ScopedQuery{}, translateValidation(err)
	}
	storeID, err := shared.ResolveStore(scope, params.StoreID)
	if err != nil {
		return ScopedQuery{}, err
	}
	return build(scope.TenantID, storeID, params, maxRangeDays)
}

// RestoreQuery rebuilds a ScopedQuery from its JSON form, re-deriving the UTC window.
func RestoreQuery(raw []byte, maxRangeDays int) (ScopedQuery, error) {
	var stored ScopedQuery
	if err := json.Unmarshal(raw, &stored); err != nil {
		return ScopedQuery{}, fmt.Errorf("analytics: decode query: %w", err)
	}
	if stored.TenantID <= 0 {
		return ScopedQuery{}, shared.ErrScopeMissing
	}
	return build(stored.TenantID, stored.StoreID, QueryParams{
		DateFrom:    stored.DateFrom,
		DateTo:      stored.DateTo,
		Timezone:    stored.Timezone,
		Currency:    stored.Currency,
		Granularity: string(stored.Granularity),
		Limit:       stored.Limit,
	}, maxRangeDays)
}

func build(tenantID int64, storeID *int64, params QueryParams, maxRangeDays int) (ScopedQuery, error) {
	if maxRangeDays <= 0 {
		maxRangeDays = DefaultMaxRangeDays
	}
	window, err := period.Resolve(params.DateFrom, params.DateTo, params.Timezone)
	if err != nil {
		return ScopedQuery{}, err
	}
	if window.Days() > maxRangeDays {
		return ScopedQuery{}, shared.Invalid("date_to", fmt.Sprintf("range exceeds %d days", maxRangeDays))
	}
	code, err := normalizeCurrency(params.Currency)
	if err != nil {
		return ScopedQuery{}, err
	}
	limit := params.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	return ScopedQuery{
		TenantID:      tenantID,
		StoreID:       storeID,
		DateFrom:      window.FromString(),
		DateTo:        window.ToString(),
		Timezone:      window.Location.String(),
		Currency:      code,
		Granularity:   period.ParseGranularity(params.Granularity),
		Limit:         limit,
		RangeStartUTC: window.Start,
		RangeEndUTC:   window.End,
		window:        window,
	}, nil
}

func normalizeCurrency(raw string) (string, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	unit, err := currency.ParseISO(raw)
	if err != nil {
		return "", shared.Invalid("currency", "unsupported ISO 4217 code")
	}
	return unit.String(), nil
}

// MarshalOptions encodes the query for storage alongside asynchronous jobs.
func (q ScopedQuery) MarshalOptions() ([]byte, error) {
	return json.Marshal(q)
}

// Window returns the resolved UTC window.
func (q ScopedQuery) Window() period.Window {
	return q.window
}

// Location returns the query timezone, defaulting to UTC.
func (q ScopedQuery) Location() *time.Location {
	if q.window.Location == nil {
		return time.UTC
	}
	return q.window.Location
}

// WithGranularity returns a copy bucketed differently; the cache fragment changes with it.
func (q ScopedQuery) WithGranularity(g period.Granularity) ScopedQuery {
	q.Granularity = g
	return q
}

// Fragment is a stable hash of the normalised query, used as a cache and export key.
func (q ScopedQuery) Fragment() string {
	store := "-"
	if q.StoreID != nil {
		store = formatInt(*q.StoreID)
	}
	canonical := strings.Join([]string{
		"t=" + formatInt(q.TenantID),
		"s=" + store,
		"f=" + q.DateFrom,
		"to=" + q.DateTo,
		"tz=" + q.Timezone,
		"c=" + q.Currency,
		"g=" + string(q.Granularity),
		"l=" + formatInt(int64(q.Limit)),
	}, "|")
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return shared.Invalid(fieldName(first.Field()), first.Tag())
	}
	return shared.Invalid("query", err.Error())
}

func fieldName(goName string) string {
	switch goName {
	case "DateFrom":
		return "date_from"
	case "DateTo":
		return "date_to"
	case "Timezone":
		return "tz"
	case "StoreID":
		return "store_id"
	case "Currency":
		return "currency"
	case "Limit":
		return "limit"
	default:
		return strings.ToLower(goName)
	}
}
