package finexport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uuid.UUID is an array type; squirrel would expand it into an IN list, so ids are
// always bound as strings.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var exportColumns = []string{
	"id", "tenant_id", "store_id", "type", "status", "options", "COALESCE(path,'')",
	"available_until", "COALESCE(error,'')", "COALESCE(requested_by,'')",
	"created_at", "started_at", "completed_at", "updated_at", "purged_at",
}

// Repository persists export records. Every transition is a guarded update.
type Repository interface {
	Insert(ctx context.Context, e Export) (Export, error)
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (Export, error)
	Find(ctx context.Context, id uuid.UUID) (Export, error)
	MarkProcessing(ctx context.Context, tenantID int64, id uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, tenantID int64, id uuid.UUID, path string, at, availableUntil time.Time) error
	MarkFailed(ctx context.Context, tenantID int64, id uuid.UUID, message string, at time.Time) error
	ListPurgeable(ctx context.Context, now time.Time, limit int) ([]Export, error)
	MarkPurged(ctx context.Context, id uuid.UUID, at time.Time) error
	FailStale(ctx context.Context, startedBefore, at time.Time, message string) (int64, error)
}

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert stores a new pending export.
func (r *PGRepository) Insert(ctx context.Context, e Export) (Export, error) {
	if r == nil || r.pool == nil {
		return Export{}, fmt.Errorf("finexport: repository not initialised")
	}
	query, args, err := psql.
		Insert("finance_exports").
		Columns("id", "tenant_id", "store_id", "type", "status", "options", "requested_by").
		Values(e.ID.String(), e.TenantID, e.StoreID, string(e.Type), string(StatusPending), []byte(e.Options), e.RequestedBy).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return Export{}, err
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return Export{}, fmt.Errorf("finexport: insert: %w", err)
	}
	e.Status = StatusPending
	return e, nil
}

// Get loads an export owned by tenantID.
func (r *PGRepository) Get(ctx context.Context, tenantID int64, id uuid.UUID) (Export, error) {
	return r.get(ctx, squirrel.Eq{"id": id.String(), "tenant_id": tenantID})
}

// Find loads an export by id alone. Callers must authorise access separately.
func (r *PGRepository) Find(ctx context.Context, id uuid.UUID) (Export, error) {
	return r.get(ctx, squirrel.Eq{"id": id.String()})
}

func (r *PGRepository) get(ctx context.Context, where squirrel.Eq) (Export, error) {
	if r == nil || r.pool == nil {
		return Export{}, fmt.Errorf("finexport: repository not initialised")
	}
	query, args, err := psql.Select(exportColumns...).From("finance_exports").Where(where).ToSql()
	if err != nil {
		return Export{}, err
	}
	e, err := scanExport(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Export{}, ErrExportNotFound
	}
	return e, err
}

// MarkProcessing moves pending to processing.
func (r *PGRepository) MarkProcessing(ctx context.Context, tenantID int64, id uuid.UUID, at time.Time) error {
	return r.transition(ctx, tenantID, id, []Status{StatusPending}, squirrel.Eq{
		"status":     string(StatusProcessing),
		"started_at": at,
		"updated_at": at,
	})
}

// MarkCompleted moves processing to completed with the stored artifact path.
func (r *PGRepository) MarkCompleted(ctx context.Context, tenantID int64, id uuid.UUID, path string, at, availableUntil time.Time) error {
	return r.transition(ctx, tenantID, id, []Status{StatusProcessing}, squirrel.Eq{
		"status":          string(StatusCompleted),
		"path":            path,
		"completed_at":    at,
		"available_until": availableUntil,
		"updated_at":      at,
	})
}

// MarkFailed moves a non-terminal export to failed.
func (r *PGRepository) MarkFailed(ctx context.Context, tenantID int64, id uuid.UUID, message string, at time.Time) error {
	return r.transition(ctx, tenantID, id, []Status{StatusPending, StatusProcessing}, squirrel.Eq{
		"status":       string(StatusFailed),
		"error":        truncateError(message),
		"completed_at": at,
		"updated_at":   at,
	})
}

func (r *PGRepository) transition(ctx context.Context, tenantID int64, id uuid.UUID, from []Status, set squirrel.Eq) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("finexport: repository not initialised")
	}
	query, args, err := transitionQuery(tenantID, id, from, set)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finexport: transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func transitionQuery(tenantID int64, id uuid.UUID, from []Status, set squirrel.Eq) (string, []any, error) {
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}
	return psql.Update("finance_exports").
		SetMap(set).
		Where(squirrel.Eq{"id": id.String(), "tenant_id": tenantID, "status": expected}).
		ToSql()
}

// ListPurgeable returns completed exports whose availability ended before now and whose
// artifacts have not been removed.
func (r *PGRepository) ListPurgeable(ctx context.Context, now time.Time, limit int) ([]Export, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("finexport: repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	query, args, err := psql.Select(exportColumns...).
		From("finance_exports").
		Where(squirrel.Eq{"status": string(StatusCompleted), "purged_at": nil}).
		Where(squirrel.LtOrEq{"available_until": now}).
		OrderBy("available_until").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPurged records that the artifact was removed. Status stays completed.
func (r *PGRepository) MarkPurged(ctx context.Context, id uuid.UUID, at time.Time) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("finexport: repository not initialised")
	}
	query, args, err := psql.Update("finance_exports").
		Set("purged_at", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id.String(), "purged_at": nil}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query, args...)
	return err
}

// FailStale fails processing exports started before startedBefore. A worker that died
// mid-render leaves its record in processing; redelivery cannot move it again.
func (r *PGRepository) FailStale(ctx context.Context, startedBefore, at time.Time, message string) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, fmt.Errorf("finexport: repository not initialised")
	}
	query, args, err := staleQuery(startedBefore, at, message)
	if err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("finexport: fail stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func staleQuery(startedBefore, at time.Time, message string) (string, []any, error) {
	return psql.Update("finance_exports").
		Set("status", string(StatusFailed)).
		Set("error", truncateError(message)).
		Set("completed_at", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"status": string(StatusProcessing)}).
		Where(squirrel.Lt{"started_at": startedBefore}).
		ToSql()
}

func scanExport(row interface{ Scan(dest ...any) error }) (Export, error) {
	var e Export
	var storeID sql.NullInt64
	var typ, status string
	var options []byte
	var availableUntil, startedAt, completedAt, purgedAt sql.NullTime
	if err := row.Scan(
		&e.ID,
		&e.TenantID,
		&storeID,
		&typ,
		&status,
		&options,
		&e.Path,
		&availableUntil,
		&e.Error,
		&e.RequestedBy,
		&e.CreatedAt,
		&startedAt,
		&completedAt,
		&e.UpdatedAt,
		&purgedAt,
	); err != nil {
		return Export{}, err
	}
	e.Type = Type(typ)
	e.Status = Status(status)
	e.Options = options
	if storeID.Valid {
		v := storeID.Int64
		e.StoreID = &v
	}
	e.AvailableUntil = nullTime(availableUntil)
	e.StartedAt = nullTime(startedAt)
	e.CompletedAt = nullTime(completedAt)
	e.PurgedAt = nullTime(purgedAt)
	return e, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
