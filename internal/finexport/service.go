package finexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

const (
	// DefaultTTL is how long a completed artifact stays downloadable.
	DefaultTTL = 24 * time.Hour
	// DefaultSignTTL caps the lifetime of a single download link.
	DefaultSignTTL = 15 * time.Minute
	// DefaultStaleAfter is how long an export may sit in processing before the purge
	// sweep fails it.
	DefaultStaleAfter = time.Hour
	// DefaultRoutePrefix is where status and download routes are mounted.
	DefaultRoutePrefix = "/finance/analytics/export"
)

// Enqueuer submits generation tasks.
type Enqueuer interface {
	EnqueueExportGenerate(ctx context.Context, payload jobs.ExportGeneratePayload) (*asynq.TaskInfo, error)
}

// TokenVerifier validates download tokens bound to an object key.
type TokenVerifier interface {
	Verify(token, key string) error
}

// Config tunes availability windows and route layout.
type Config struct {
	TTL         time.Duration
	SignTTL     time.Duration
	StaleAfter  time.Duration
	RoutePrefix string
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SignTTL <= 0 {
		c.SignTTL = DefaultSignTTL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if strings.TrimSpace(c.RoutePrefix) == "" {
		c.RoutePrefix = DefaultRoutePrefix
	}
	c.RoutePrefix = strings.TrimRight(c.RoutePrefix, "/")
	return c
}

// Service orchestrates export requests, status polling, downloads and purging.
type Service struct {
	repo     Repository
	queue    Enqueuer
	store    storage.Storage
	signer   storage.Signer
	verifier TokenVerifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, queue Enqueuer, store storage.Storage, signer storage.Signer, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		queue:  queue,
		store:  store,
		signer: signer,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "finexport")),
		now:    time.Now,
	}
}

// WithVerifier enables application-served downloads.
func (s *Service) WithVerifier(v TokenVerifier) *Service {
	s.verifier = v
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// RequestExport records a pending export for q and enqueues its generation.
func (s *Service) RequestExport(ctx context.Context, scope shared.Scope, t Type, q analytics.ScopedQuery) (RequestReceipt, error) {
	if scope.TenantID <= 0 {
		return RequestReceipt{}, shared.ErrScopeMissing
	}
	if q.TenantID != scope.TenantID {
		return RequestReceipt{}, shared.ScopeViolation{TenantID: scope.TenantID, Requested: q.TenantID}
	}
	if _, err := ParseType(string(t)); err != nil {
		return RequestReceipt{}, err
	}
	options, err := q.MarshalOptions()
	if err != nil {
		return RequestReceipt{}, fmt.Errorf("finexport: encode options: %w", err)
	}
	record, err := s.repo.Insert(ctx, Export{
		ID:          uuid.New(),
		TenantID:    q.TenantID,
		StoreID:     q.StoreID,
		Type:        t,
		Options:     options,
		RequestedBy: scope.UserID,
	})
	if err != nil {
		return RequestReceipt{}, err
	}
	payload := jobs.ExportGeneratePayload{ExportID: record.ID, TenantID: record.TenantID}
	if _, err := s.queue.EnqueueExportGenerate(ctx, payload); err != nil {
		if markErr := s.repo.MarkFailed(ctx, record.TenantID, record.ID, "enqueue: "+err.Error(), s.now()); markErr != nil {
			s.logger.Error("mark export failed after enqueue error", slog.String("export_id", record.ID.String()), slog.Any("error", markErr))
		}
		return RequestReceipt{}, fmt.Errorf("finexport: enqueue: %w", err)
	}
	s.logger.Info("export requested",
		slog.String("export_id", record.ID.String()),
		slog.Int64("tenant_id", record.TenantID),
		slog.String("type", string(t)),
	)
	return RequestReceipt{JobID: record.ID, StatusURL: s.cfg.RoutePrefix + "/status/" + record.ID.String()}, nil
}

// GetExportStatus returns the polling view. Exports of other tenants, and of other stores for
// store-bound roles, read as not found.
func (s *Service) GetExportStatus(ctx context.Context, scope shared.Scope, id uuid.UUID) (StatusView, error) {
	if scope.TenantID <= 0 {
		return StatusView{}, shared.ErrScopeMissing
	}
	record, err := s.repo.Get(ctx, scope.TenantID, id)
	if err != nil {
		return StatusView{}, err
	}
	if !visibleTo(scope, record) {
		return StatusView{}, ErrExportNotFound
	}
	view := StatusView{JobID: record.ID, Status: record.Status, Type: record.Type}
	switch record.Status {
	case StatusFailed:
		view.Error = record.Error
	case StatusCompleted:
		view.AvailableUntil = record.AvailableUntil
		now := s.now()
		if !record.Downloadable(now) {
			break
		}
		ttl := s.cfg.SignTTL
		if remaining := record.AvailableUntil.Sub(now); remaining < ttl {
			ttl = remaining
		}
		link, err := s.signer.SignedURL(ctx, storage.SignRequest{
			Key:      record.Path,
			Resource: s.cfg.RoutePrefix + "/download/" + record.ID.String(),
			TTL:      ttl,
		})
		if err != nil {
			return StatusView{}, fmt.Errorf("finexport: sign download: %w", err)
		}
		view.DownloadURL = link
	}
	return view, nil
}

// Download authorises token against the export artifact and opens it for streaming.
func (s *Service) Download(ctx context.Context, id uuid.UUID, token string) (io.ReadCloser, Export, error) {
	if s.verifier == nil {
		return nil, Export{}, ErrExportNotFound
	}
	record, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, Export{}, err
	}
	if record.Path == "" || s.verifier.Verify(token, record.Path) != nil {
		return nil, Export{}, ErrDownloadDenied
	}
	if record.Status != StatusCompleted {
		return nil, Export{}, ErrExportNotReady
	}
	if !record.Downloadable(s.now()) {
		return nil, Export{}, ErrExportExpired
	}
	body, err := s.store.Open(ctx, record.Path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, Export{}, ErrExportExpired
		}
		return nil, Export{}, fmt.Errorf("finexport: open artifact: %w", err)
	}
	return body, record, nil
}

// Purge fails exports stuck in processing, then deletes artifacts whose availability window
// has ended and returns how many were removed.
func (s *Service) Purge(ctx context.Context, limit int) (int, error) {
	now := s.now()
	stale, err := s.repo.FailStale(ctx, now.Add(-s.cfg.StaleAfter), now, "processing timed out")
	if err != nil {
		return 0, fmt.Errorf("finexport: fail stale: %w", err)
	}
	if stale > 0 {
		s.logger.Warn("stale exports failed", slog.Int64("count", stale))
	}
	expired, err := s.repo.ListPurgeable(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("finexport: list purgeable: %w", err)
	}
	purged := 0
	for _, record := range expired {
		if record.Path != "" {
			if err := s.store.Delete(ctx, record.Path); err != nil {
				s.logger.Warn("purge export artifact", slog.String("export_id", record.ID.String()), slog.Any("error", err))
				continue
			}
		}
		if err := s.repo.MarkPurged(ctx, record.ID, s.now()); err != nil {
			return purged, fmt.Errorf("finexport: mark purged: %w", err)
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("export artifacts purged", slog.Int("count", purged))
	}
	return purged, nil
}

func visibleTo(scope shared.Scope, record Export) bool {
	if scope.TenantWide() {
		return true
	}
	if scope.StoreID == nil || record.StoreID == nil {
		return false
	}
	return *scope.StoreID == *record.StoreID
}
