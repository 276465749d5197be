package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/models"
)

// Audit actions recorded by the auth surface.
const (
	AuditActionLogin          = "auth.login"
	AuditActionLogout         = "auth.logout"
	AuditActionRefresh        = "auth.refresh"
	AuditActionReplay         = "auth.refresh.replay"
	AuditActionRegister       = "auth.register"
	AuditActionResetRequest   = "auth.password_reset.request"
	AuditActionResetRedeem    = "auth.password_reset.redeem"
	AuditActionPasswordChange = "auth.password.change"
	AuditActionSessionRevoke  = "auth.session.revoke"
)

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID    *string
	Email     string
	Action    string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	UserID string
	Action string
	Result string
	Since  *time.Time
	Until  *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	var payload datatypes.JSON
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = datatypes.JSON(encoded)
	}

	log := models.AuditLog{
		Action:    strings.TrimSpace(entry.Action),
		Result:    strings.TrimSpace(entry.Result),
		Email:     strings.ToLower(strings.TrimSpace(entry.Email)),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		UserAgent: strings.TrimSpace(entry.UserAgent),
		Metadata:  payload,
	}

	if entry.UserID != nil && strings.TrimSpace(*entry.UserID) != "" {
		id := strings.TrimSpace(*entry.UserID)
		log.UserID = &id
	}

	return s.db.WithContext(ctx).Create(&log).Error
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	query = applyAuditFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
