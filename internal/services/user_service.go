package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/crypto"
	apperrors "github.com/learnhub-io/learnhub/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken signals a uniqueness conflict on the email column.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "An account with this email already exists", http.StatusConflict)
)

// CreateUserInput describes the fields accepted when provisioning a user.
type CreateUserInput struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// UpdateUserInput enumerates mutable user attributes.
type UpdateUserInput struct {
	FullName *string
	Role     *string
}

// UserFilters captures listing filters.
type UserFilters struct {
	Role   string
	Active *bool
	Search string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService manages account lifecycle outside the credential path.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, auditService *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: auditService}, nil
}

// Create provisions a new user with a hashed password.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("email and password are required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = models.RoleStudent
	}

	user := &models.User{
		Email:    email,
		Password: hashed,
		FullName: strings.TrimSpace(input.FullName),
		Role:     role,
		IsActive: true,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// GetByEmail loads a user by email address.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Take(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user by email: %w", err)
	}
	return &user, nil
}

// List retrieves users matching the supplied filters with pagination.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{})

	if role := strings.TrimSpace(opts.Filters.Role); role != "" {
		query = query.Where("role = ?", role)
	}
	if opts.Filters.Active != nil {
		query = query.Where("is_active = ?", *opts.Filters.Active)
	}
	if search := strings.TrimSpace(opts.Filters.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update persists mutable attributes for an existing user.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*input.FullName)
	}
	if input.Role != nil {
		role := strings.TrimSpace(*input.Role)
		if role != models.RoleStudent && role != models.RoleAdmin {
			return nil, apperrors.NewBadRequest("unknown role")
		}
		updates["role"] = role
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	return s.GetByID(ctx, id)
}

// SetActive toggles the active state of an account.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if user.IsActive == active {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(user).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("user service: set active: %w", err)
	}

	result := AuditResultSuccess
	action := "user.deactivate"
	if active {
		action = "user.activate"
	}
	recordAudit(s.audit, ctx, AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: action,
		Result: result,
	})

	return nil
}
