package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"travelapi/internal/apperr"
	"travelapi/internal/model"
	"travelapi/internal/policy"
	"travelapi/internal/repository"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Password  string `json:"password" binding:"required,min=6"`
	Role      string `json:"role" binding:"required"`
}

// UpdateUserRequest carries an explicit optional-field patch: nil means the
// field is untouched. Which fields an actor may touch is a policy decision.
type UpdateUserRequest struct {
	Email     *string `json:"email" binding:"omitempty,email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Password  *string `json:"password" binding:"omitempty,min=6"`
	Role      *string `json:"role"`
	IsActive  *bool   `json:"is_active"`
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// DTO for returning User without exposing sensitive data (e.g. credential hash)
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	CreateUser(ctx context.Context, actor policy.Actor, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	GetUserByID(ctx context.Context, actor policy.Actor, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, actor policy.Actor, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, actor policy.Actor, id string, req UpdateUserRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, actor policy.Actor, id string) error
}

type userService struct {
	users    repository.UserRepository
	requests repository.RequestRepository
	audit    repository.AuditRepository
}

// NewUserService returns a new instance of UserService
func NewUserService(users repository.UserRepository, requests repository.RequestRepository, audit repository.AuditRepository) UserService {
	return &userService{users: users, requests: requests, audit: audit}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Helper: parse model to standard json API response
func mapUserToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *userService) CreateUser(ctx context.Context, actor policy.Actor, req CreateUserRequest) (*UserResponse, error) {
	if !policy.CanManageUsers(actor) {
		return nil, apperr.New(apperr.CodeForbidden, "only admins may create users")
	}

	if !model.ValidRole(req.Role) {
		return nil, apperr.New(apperr.CodeInvalidRole, "role must be user, approver, or admin")
	}

	if !emailRegex.MatchString(req.Email) {
		return nil, apperr.New(apperr.CodeInvalidEmail, "invalid email format")
	}

	taken, err := s.users.EmailTaken(ctx, req.Email, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.New(apperr.CodeEmailExists, "email already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  string(hashedPassword),
		Role:      req.Role,
		IsActive:  true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, &actor.ID, model.ActionCreateUser, user.ID.String(), user.Email, map[string]interface{}{
		"role": user.Role,
	})

	return mapUserToResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	// Uniform failure — login must not reveal whether the email is registered.
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
	}

	if !user.IsActive {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"role":  user.Role,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	})

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default_super_secret_key"
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{Token: tokenString}, nil
}

func (s *userService) GetUserByID(ctx context.Context, actor policy.Actor, id string) (*UserResponse, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return nil, err
	}

	if !policy.CanViewUser(actor, user) {
		return nil, apperr.New(apperr.CodeForbidden, "access denied")
	}

	return mapUserToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, actor policy.Actor, page, limit int) ([]UserResponse, int64, error) {
	if !policy.CanListUsers(actor) {
		return nil, 0, apperr.New(apperr.CodeForbidden, "only admins may list users")
	}

	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	users, total, err := s.users.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapUserToResponse(&users[i]))
	}

	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, actor policy.Actor, id string, req UpdateUserRequest) (*UserResponse, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return nil, err
	}

	fields := policy.UserFields{
		Name:     req.FirstName != nil || req.LastName != nil,
		Email:    req.Email != nil,
		Role:     req.Role != nil,
		Active:   req.IsActive != nil,
		Password: req.Password != nil,
	}

	// Specific code when an admin tries to switch off their own account.
	if req.IsActive != nil && !*req.IsActive && actor.ID == user.ID {
		return nil, apperr.New(apperr.CodeCannotDeactivateSelf, "cannot deactivate your own account")
	}

	if !policy.CanUpdateUserFields(actor, user, fields) {
		return nil, apperr.New(apperr.CodeForbidden, "access denied")
	}

	if req.Role != nil {
		if !model.ValidRole(*req.Role) {
			return nil, apperr.New(apperr.CodeInvalidRole, "role must be user, approver, or admin")
		}
		user.Role = *req.Role
	}

	if req.Email != nil && *req.Email != user.Email {
		if !emailRegex.MatchString(*req.Email) {
			return nil, apperr.New(apperr.CodeInvalidEmail, "invalid email format")
		}
		taken, err := s.users.EmailTaken(ctx, *req.Email, user.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, apperr.New(apperr.CodeEmailExists, "email already exists")
		}
		user.Email = *req.Email
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		user.Password = string(hashed)
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, &actor.ID, model.ActionUpdateUser, user.ID.String(), user.Email, map[string]interface{}{
		"is_active": user.IsActive,
		"role":      user.Role,
	})

	return mapUserToResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, actor policy.Actor, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return apperr.New(apperr.CodeUserNotFound, "user not found")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return err
	}

	if !actor.IsAdmin() {
		return apperr.New(apperr.CodeForbidden, "only admins may delete users")
	}
	if actor.ID == user.ID {
		return apperr.New(apperr.CodeCannotDeleteSelf, "cannot delete your own account")
	}
	if !policy.CanDeleteUser(actor, user) {
		return apperr.New(apperr.CodeForbidden, "access denied")
	}

	// Hard delete only when nothing references the user.
	referenced, err := s.requests.ExistsForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if referenced {
		return apperr.New(apperr.CodeUserHasRequests, "user has travel requests; deactivate instead")
	}

	if err := s.users.Delete(ctx, user.ID); err != nil {
		return err
	}

	s.recordAudit(ctx, &actor.ID, model.ActionDeleteUser, user.ID.String(), user.Email, nil)

	return nil
}

// recordAudit appends an audit entry, best effort — auditing must never fail
// the operation it describes.
func (s *userService) recordAudit(ctx context.Context, userID *uuid.UUID, action, entityID, entityName string, details map[string]interface{}) {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(payload),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to record %s for %s: %v", action, entityID, err)
	}
}
