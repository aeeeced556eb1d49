package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"travelapi/internal/model"
)

// RequestFilter narrows List queries. Nil/zero fields are not applied.
// PartyID scopes to rows where the user is requester or approver — the
// visibility rule for non-admin listings.
type RequestFilter struct {
	Status      string
	RequesterID *uuid.UUID
	ApproverID  *uuid.UUID
	PartyID     *uuid.UUID
	From        *time.Time
	To          *time.Time
	Page        int
	Limit       int
}

// RequestRepository defines the interface for data access of TravelRequest
// entities. UpdateWhereStatus is the conditional write every lifecycle
// transition goes through: the row is only touched when it still holds the
// expected status, so concurrent transitions race correctly at the store.
type RequestRepository interface {
	Create(ctx context.Context, req *model.TravelRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.TravelRequest, error)
	GetWithParties(ctx context.Context, id uuid.UUID) (*model.TravelRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]model.TravelRequest, int64, error)
	UpdateWhereStatus(ctx context.Context, id uuid.UUID, expectedStatus string, patch map[string]interface{}) (int64, error)
	DeleteWhereStatus(ctx context.Context, id uuid.UUID, expectedStatus string) (int64, error)
	CountByStatus(ctx context.Context, partyID *uuid.UUID) (map[string]int64, error)
	SumBudgetByStatus(ctx context.Context, partyID *uuid.UUID) (map[string]decimal.Decimal, error)
	ExistsForUser(ctx context.Context, userID uuid.UUID) (bool, error)
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository returns a new instance of RequestRepository
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.TravelRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *requestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TravelRequest, error) {
	var req model.TravelRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetWithParties(ctx context.Context, id uuid.UUID) (*model.TravelRequest, error) {
	var req model.TravelRequest
	if err := r.db.WithContext(ctx).
		Preload("Requester").
		Preload("Approver").
		First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) applyFilter(query *gorm.DB, filter RequestFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.RequesterID != nil {
		query = query.Where("requester_id = ?", *filter.RequesterID)
	}
	if filter.ApproverID != nil {
		query = query.Where("approver_id = ?", *filter.ApproverID)
	}
	if filter.PartyID != nil {
		query = query.Where("requester_id = ? OR approver_id = ?", *filter.PartyID, *filter.PartyID)
	}
	if filter.From != nil {
		query = query.Where("departure_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("departure_date <= ?", *filter.To)
	}
	return query
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.TravelRequest, int64, error) {
	var total int64
	countQuery := r.applyFilter(r.db.WithContext(ctx).Model(&model.TravelRequest{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var requests []model.TravelRequest
	fetchQuery := r.applyFilter(r.db.WithContext(ctx).
		Preload("Requester").
		Preload("Approver"), filter)
	if err := fetchQuery.
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// UpdateWhereStatus applies patch only if the row still holds expectedStatus.
// Returns the affected-row count: 0 means the precondition failed (the row is
// gone or another transition won the race).
func (r *requestRepository) UpdateWhereStatus(ctx context.Context, id uuid.UUID, expectedStatus string, patch map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.TravelRequest{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(patch)
	return result.RowsAffected, result.Error
}

// DeleteWhereStatus removes the row only while it holds expectedStatus.
func (r *requestRepository) DeleteWhereStatus(ctx context.Context, id uuid.UUID, expectedStatus string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, expectedStatus).
		Delete(&model.TravelRequest{})
	return result.RowsAffected, result.Error
}

// CountByStatus aggregates at query time — derived read, no caching.
func (r *requestRepository) CountByStatus(ctx context.Context, partyID *uuid.UUID) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	query := r.db.WithContext(ctx).Model(&model.TravelRequest{}).
		Select("status, COUNT(*) as count").
		Group("status")
	if partyID != nil {
		query = query.Where("requester_id = ? OR approver_id = ?", *partyID, *partyID)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// SumBudgetByStatus totals estimated budgets per status, same scoping rules
// as CountByStatus.
func (r *requestRepository) SumBudgetByStatus(ctx context.Context, partyID *uuid.UUID) (map[string]decimal.Decimal, error) {
	var rows []struct {
		Status string
		Total  decimal.Decimal
	}
	query := r.db.WithContext(ctx).Model(&model.TravelRequest{}).
		Select("status, COALESCE(SUM(estimated_budget), 0) as total").
		Group("status")
	if partyID != nil {
		query = query.Where("requester_id = ? OR approver_id = ?", *partyID, *partyID)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[row.Status] = row.Total
	}
	return sums, nil
}

// ExistsForUser reports whether any request references the user as requester
// or approver. Guards hard user deletion.
func (r *requestRepository) ExistsForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.TravelRequest{}).
		Where("requester_id = ? OR approver_id = ?", userID, userID).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}
