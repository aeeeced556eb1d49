package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"travelapi/internal/model"
	"travelapi/internal/policy"
	"travelapi/internal/repository"
)

// RequestStatistics is a derived read over the live store — no caching, the
// counts reflect the table at query time.
type RequestStatistics struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"by_status"`
	TotalBudget     decimal.Decimal  `json:"total_budget"`
	ApprovedBudget  decimal.Decimal  `json:"approved_budget"`
	ActiveApprovers int64            `json:"active_approvers"`
}

type StatisticsService interface {
	GetStatistics(ctx context.Context, actor policy.Actor) (RequestStatistics, error)
}

type statisticsService struct {
	requests repository.RequestRepository
	users    repository.UserRepository
}

func NewStatisticsService(requests repository.RequestRepository, users repository.UserRepository) StatisticsService {
	return &statisticsService{requests: requests, users: users}
}

// GetStatistics counts requests per status. Admins see the whole table,
// everyone else sees the slice they are a party to.
func (s *statisticsService) GetStatistics(ctx context.Context, actor policy.Actor) (RequestStatistics, error) {
	var stats RequestStatistics

	var scope *uuid.UUID
	if !actor.IsAdmin() {
		id := actor.ID
		scope = &id
	}

	counts, err := s.requests.CountByStatus(ctx, scope)
	if err != nil {
		return stats, err
	}

	// Every defined status appears in the response, zero or not.
	stats.ByStatus = map[string]int64{
		model.StatusDraft:     0,
		model.StatusPending:   0,
		model.StatusApproved:  0,
		model.StatusRejected:  0,
		model.StatusCancelled: 0,
	}
	for status, count := range counts {
		stats.ByStatus[status] = count
		stats.Total += count
	}

	sums, err := s.requests.SumBudgetByStatus(ctx, scope)
	if err != nil {
		return stats, err
	}
	stats.TotalBudget = decimal.Zero
	for _, sum := range sums {
		stats.TotalBudget = stats.TotalBudget.Add(sum)
	}
	stats.ApprovedBudget = sums[model.StatusApproved]

	approvers, err := s.users.CountByRoleAndActivity(ctx, model.RoleApprover, true)
	if err != nil {
		return stats, err
	}
	admins, err := s.users.CountByRoleAndActivity(ctx, model.RoleAdmin, true)
	if err != nil {
		return stats, err
	}
	stats.ActiveApprovers = approvers + admins

	return stats, nil
}
