package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"travelapi/internal/model"
	"travelapi/internal/repository"
)

// In-memory repository fakes. They honor the same contracts as the GORM
// implementations — in particular UpdateWhereStatus is atomic under a mutex,
// so concurrent transition tests race the same way the database does.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) EmailTaken(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email && user.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserRepo) List(ctx context.Context, page, limit int) ([]model.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]model.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, *user)
	}
	return users, int64(len(users)), nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.UpdatedAt = time.Now()
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) CountByRoleAndActivity(ctx context.Context, role string, active bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, user := range f.users {
		if user.Role == role && user.IsActive == active {
			count++
		}
	}
	return count, nil
}

type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*model.TravelRequest
	users    *fakeUserRepo // for party preloads
}

func newFakeRequestRepo(users *fakeUserRepo) *fakeRequestRepo {
	return &fakeRequestRepo{
		requests: make(map[uuid.UUID]*model.TravelRequest),
		users:    users,
	}
}

func (f *fakeRequestRepo) Create(ctx context.Context, req *model.TravelRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = time.Now()
	clone := *req
	clone.Requester = nil
	clone.Approver = nil
	f.requests[req.ID] = &clone
	return nil
}

func (f *fakeRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.TravelRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (f *fakeRequestRepo) GetWithParties(ctx context.Context, id uuid.UUID) (*model.TravelRequest, error) {
	req, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if requester, err := f.users.GetByID(ctx, req.RequesterID); err == nil {
		req.Requester = requester
	}
	if approver, err := f.users.GetByID(ctx, req.ApproverID); err == nil {
		req.Approver = approver
	}
	return req, nil
}

func (f *fakeRequestRepo) List(ctx context.Context, filter repository.RequestFilter) ([]model.TravelRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TravelRequest
	for _, req := range f.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.ApproverID != nil && req.ApproverID != *filter.ApproverID {
			continue
		}
		if filter.PartyID != nil && req.RequesterID != *filter.PartyID && req.ApproverID != *filter.PartyID {
			continue
		}
		if filter.From != nil && req.DepartureDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && req.DepartureDate.After(*filter.To) {
			continue
		}
		out = append(out, *req)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRequestRepo) UpdateWhereStatus(ctx context.Context, id uuid.UUID, expectedStatus string, patch map[string]interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != expectedStatus {
		return 0, nil
	}
	for column, value := range patch {
		switch column {
		case "status":
			req.Status = value.(string)
		case "submitted_at":
			t := value.(time.Time)
			req.SubmittedAt = &t
		case "decided_at":
			t := value.(time.Time)
			req.DecidedAt = &t
		case "approval_comments":
			req.ApprovalComments = value.(string)
		case "destination":
			req.Destination = value.(string)
		case "purpose":
			req.Purpose = value.(string)
		case "departure_date":
			req.DepartureDate = value.(time.Time)
		case "return_date":
			req.ReturnDate = value.(time.Time)
		case "estimated_budget":
			req.EstimatedBudget = value.(decimal.Decimal)
		case "approver_id":
			req.ApproverID = value.(uuid.UUID)
		case "transportation_mode":
			req.TransportationMode = value.(string)
		case "accommodation_details":
			req.AccommodationDetails = value.(string)
		case "additional_notes":
			req.AdditionalNotes = value.(string)
		}
	}
	req.UpdatedAt = time.Now()
	return 1, nil
}

func (f *fakeRequestRepo) DeleteWhereStatus(ctx context.Context, id uuid.UUID, expectedStatus string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != expectedStatus {
		return 0, nil
	}
	delete(f.requests, id)
	return 1, nil
}

func (f *fakeRequestRepo) CountByStatus(ctx context.Context, partyID *uuid.UUID) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, req := range f.requests {
		if partyID != nil && req.RequesterID != *partyID && req.ApproverID != *partyID {
			continue
		}
		counts[req.Status]++
	}
	return counts, nil
}

func (f *fakeRequestRepo) SumBudgetByStatus(ctx context.Context, partyID *uuid.UUID) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sums := make(map[string]decimal.Decimal)
	for _, req := range f.requests {
		if partyID != nil && req.RequesterID != *partyID && req.ApproverID != *partyID {
			continue
		}
		sums[req.Status] = sums[req.Status].Add(req.EstimatedBudget)
	}
	return sums, nil
}

func (f *fakeRequestRepo) ExistsForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.RequesterID == userID || req.ApproverID == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeNotificationRepo struct {
	mu      sync.Mutex
	records []model.Notification
	created chan struct{}
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{created: make(chan struct{}, 16)}
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	f.records = append(f.records, *n)
	f.mu.Unlock()
	f.created <- struct{}{}
	return nil
}

func (f *fakeNotificationRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Notification
	for _, n := range f.records {
		if n.RequestID == requestID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (f *fakeAuditRepo) Create(ctx context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) List(ctx context.Context, page, limit int) ([]model.AuditLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditLog(nil), f.entries...), int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type dispatchedNotification struct {
	Kind           string
	RequestID      uuid.UUID
	RequesterEmail string
	ApproverEmail  string
}

// fakeDispatcher records invocations synchronously — what the engine hands
// off, not what a transport would deliver.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchedNotification
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{}
}

func (f *fakeDispatcher) Dispatch(kind string, req *model.TravelRequest, requester, approver *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchedNotification{
		Kind:           kind,
		RequestID:      req.ID,
		RequesterEmail: requester.Email,
		ApproverEmail:  approver.Email,
	})
}

func (f *fakeDispatcher) dispatched() []dispatchedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchedNotification(nil), f.calls...)
}
