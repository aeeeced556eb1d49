package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"travelapi/internal/apperr"
	"travelapi/internal/model"
	"travelapi/internal/policy"
	"travelapi/internal/repository"
)

const dateLayout = "2006-01-02"

// Dispatcher hands a committed transition off for notification. Implementations
// must never block the caller and never surface delivery failures to it.
type Dispatcher interface {
	Dispatch(kind string, req *model.TravelRequest, requester, approver *model.User)
}

// --- DTOs ---

type CreateRequestDTO struct {
	ApproverID           string          `json:"approver_id" binding:"required"`
	Destination          string          `json:"destination" binding:"required"`
	DepartureDate        string          `json:"departure_date" binding:"required"` // YYYY-MM-DD
	ReturnDate           string          `json:"return_date" binding:"required"`    // YYYY-MM-DD
	Purpose              string          `json:"purpose" binding:"required"`
	EstimatedBudget      decimal.Decimal `json:"estimated_budget" binding:"required"`
	TransportationMode   string          `json:"transportation_mode"`
	AccommodationDetails string          `json:"accommodation_details"`
	AdditionalNotes      string          `json:"additional_notes"`
	Submit               bool            `json:"submit"` // create directly as pending
}

// UpdateRequestDTO is an explicit optional-field patch: nil leaves the field
// untouched. Only drafts accept it.
type UpdateRequestDTO struct {
	ApproverID           *string          `json:"approver_id"`
	Destination          *string          `json:"destination"`
	DepartureDate        *string          `json:"departure_date"`
	ReturnDate           *string          `json:"return_date"`
	Purpose              *string          `json:"purpose"`
	EstimatedBudget      *decimal.Decimal `json:"estimated_budget"`
	TransportationMode   *string          `json:"transportation_mode"`
	AccommodationDetails *string          `json:"accommodation_details"`
	AdditionalNotes      *string          `json:"additional_notes"`
}

type DecisionDTO struct {
	Comments string `json:"comments"`
}

type RequestListFilter struct {
	Status string
	From   string // YYYY-MM-DD, filters on departure date
	To     string
	Page   int
	Limit  int
}

type RequestResponse struct {
	ID                   string          `json:"id"`
	RequesterID          string          `json:"requester_id"`
	RequesterName        string          `json:"requester_name,omitempty"`
	ApproverID           string          `json:"approver_id"`
	ApproverName         string          `json:"approver_name,omitempty"`
	Destination          string          `json:"destination"`
	DepartureDate        string          `json:"departure_date"`
	ReturnDate           string          `json:"return_date"`
	Purpose              string          `json:"purpose"`
	EstimatedBudget      decimal.Decimal `json:"estimated_budget"`
	TransportationMode   string          `json:"transportation_mode,omitempty"`
	AccommodationDetails string          `json:"accommodation_details,omitempty"`
	AdditionalNotes      string          `json:"additional_notes,omitempty"`
	Status               string          `json:"status"`
	ApprovalComments     string          `json:"approval_comments,omitempty"`
	SubmittedAt          *string         `json:"submitted_at"`
	DecidedAt            *string         `json:"decided_at"`
	CreatedAt            string          `json:"created_at"`
	UpdatedAt            string          `json:"updated_at"`
}

// --- Interface ---

// RequestService is the lifecycle engine: it validates and applies status
// transitions against the store. Every transition re-checks the persisted
// status through a conditional write, so concurrent attempts race correctly —
// exactly one succeeds, the rest observe a state-conflict error.
type RequestService interface {
	Create(ctx context.Context, actor policy.Actor, req CreateRequestDTO) (*RequestResponse, error)
	Get(ctx context.Context, actor policy.Actor, id string) (*RequestResponse, error)
	List(ctx context.Context, actor policy.Actor, filter RequestListFilter) ([]RequestResponse, int64, error)
	Update(ctx context.Context, actor policy.Actor, id string, req UpdateRequestDTO) (*RequestResponse, error)
	Submit(ctx context.Context, actor policy.Actor, id string) (*RequestResponse, error)
	Approve(ctx context.Context, actor policy.Actor, id string, comments string) (*RequestResponse, error)
	Reject(ctx context.Context, actor policy.Actor, id string, comments string) (*RequestResponse, error)
	Cancel(ctx context.Context, actor policy.Actor, id string) (*RequestResponse, error)
	Delete(ctx context.Context, actor policy.Actor, id string) error
	ListNotifications(ctx context.Context, actor policy.Actor, id string) ([]model.Notification, error)
}

type requestService struct {
	requests      repository.RequestRepository
	users         repository.UserRepository
	notifications repository.NotificationRepository
	audit         repository.AuditRepository
	dispatcher    Dispatcher
}

// NewRequestService returns a new instance of RequestService
func NewRequestService(
	requests repository.RequestRepository,
	users repository.UserRepository,
	notifications repository.NotificationRepository,
	audit repository.AuditRepository,
	dispatcher Dispatcher,
) RequestService {
	return &requestService{
		requests:      requests,
		users:         users,
		notifications: notifications,
		audit:         audit,
		dispatcher:    dispatcher,
	}
}

// --- Implementation ---

func (s *requestService) Create(ctx context.Context, actor policy.Actor, req CreateRequestDTO) (*RequestResponse, error) {
	// Validation order: required fields, date range, budget, self-approval,
	// approver checks. First failure short-circuits with its specific kind.
	if strings.TrimSpace(req.Destination) == "" {
		return nil, apperr.New(apperr.CodeMissingField, "destination is required")
	}
	if strings.TrimSpace(req.Purpose) == "" {
		return nil, apperr.New(apperr.CodeMissingField, "purpose is required")
	}
	if strings.TrimSpace(req.DepartureDate) == "" || strings.TrimSpace(req.ReturnDate) == "" {
		return nil, apperr.New(apperr.CodeMissingField, "departure_date and return_date are required")
	}
	if strings.TrimSpace(req.ApproverID) == "" {
		return nil, apperr.New(apperr.CodeMissingField, "approver_id is required")
	}

	departure, returnDate, err := parseDateRange(req.DepartureDate, req.ReturnDate)
	if err != nil {
		return nil, err
	}

	if !req.EstimatedBudget.GreaterThan(decimal.Zero) {
		return nil, apperr.New(apperr.CodeInvalidBudget, "estimated_budget must be greater than zero")
	}

	approverID, parseErr := uuid.Parse(req.ApproverID)
	if parseErr == nil && approverID == actor.ID {
		return nil, apperr.New(apperr.CodeCannotSelfApprove, "requester cannot be their own approver")
	}

	approver, err := s.findApprover(ctx, approverID, parseErr)
	if err != nil {
		return nil, err
	}

	status := model.StatusDraft
	var submittedAt *time.Time
	if req.Submit {
		status = model.StatusPending
		now := time.Now()
		submittedAt = &now
	}

	request := &model.TravelRequest{
		RequesterID:          actor.ID,
		ApproverID:           approver.ID,
		Destination:          req.Destination,
		DepartureDate:        departure,
		ReturnDate:           returnDate,
		Purpose:              req.Purpose,
		EstimatedBudget:      req.EstimatedBudget,
		TransportationMode:   req.TransportationMode,
		AccommodationDetails: req.AccommodationDetails,
		AdditionalNotes:      req.AdditionalNotes,
		Status:               status,
		SubmittedAt:          submittedAt,
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor.ID, model.ActionCreateRequest, request, map[string]interface{}{
		"status":      status,
		"destination": request.Destination,
	})

	if status == model.StatusPending {
		s.notifyParties(ctx, model.NotifySubmission, request, approver)
	}

	request.Approver = approver
	return mapRequestToResponse(request), nil
}

func (s *requestService) Get(ctx context.Context, actor policy.Actor, id string) (*RequestResponse, error) {
	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return nil, err
	}

	if !policy.CanViewRequest(actor, request) {
		return nil, apperr.New(apperr.CodeForbidden, "access denied")
	}

	return mapRequestToResponse(request), nil
}

func (s *requestService) List(ctx context.Context, actor policy.Actor, filter RequestListFilter) ([]RequestResponse, int64, error) {
	repoFilter := repository.RequestFilter{
		Status: filter.Status,
		Page:   filter.Page,
		Limit:  filter.Limit,
	}

	// Non-admins only see requests they are a party to.
	if !actor.IsAdmin() {
		id := actor.ID
		repoFilter.PartyID = &id
	}

	if filter.From != "" {
		from, err := time.Parse(dateLayout, filter.From)
		if err != nil {
			return nil, 0, apperr.New(apperr.CodeInvalidDateRange, "from must be formatted YYYY-MM-DD")
		}
		repoFilter.From = &from
	}
	if filter.To != "" {
		to, err := time.Parse(dateLayout, filter.To)
		if err != nil {
			return nil, 0, apperr.New(apperr.CodeInvalidDateRange, "to must be formatted YYYY-MM-DD")
		}
		repoFilter.To = &to
	}

	requests, total, err := s.requests.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		responses = append(responses, *mapRequestToResponse(&requests[i]))
	}

	return responses, total, nil
}

func (s *requestService) Update(ctx context.Context, actor policy.Actor, id string, req UpdateRequestDTO) (*RequestResponse, error) {
	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return nil, err
	}

	if !policy.CanMutateDraft(actor, request) {
		return nil, apperr.New(apperr.CodeForbidden, "only the requester may edit a request")
	}
	if request.Status != model.StatusDraft {
		return nil, apperr.New(apperr.CodeCannotUpdateSubmitted, "only drafts may be edited")
	}

	patch := map[string]interface{}{}

	if req.Destination != nil {
		if strings.TrimSpace(*req.Destination) == "" {
			return nil, apperr.New(apperr.CodeMissingField, "destination cannot be empty")
		}
		patch["destination"] = *req.Destination
	}
	if req.Purpose != nil {
		if strings.TrimSpace(*req.Purpose) == "" {
			return nil, apperr.New(apperr.CodeMissingField, "purpose cannot be empty")
		}
		patch["purpose"] = *req.Purpose
	}

	// If either date is touched, the merged range must still be valid.
	if req.DepartureDate != nil || req.ReturnDate != nil {
		departureStr := request.DepartureDate.Format(dateLayout)
		returnStr := request.ReturnDate.Format(dateLayout)
		if req.DepartureDate != nil {
			departureStr = *req.DepartureDate
		}
		if req.ReturnDate != nil {
			returnStr = *req.ReturnDate
		}
		departure, returnDate, err := parseDateRange(departureStr, returnStr)
		if err != nil {
			return nil, err
		}
		if req.DepartureDate != nil {
			patch["departure_date"] = departure
		}
		if req.ReturnDate != nil {
			patch["return_date"] = returnDate
		}
	}

	if req.EstimatedBudget != nil {
		if !req.EstimatedBudget.GreaterThan(decimal.Zero) {
			return nil, apperr.New(apperr.CodeInvalidBudget, "estimated_budget must be greater than zero")
		}
		patch["estimated_budget"] = *req.EstimatedBudget
	}

	if req.ApproverID != nil {
		approverID, parseErr := uuid.Parse(*req.ApproverID)
		if parseErr == nil && approverID == request.RequesterID {
			return nil, apperr.New(apperr.CodeCannotSelfApprove, "requester cannot be their own approver")
		}
		approver, err := s.findApprover(ctx, approverID, parseErr)
		if err != nil {
			return nil, err
		}
		patch["approver_id"] = approver.ID
	}

	if req.TransportationMode != nil {
		patch["transportation_mode"] = *req.TransportationMode
	}
	if req.AccommodationDetails != nil {
		patch["accommodation_details"] = *req.AccommodationDetails
	}
	if req.AdditionalNotes != nil {
		patch["additional_notes"] = *req.AdditionalNotes
	}

	if len(patch) > 0 {
		rows, err := s.requests.UpdateWhereStatus(ctx, request.ID, model.StatusDraft, patch)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			// The draft moved on between our read and the write.
			return nil, apperr.New(apperr.CodeCannotUpdateSubmitted, "only drafts may be edited")
		}

		s.recordAudit(ctx, actor.ID, model.ActionUpdateRequest, request, map[string]interface{}{
			"fields": patchKeys(patch),
		})
	}

	return s.reload(ctx, request.ID)
}

func (s *requestService) Submit(ctx context.Context, actor policy.Actor, id string) (*RequestResponse, error) {
	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return nil, err
	}

	if !policy.CanMutateDraft(actor, request) {
		return nil, apperr.New(apperr.CodeForbidden, "only the requester may submit a request")
	}
	if request.Status != model.StatusDraft {
		return nil, apperr.New(apperr.CodeCannotSubmit, "only drafts may be submitted")
	}

	now := time.Now()
	rows, err := s.requests.UpdateWhereStatus(ctx, request.ID, model.StatusDraft, map[string]interface{}{
		"status":       model.StatusPending,
		"submitted_at": now,
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, apperr.New(apperr.CodeCannotSubmit, "request is no longer a draft")
	}

	s.recordAudit(ctx, actor.ID, model.ActionSubmitRequest, request, nil)

	request.Status = model.StatusPending
	request.SubmittedAt = &now
	s.notifyParties(ctx, model.NotifySubmission, request, request.Approver)

	return s.reload(ctx, request.ID)
}

func (s *requestService) Approve(ctx context.Context, actor policy.Actor, id string, comments string) (*RequestResponse, error) {
	return s.decide(ctx, actor, id, comments, model.StatusApproved)
}

func (s *requestService) Reject(ctx context.Context, actor policy.Actor, id string, comments string) (*RequestResponse, error) {
	return s.decide(ctx, actor, id, comments, model.StatusRejected)
}

// decide applies approve/reject: both share the pending guard, the decision
// timestamp, and the conditional write; rejection additionally demands comments.
func (s *requestService) decide(ctx context.Context, actor policy.Actor, id string, comments string, target string) (*RequestResponse, error) {
	conflict := apperr.CodeCannotApprove
	action := model.ActionApproveRequest
	kind := model.NotifyApproval
	if target == model.StatusRejected {
		conflict = apperr.CodeCannotReject
		action = model.ActionRejectRequest
		kind = model.NotifyRejection
	}

	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return nil, err
	}

	if !policy.CanDecide(actor, request) {
		return nil, apperr.New(apperr.CodeForbidden, "only the assigned approver or an admin may decide")
	}

	if target == model.StatusRejected && strings.TrimSpace(comments) == "" {
		return nil, apperr.New(apperr.CodeCommentsRequired, "rejection requires comments")
	}

	if request.Status != model.StatusPending {
		return nil, apperr.Newf(conflict, "request is %s, not pending", request.Status)
	}

	now := time.Now()
	rows, err := s.requests.UpdateWhereStatus(ctx, request.ID, model.StatusPending, map[string]interface{}{
		"status":            target,
		"decided_at":        now,
		"approval_comments": comments,
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, apperr.New(conflict, "request is no longer pending")
	}

	s.recordAudit(ctx, actor.ID, action, request, map[string]interface{}{
		"comments": comments,
	})

	request.Status = target
	request.DecidedAt = &now
	request.ApprovalComments = comments
	s.notifyParties(ctx, kind, request, request.Approver)

	return s.reload(ctx, request.ID)
}

func (s *requestService) Cancel(ctx context.Context, actor policy.Actor, id string) (*RequestResponse, error) {
	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return nil, err
	}

	if !policy.CanCancel(actor, request) {
		return nil, apperr.New(apperr.CodeForbidden, "only the requester may cancel")
	}
	if request.Status != model.StatusPending {
		return nil, apperr.New(apperr.CodeCannotCancel, "only pending requests may be cancelled")
	}

	rows, err := s.requests.UpdateWhereStatus(ctx, request.ID, model.StatusPending, map[string]interface{}{
		"status": model.StatusCancelled,
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, apperr.New(apperr.CodeCannotCancel, "request is no longer pending")
	}

	s.recordAudit(ctx, actor.ID, model.ActionCancelRequest, request, nil)

	request.Status = model.StatusCancelled
	s.notifyParties(ctx, model.NotifyCancellation, request, request.Approver)

	return s.reload(ctx, request.ID)
}

func (s *requestService) Delete(ctx context.Context, actor policy.Actor, id string) error {
	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return err
	}

	if !policy.CanMutateDraft(actor, request) {
		return apperr.New(apperr.CodeForbidden, "only the requester may delete a request")
	}
	if request.Status != model.StatusDraft {
		return apperr.New(apperr.CodeCannotDelete, "only drafts may be deleted")
	}

	rows, err := s.requests.DeleteWhereStatus(ctx, request.ID, model.StatusDraft)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.New(apperr.CodeCannotDelete, "request is no longer a draft")
	}

	s.recordAudit(ctx, actor.ID, model.ActionDeleteRequest, request, nil)

	return nil
}

func (s *requestService) ListNotifications(ctx context.Context, actor policy.Actor, id string) ([]model.Notification, error) {
	request, err := s.loadWithParties(ctx, id)
	if err != nil {
		return nil, err
	}

	if !policy.CanViewRequest(actor, request) {
		return nil, apperr.New(apperr.CodeForbidden, "access denied")
	}

	return s.notifications.ListByRequest(ctx, request.ID)
}

// --- Helpers ---

func (s *requestService) loadWithParties(ctx context.Context, id string) (*model.TravelRequest, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.New(apperr.CodeRequestNotFound, "request not found")
	}

	request, err := s.requests.GetWithParties(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeRequestNotFound, "request not found")
		}
		return nil, err
	}
	return request, nil
}

// findApprover resolves and vets an assigned approver: they must exist, be
// active, and hold the approver or admin role.
func (s *requestService) findApprover(ctx context.Context, approverID uuid.UUID, parseErr error) (*model.User, error) {
	if parseErr != nil {
		return nil, apperr.New(apperr.CodeApproverNotFound, "approver not found")
	}

	approver, err := s.users.GetByID(ctx, approverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeApproverNotFound, "approver not found")
		}
		return nil, err
	}
	if !approver.IsActive {
		return nil, apperr.New(apperr.CodeApproverInactive, "approver account is deactivated")
	}
	if !approver.CanApprove() {
		return nil, apperr.New(apperr.CodeNotAnApprover, "assigned user cannot approve requests")
	}
	return approver, nil
}

// notifyParties resolves both user records and hands off to the dispatcher.
// Fire-and-forget: any failure here is logged, never returned.
func (s *requestService) notifyParties(ctx context.Context, kind string, request *model.TravelRequest, approver *model.User) {
	requester := request.Requester
	if requester == nil {
		loaded, err := s.users.GetByID(ctx, request.RequesterID)
		if err != nil {
			log.Printf("notify: requester %s not loadable: %v", request.RequesterID, err)
			return
		}
		requester = loaded
	}
	if approver == nil {
		loaded, err := s.users.GetByID(ctx, request.ApproverID)
		if err != nil {
			log.Printf("notify: approver %s not loadable: %v", request.ApproverID, err)
			return
		}
		approver = loaded
	}
	s.dispatcher.Dispatch(kind, request, requester, approver)
}

func (s *requestService) reload(ctx context.Context, id uuid.UUID) (*RequestResponse, error) {
	request, err := s.requests.GetWithParties(ctx, id)
	if err != nil {
		return nil, err
	}
	return mapRequestToResponse(request), nil
}

func (s *requestService) recordAudit(ctx context.Context, actorID uuid.UUID, action string, request *model.TravelRequest, details map[string]interface{}) {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		UserID:     &actorID,
		Action:     action,
		EntityID:   request.ID.String(),
		EntityName: request.Destination,
		Details:    string(payload),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to record %s for %s: %v", action, request.ID, err)
	}
}

func parseDateRange(departureStr, returnStr string) (time.Time, time.Time, error) {
	departure, err := time.Parse(dateLayout, departureStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.CodeInvalidDateRange, "departure_date must be formatted YYYY-MM-DD")
	}
	returnDate, err := time.Parse(dateLayout, returnStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.CodeInvalidDateRange, "return_date must be formatted YYYY-MM-DD")
	}
	if returnDate.Before(departure) {
		return time.Time{}, time.Time{}, apperr.New(apperr.CodeInvalidDateRange, "return_date must not be before departure_date")
	}
	return departure, returnDate, nil
}

func patchKeys(patch map[string]interface{}) []string {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	return keys
}

func mapRequestToResponse(r *model.TravelRequest) *RequestResponse {
	resp := &RequestResponse{
		ID:                   r.ID.String(),
		RequesterID:          r.RequesterID.String(),
		ApproverID:           r.ApproverID.String(),
		Destination:          r.Destination,
		DepartureDate:        r.DepartureDate.Format(dateLayout),
		ReturnDate:           r.ReturnDate.Format(dateLayout),
		Purpose:              r.Purpose,
		EstimatedBudget:      r.EstimatedBudget,
		TransportationMode:   r.TransportationMode,
		AccommodationDetails: r.AccommodationDetails,
		AdditionalNotes:      r.AdditionalNotes,
		Status:               r.Status,
		ApprovalComments:     r.ApprovalComments,
		CreatedAt:            r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            r.UpdatedAt.Format(time.RFC3339),
	}
	if r.Requester != nil {
		resp.RequesterName = r.Requester.FullName()
	}
	if r.Approver != nil {
		resp.ApproverName = r.Approver.FullName()
	}
	if r.SubmittedAt != nil {
		s := r.SubmittedAt.Format(time.RFC3339)
		resp.SubmittedAt = &s
	}
	if r.DecidedAt != nil {
		s := r.DecidedAt.Format(time.RFC3339)
		resp.DecidedAt = &s
	}
	return resp
}
