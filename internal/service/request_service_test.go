package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelapi/internal/apperr"
	"travelapi/internal/model"
	"travelapi/internal/policy"
	"travelapi/internal/repository"
)

type testEnv struct {
	svc           RequestService
	users         *fakeUserRepo
	requests      *fakeRequestRepo
	notifications *fakeNotificationRepo
	audit         *fakeAuditRepo
	dispatcher    *fakeDispatcher

	requester        *model.User
	approver         *model.User
	admin            *model.User
	other            *model.User
	inactiveApprover *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserRepo()
	requests := newFakeRequestRepo(users)
	notifications := newFakeNotificationRepo()
	audit := newFakeAuditRepo()
	dispatcher := newFakeDispatcher()

	env := &testEnv{
		svc:           NewRequestService(requests, users, notifications, audit, dispatcher),
		users:         users,
		requests:      requests,
		notifications: notifications,
		audit:         audit,
		dispatcher:    dispatcher,
	}

	env.requester = env.seedUser(t, "alice@example.com", model.RoleUser, true)
	env.approver = env.seedUser(t, "bob@example.com", model.RoleApprover, true)
	env.admin = env.seedUser(t, "carol@example.com", model.RoleAdmin, true)
	env.other = env.seedUser(t, "dave@example.com", model.RoleUser, true)
	env.inactiveApprover = env.seedUser(t, "eve@example.com", model.RoleApprover, false)

	return env
}

func (e *testEnv) seedUser(t *testing.T, email, role string, active bool) *model.User {
	t.Helper()
	user := &model.User{
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		Password:  "hashed",
		Role:      role,
		IsActive:  active,
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func actorFor(u *model.User) policy.Actor {
	return policy.Actor{ID: u.ID, Role: u.Role}
}

func (e *testEnv) validCreate(submit bool) CreateRequestDTO {
	return CreateRequestDTO{
		ApproverID:      e.approver.ID.String(),
		Destination:     "Berlin",
		DepartureDate:   "2025-02-15",
		ReturnDate:      "2025-02-20",
		Purpose:         "Customer onsite workshop",
		EstimatedBudget: decimal.NewFromInt(2500),
		Submit:          submit,
	}
}

func codeOf(t *testing.T, err error) apperr.Code {
	t.Helper()
	require.Error(t, err)
	return apperr.CodeOf(err)
}

func TestCreateRequest_ValidationOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	actor := actorFor(env.requester)

	tests := []struct {
		name   string
		mutate func(*CreateRequestDTO)
		want   apperr.Code
	}{
		{"missing destination", func(r *CreateRequestDTO) { r.Destination = "  " }, apperr.CodeMissingField},
		{"missing purpose", func(r *CreateRequestDTO) { r.Purpose = "" }, apperr.CodeMissingField},
		{"missing dates", func(r *CreateRequestDTO) { r.DepartureDate = "" }, apperr.CodeMissingField},
		{"missing approver", func(r *CreateRequestDTO) { r.ApproverID = "" }, apperr.CodeMissingField},
		{"malformed date", func(r *CreateRequestDTO) { r.DepartureDate = "15/02/2025" }, apperr.CodeInvalidDateRange},
		{"return before departure", func(r *CreateRequestDTO) { r.ReturnDate = "2025-02-10" }, apperr.CodeInvalidDateRange},
		{"zero budget", func(r *CreateRequestDTO) { r.EstimatedBudget = decimal.Zero }, apperr.CodeInvalidBudget},
		{"negative budget", func(r *CreateRequestDTO) { r.EstimatedBudget = decimal.NewFromInt(-10) }, apperr.CodeInvalidBudget},
		{"self approval", func(r *CreateRequestDTO) { r.ApproverID = env.requester.ID.String() }, apperr.CodeCannotSelfApprove},
		{"approver unknown", func(r *CreateRequestDTO) { r.ApproverID = uuid.NewString() }, apperr.CodeApproverNotFound},
		{"approver unparseable", func(r *CreateRequestDTO) { r.ApproverID = "not-a-uuid" }, apperr.CodeApproverNotFound},
		{"approver inactive", func(r *CreateRequestDTO) { r.ApproverID = env.inactiveApprover.ID.String() }, apperr.CodeApproverInactive},
		{"approver lacks role", func(r *CreateRequestDTO) { r.ApproverID = env.other.ID.String() }, apperr.CodeNotAnApprover},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.validCreate(false)
			tt.mutate(&req)
			_, err := env.svc.Create(ctx, actor, req)
			assert.Equal(t, tt.want, codeOf(t, err))
		})
	}

	// No record was persisted by any failed creation.
	all, total, err := env.requests.List(ctx, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, all)
}

func TestCreateRequest_DraftThenPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	actor := actorFor(env.requester)

	draft, err := env.svc.Create(ctx, actor, env.validCreate(false))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, draft.Status)
	assert.Nil(t, draft.SubmittedAt)
	assert.Empty(t, env.dispatcher.dispatched(), "drafts must not notify")

	pending, err := env.svc.Create(ctx, actor, env.validCreate(true))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, pending.Status)
	require.NotNil(t, pending.SubmittedAt, "created-as-pending sets submitted_at at creation time")

	calls := env.dispatcher.dispatched()
	require.Len(t, calls, 1)
	assert.Equal(t, model.NotifySubmission, calls[0].Kind)
	assert.Equal(t, env.approver.Email, calls[0].ApproverEmail)
}

// Scenario: draft → submit → approve("ok").
func TestLifecycle_SubmitAndApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)
	approver := actorFor(env.approver)

	created, err := env.svc.Create(ctx, requester, env.validCreate(false))
	require.NoError(t, err)

	submitted, err := env.svc.Submit(ctx, requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	approved, err := env.svc.Approve(ctx, approver, created.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.Equal(t, "ok", approved.ApprovalComments)
	require.NotNil(t, approved.DecidedAt)

	kinds := []string{}
	for _, call := range env.dispatcher.dispatched() {
		kinds = append(kinds, call.Kind)
	}
	assert.Equal(t, []string{model.NotifySubmission, model.NotifyApproval}, kinds)
	assert.Equal(t, env.requester.Email, env.dispatcher.dispatched()[1].RequesterEmail)

	assert.Contains(t, env.audit.actions(), model.ActionSubmitRequest)
	assert.Contains(t, env.audit.actions(), model.ActionApproveRequest)
}

func TestSubmit_SecondAttemptConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(false))
	require.NoError(t, err)

	first, err := env.svc.Submit(ctx, requester, created.ID)
	require.NoError(t, err)

	_, err = env.svc.Submit(ctx, requester, created.ID)
	assert.Equal(t, apperr.CodeCannotSubmit, codeOf(t, err))

	// Still pending, submitted_at not overwritten.
	current, err := env.svc.Get(ctx, requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, current.Status)
	assert.Equal(t, *first.SubmittedAt, *current.SubmittedAt)
}

func TestReject_RequiresComments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)

	for _, deciding := range []policy.Actor{actorFor(env.approver), actorFor(env.admin)} {
		for _, comments := range []string{"", "   ", "\t\n"} {
			_, err := env.svc.Reject(ctx, deciding, created.ID, comments)
			assert.Equal(t, apperr.CodeCommentsRequired, codeOf(t, err))
		}
	}

	current, err := env.svc.Get(ctx, requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, current.Status)
}

func TestReject_WithComments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)

	rejected, err := env.svc.Reject(ctx, actorFor(env.approver), created.ID, "budget exceeds quarterly cap")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.Equal(t, "budget exceeds quarterly cap", rejected.ApprovalComments)
	require.NotNil(t, rejected.DecidedAt)

	calls := env.dispatcher.dispatched()
	last := calls[len(calls)-1]
	assert.Equal(t, model.NotifyRejection, last.Kind)
	assert.Equal(t, env.requester.Email, last.RequesterEmail)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)

	// Only the requester may cancel — not even the admin.
	_, err = env.svc.Cancel(ctx, actorFor(env.admin), created.ID)
	assert.Equal(t, apperr.CodeForbidden, codeOf(t, err))
	_, err = env.svc.Cancel(ctx, actorFor(env.approver), created.ID)
	assert.Equal(t, apperr.CodeForbidden, codeOf(t, err))

	cancelled, err := env.svc.Cancel(ctx, requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.DecidedAt, "cancellation is not a decision")

	calls := env.dispatcher.dispatched()
	last := calls[len(calls)-1]
	assert.Equal(t, model.NotifyCancellation, last.Kind)

	// Drafts cannot be cancelled.
	draft, err := env.svc.Create(ctx, requester, env.validCreate(false))
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, requester, draft.ID)
	assert.Equal(t, apperr.CodeCannotCancel, codeOf(t, err))
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)
	approver := actorFor(env.approver)

	reach := map[string]func(id string){
		model.StatusApproved: func(id string) {
			_, err := env.svc.Approve(ctx, approver, id, "fine")
			require.NoError(t, err)
		},
		model.StatusRejected: func(id string) {
			_, err := env.svc.Reject(ctx, approver, id, "no")
			require.NoError(t, err)
		},
		model.StatusCancelled: func(id string) {
			_, err := env.svc.Cancel(ctx, requester, id)
			require.NoError(t, err)
		},
	}

	for terminal, drive := range reach {
		t.Run(terminal, func(t *testing.T) {
			created, err := env.svc.Create(ctx, requester, env.validCreate(true))
			require.NoError(t, err)
			drive(created.ID)

			before, err := env.svc.Get(ctx, requester, created.ID)
			require.NoError(t, err)

			_, err = env.svc.Submit(ctx, requester, created.ID)
			assert.Equal(t, apperr.CodeCannotSubmit, codeOf(t, err))
			_, err = env.svc.Approve(ctx, approver, created.ID, "x")
			assert.Equal(t, apperr.CodeCannotApprove, codeOf(t, err))
			_, err = env.svc.Reject(ctx, approver, created.ID, "x")
			assert.Equal(t, apperr.CodeCannotReject, codeOf(t, err))
			_, err = env.svc.Cancel(ctx, requester, created.ID)
			assert.Equal(t, apperr.CodeCannotCancel, codeOf(t, err))
			dest := "Elsewhere"
			_, err = env.svc.Update(ctx, requester, created.ID, UpdateRequestDTO{Destination: &dest})
			assert.Equal(t, apperr.CodeCannotUpdateSubmitted, codeOf(t, err))
			err = env.svc.Delete(ctx, requester, created.ID)
			assert.Equal(t, apperr.CodeCannotDelete, codeOf(t, err))

			after, err := env.svc.Get(ctx, requester, created.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after, "terminal record must be unchanged")
		})
	}
}

func TestUpdateDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(false))
	require.NoError(t, err)

	t.Run("edits fields", func(t *testing.T) {
		dest := "Munich"
		budget := decimal.NewFromInt(3100)
		updated, err := env.svc.Update(ctx, requester, created.ID, UpdateRequestDTO{
			Destination:     &dest,
			EstimatedBudget: &budget,
		})
		require.NoError(t, err)
		assert.Equal(t, "Munich", updated.Destination)
		assert.True(t, budget.Equal(updated.EstimatedBudget))
		assert.Equal(t, model.StatusDraft, updated.Status)
	})

	t.Run("invalid merged date range leaves dates unchanged", func(t *testing.T) {
		early := "2025-02-10" // before the stored departure
		_, err := env.svc.Update(ctx, requester, created.ID, UpdateRequestDTO{ReturnDate: &early})
		assert.Equal(t, apperr.CodeInvalidDateRange, codeOf(t, err))

		current, err := env.svc.Get(ctx, requester, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "2025-02-15", current.DepartureDate)
		assert.Equal(t, "2025-02-20", current.ReturnDate)
	})

	t.Run("non-positive budget rejected", func(t *testing.T) {
		zero := decimal.Zero
		_, err := env.svc.Update(ctx, requester, created.ID, UpdateRequestDTO{EstimatedBudget: &zero})
		assert.Equal(t, apperr.CodeInvalidBudget, codeOf(t, err))
	})

	t.Run("approver change vetted", func(t *testing.T) {
		self := env.requester.ID.String()
		_, err := env.svc.Update(ctx, requester, created.ID, UpdateRequestDTO{ApproverID: &self})
		assert.Equal(t, apperr.CodeCannotSelfApprove, codeOf(t, err))

		plain := env.other.ID.String()
		_, err = env.svc.Update(ctx, requester, created.ID, UpdateRequestDTO{ApproverID: &plain})
		assert.Equal(t, apperr.CodeNotAnApprover, codeOf(t, err))
	})

	t.Run("only the requester, regardless of role", func(t *testing.T) {
		dest := "Paris"
		_, err := env.svc.Update(ctx, actorFor(env.admin), created.ID, UpdateRequestDTO{Destination: &dest})
		assert.Equal(t, apperr.CodeForbidden, codeOf(t, err))
	})

	t.Run("pending is immutable", func(t *testing.T) {
		pending, err := env.svc.Create(ctx, requester, env.validCreate(true))
		require.NoError(t, err)
		dest := "Paris"
		_, err = env.svc.Update(ctx, requester, pending.ID, UpdateRequestDTO{Destination: &dest})
		assert.Equal(t, apperr.CodeCannotUpdateSubmitted, codeOf(t, err))
	})
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	draft, err := env.svc.Create(ctx, requester, env.validCreate(false))
	require.NoError(t, err)
	require.NoError(t, env.svc.Delete(ctx, requester, draft.ID))

	_, err = env.svc.Get(ctx, requester, draft.ID)
	assert.Equal(t, apperr.CodeRequestNotFound, codeOf(t, err))

	pending, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)
	err = env.svc.Delete(ctx, requester, pending.ID)
	assert.Equal(t, apperr.CodeCannotDelete, codeOf(t, err))

	still, err := env.svc.Get(ctx, requester, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, still.Status)
}

func TestGet_Visibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)

	for _, allowed := range []policy.Actor{requester, actorFor(env.approver), actorFor(env.admin)} {
		_, err := env.svc.Get(ctx, allowed, created.ID)
		assert.NoError(t, err)
	}

	_, err = env.svc.Get(ctx, actorFor(env.other), created.ID)
	assert.Equal(t, apperr.CodeForbidden, codeOf(t, err))

	_, err = env.svc.Get(ctx, requester, uuid.NewString())
	assert.Equal(t, apperr.CodeRequestNotFound, codeOf(t, err))
}

func TestList_Scoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, actorFor(env.requester), env.validCreate(true))
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, actorFor(env.other), env.validCreate(false))
	require.NoError(t, err)

	adminList, total, err := env.svc.List(ctx, actorFor(env.admin), RequestListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, adminList, 2)

	mine, total, err := env.svc.List(ctx, actorFor(env.requester), RequestListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, env.requester.ID.String(), mine[0].RequesterID)

	assigned, total, err := env.svc.List(ctx, actorFor(env.approver), RequestListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total, "approver is a party to both")
	assert.Len(t, assigned, 2)

	pendingOnly, total, err := env.svc.List(ctx, actorFor(env.admin), RequestListFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, model.StatusPending, pendingOnly[0].Status)
}

// Two concurrent approvals: exactly one wins, the loser sees a state
// conflict, and the stored record is approved exactly once.
func TestConcurrentApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)

	actors := []policy.Actor{actorFor(env.approver), actorFor(env.admin)}
	errs := make([]error, len(actors))

	var wg sync.WaitGroup
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor policy.Actor) {
			defer wg.Done()
			_, errs[i] = env.svc.Approve(ctx, actor, created.ID, "race")
		}(i, actor)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		if err == nil {
			successes++
		} else if apperr.CodeOf(err) == apperr.CodeCannotApprove {
			conflicts++
		} else {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	final, err := env.svc.Get(ctx, requester, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, final.Status)
}

func TestListNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	requester := actorFor(env.requester)

	created, err := env.svc.Create(ctx, requester, env.validCreate(true))
	require.NoError(t, err)

	requestID, err := uuid.Parse(created.ID)
	require.NoError(t, err)
	require.NoError(t, env.notifications.Create(ctx, &model.Notification{
		RequestID: requestID,
		Recipient: env.approver.Email,
		Kind:      model.NotifySubmission,
		Delivered: true,
	}))

	records, err := env.svc.ListNotifications(ctx, requester, created.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Delivered)

	_, err = env.svc.ListNotifications(ctx, actorFor(env.other), created.ID)
	assert.Equal(t, apperr.CodeForbidden, codeOf(t, err))
}
