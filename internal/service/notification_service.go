package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"travelapi/internal/model"
	"travelapi/internal/notifier"
	"travelapi/internal/repository"
	"travelapi/internal/websocket"
)

// DefaultNotifyTimeout bounds the single delivery attempt per invocation.
const DefaultNotifyTimeout = 10 * time.Second

// notificationService is the fire-and-forget side of the lifecycle engine:
// one bounded delivery attempt per transition, outcome persisted and
// broadcast, failures logged and swallowed. It never reaches back into the
// request that triggered it.
type notificationService struct {
	repo     repository.NotificationRepository
	notifier notifier.Notifier
	hub      *websocket.Hub // optional live event feed
	timeout  time.Duration
}

// NewNotificationService returns a Dispatcher. hub may be nil.
func NewNotificationService(repo repository.NotificationRepository, n notifier.Notifier, hub *websocket.Hub) Dispatcher {
	return &notificationService{
		repo:     repo,
		notifier: n,
		hub:      hub,
		timeout:  DefaultNotifyTimeout,
	}
}

// Dispatch hands the transition to a background goroutine and returns
// immediately — the caller's response never waits on delivery.
func (s *notificationService) Dispatch(kind string, req *model.TravelRequest, requester, approver *model.User) {
	go s.deliver(kind, req, requester, approver)
}

func (s *notificationService) deliver(kind string, req *model.TravelRequest, requester, approver *model.User) {
	recipient, subject, body := composeMessage(kind, req, requester, approver)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	sendErr := s.notifier.Notify(ctx, recipient, subject, body)

	outcome := &model.Notification{
		RequestID: req.ID,
		Recipient: recipient,
		Kind:      kind,
		Delivered: sendErr == nil,
	}
	if sendErr != nil {
		outcome.Error = sendErr.Error()
		log.Printf("notification: %s for request %s to %s failed: %v", kind, req.ID, recipient, sendErr)
	}

	// Record against a fresh context — the send may have consumed the deadline.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recordCancel()
	if err := s.repo.Create(recordCtx, outcome); err != nil {
		log.Printf("notification: failed to record outcome for request %s: %v", req.ID, err)
	}

	if s.hub != nil {
		eventType := "notification.sent"
		if sendErr != nil {
			eventType = "notification.failed"
		}
		s.hub.BroadcastEvent(websocket.Event{
			Type:      eventType,
			RequestID: req.ID.String(),
			Status:    req.Status,
			Message:   subject,
		})
	}
}

// composeMessage picks the recipient and renders subject/body per kind.
// Decisions go to the requester; submissions and cancellations go to the
// approver.
func composeMessage(kind string, req *model.TravelRequest, requester, approver *model.User) (recipient, subject, body string) {
	trip := fmt.Sprintf("%s (%s to %s)",
		req.Destination,
		req.DepartureDate.Format("2006-01-02"),
		req.ReturnDate.Format("2006-01-02"))

	switch kind {
	case model.NotifyApproval:
		recipient = requester.Email
		subject = "Travel request approved: " + req.Destination
		body = fmt.Sprintf("Hi %s,\n\nYour travel request to %s was approved by %s.", requester.FullName(), trip, approver.FullName())
		if req.ApprovalComments != "" {
			body += "\n\nComments: " + req.ApprovalComments
		}
	case model.NotifyRejection:
		recipient = requester.Email
		subject = "Travel request rejected: " + req.Destination
		body = fmt.Sprintf("Hi %s,\n\nYour travel request to %s was rejected by %s.\n\nComments: %s",
			requester.FullName(), trip, approver.FullName(), req.ApprovalComments)
	case model.NotifyCancellation:
		recipient = approver.Email
		subject = "Travel request cancelled: " + req.Destination
		body = fmt.Sprintf("Hi %s,\n\n%s cancelled their travel request to %s.", approver.FullName(), requester.FullName(), trip)
	default: // submission
		recipient = approver.Email
		subject = "Travel request awaiting your approval: " + req.Destination
		body = fmt.Sprintf("Hi %s,\n\n%s submitted a travel request to %s (budget %s) for your approval.",
			approver.FullName(), requester.FullName(), trip, req.EstimatedBudget.StringFixed(2))
	}
	return recipient, subject, body
}
