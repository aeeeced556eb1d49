package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"travelapi/internal/model"
)

// NotificationRepository persists delivery outcomes for the dispatcher.
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Notification, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository returns a new instance of NotificationRepository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Notification, error) {
	var notifications []model.Notification
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		Find(&notifications).Error
	return notifications, err
}
