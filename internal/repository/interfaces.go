// Package repository provides data access layers over GORM for ggcsub models.
package repository

import (
	"context"

	"github.com/sang-woon/ggc-subtitle/internal/models"
)

// CaptionRepository manages persisted captions.
type CaptionRepository interface {
	Create(ctx context.Context, caption *models.Caption) error
	CreateBatch(ctx context.Context, captions []*models.Caption) error
	GetByRoomID(ctx context.Context, roomID string, offset, limit int) ([]*models.Caption, int64, error)
	UpdateText(ctx context.Context, captionID, text string) error
	DeleteByRoomID(ctx context.Context, roomID string) error
}

// MeetingRepository manages meeting records.
type MeetingRepository interface {
	Create(ctx context.Context, meeting *models.Meeting) error
	GetByID(ctx context.Context, id models.ULID) (*models.Meeting, error)
	UpdateStatus(ctx context.Context, id models.ULID, status models.MeetingStatus, durationSeconds *int) error
}

// SttTaskRepository records VOD caption generation runs.
type SttTaskRepository interface {
	Upsert(ctx context.Context, task *models.SttTask) error
	GetByMeetingID(ctx context.Context, meetingID models.ULID) (*models.SttTask, error)
}
