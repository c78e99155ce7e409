package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sang-woon/ggc-subtitle/internal/models"
)

// meetingRepo implements MeetingRepository using GORM.
type meetingRepo struct {
	db *gorm.DB
}

// NewMeetingRepository creates a new MeetingRepository.
func NewMeetingRepository(db *gorm.DB) MeetingRepository {
	return &meetingRepo{db: db}
}

// Create creates a new meeting.
func (r *meetingRepo) Create(ctx context.Context, meeting *models.Meeting) error {
	if err := r.db.WithContext(ctx).Create(meeting).Error; err != nil {
		return fmt.Errorf("creating meeting: %w", err)
	}
	return nil
}

// GetByID retrieves a meeting by ID. Returns (nil, nil) when not found.
func (r *meetingRepo) GetByID(ctx context.Context, id models.ULID) (*models.Meeting, error) {
	var meeting models.Meeting
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&meeting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting meeting by ID: %w", err)
	}
	return &meeting, nil
}

// UpdateStatus sets the meeting status and optionally the duration.
func (r *meetingRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.MeetingStatus, durationSeconds *int) error {
	updates := map[string]any{"status": status}
	if durationSeconds != nil {
		updates["duration_seconds"] = *durationSeconds
	}
	res := r.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating meeting status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
