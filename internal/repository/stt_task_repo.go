package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sang-woon/ggc-subtitle/internal/models"
)

// sttTaskRepo implements SttTaskRepository using GORM.
type sttTaskRepo struct {
	db *gorm.DB
}

// NewSttTaskRepository creates a new SttTaskRepository.
func NewSttTaskRepository(db *gorm.DB) SttTaskRepository {
	return &sttTaskRepo{db: db}
}

// Upsert inserts or updates the task row keyed by task_id.
func (r *sttTaskRepo) Upsert(ctx context.Context, task *models.SttTask) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "progress", "message", "error", "updated_at"}),
		}).
		Create(task).Error; err != nil {
		return fmt.Errorf("upserting stt task: %w", err)
	}
	return nil
}

// GetByMeetingID retrieves the most recent task for a meeting.
// Returns (nil, nil) when not found.
func (r *sttTaskRepo) GetByMeetingID(ctx context.Context, meetingID models.ULID) (*models.SttTask, error) {
	var task models.SttTask
	if err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("created_at DESC").
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stt task by meeting: %w", err)
	}
	return &task, nil
}
