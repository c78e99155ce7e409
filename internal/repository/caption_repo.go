package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/sang-woon/ggc-subtitle/internal/models"
)

// captionRepo implements CaptionRepository using GORM.
type captionRepo struct {
	db *gorm.DB
}

// NewCaptionRepository creates a new CaptionRepository.
func NewCaptionRepository(db *gorm.DB) CaptionRepository {
	return &captionRepo{db: db}
}

// Create creates a single caption row.
func (r *captionRepo) Create(ctx context.Context, caption *models.Caption) error {
	if err := r.db.WithContext(ctx).Create(caption).Error; err != nil {
		return fmt.Errorf("creating caption: %w", err)
	}
	return nil
}

// CreateBatch inserts captions in a single batch.
func (r *captionRepo) CreateBatch(ctx context.Context, captions []*models.Caption) error {
	if len(captions) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(captions, 500).Error; err != nil {
		return fmt.Errorf("creating caption batch: %w", err)
	}
	return nil
}

// GetByRoomID retrieves captions for a room ordered by start time.
func (r *captionRepo) GetByRoomID(ctx context.Context, roomID string, offset, limit int) ([]*models.Caption, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Caption{}).
		Where("room_id = ?", roomID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting captions: %w", err)
	}

	var captions []*models.Caption
	q := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("start_time ASC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&captions).Error; err != nil {
		return nil, 0, fmt.Errorf("getting captions by room: %w", err)
	}
	return captions, total, nil
}

// UpdateText replaces the text of the caption with the given wire id.
func (r *captionRepo) UpdateText(ctx context.Context, captionID, text string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Caption{}).
		Where("caption_id = ?", captionID).
		Update("text", text)
	if res.Error != nil {
		return fmt.Errorf("updating caption text: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteByRoomID removes all captions for a room.
func (r *captionRepo) DeleteByRoomID(ctx context.Context, roomID string) error {
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&models.Caption{}).Error; err != nil {
		return fmt.Errorf("deleting captions by room: %w", err)
	}
	return nil
}
