package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sang-woon/ggc-subtitle/internal/database"
	"github.com/sang-woon/ggc-subtitle/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestCaptionCreateAndGetByRoom(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaptionRepository(db.DB)
	ctx := context.Background()

	captions := []*models.Caption{
		{CaptionID: "c-2", RoomID: "ch14", Text: "두 번째", StartTime: 5.0, EndTime: 7.5, Confidence: 0.9},
		{CaptionID: "c-1", RoomID: "ch14", Text: "첫 번째", StartTime: 1.0, EndTime: 4.0, Confidence: 0.8, Speaker: strPtr("화자 1")},
		{CaptionID: "c-3", RoomID: "ch8", Text: "다른 방", StartTime: 0.5, EndTime: 2.0, Confidence: 0.7},
	}
	require.NoError(t, repo.CreateBatch(ctx, captions))

	got, total, err := repo.GetByRoomID(ctx, "ch14", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, got, 2)
	// Ordered by start time.
	assert.Equal(t, "c-1", got[0].CaptionID)
	assert.Equal(t, "c-2", got[1].CaptionID)
	require.NotNil(t, got[0].Speaker)
	assert.Equal(t, "화자 1", *got[0].Speaker)
}

func TestCaptionCreateBatchEmpty(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaptionRepository(db.DB)
	require.NoError(t, repo.CreateBatch(context.Background(), nil))
}

func TestCaptionUpdateText(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaptionRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Caption{
		CaptionID: "c-1", RoomID: "ch14", Text: "삼천억", StartTime: 1, EndTime: 2, Confidence: 0.9,
	}))

	require.NoError(t, repo.UpdateText(ctx, "c-1", "3,000억원"))

	got, _, err := repo.GetByRoomID(ctx, "ch14", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3,000억원", got[0].Text)

	err = repo.UpdateText(ctx, "missing", "x")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCaptionDeleteByRoom(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaptionRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.CreateBatch(ctx, []*models.Caption{
		{CaptionID: "a", RoomID: "ch14", Text: "x", StartTime: 0, EndTime: 1, Confidence: 1},
		{CaptionID: "b", RoomID: "ch8", Text: "y", StartTime: 0, EndTime: 1, Confidence: 1},
	}))

	require.NoError(t, repo.DeleteByRoomID(ctx, "ch14"))

	_, total, err := repo.GetByRoomID(ctx, "ch14", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, total, err = repo.GetByRoomID(ctx, "ch8", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMeetingLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewMeetingRepository(db.DB)
	ctx := context.Background()

	meeting := &models.Meeting{Title: "본회의 제1차", ChannelID: "ch14", Status: models.MeetingStatusScheduled}
	require.NoError(t, repo.Create(ctx, meeting))
	require.False(t, meeting.ID.IsZero())

	dur := 5400
	require.NoError(t, repo.UpdateStatus(ctx, meeting.ID, models.MeetingStatusEnded, &dur))

	got, err := repo.GetByID(ctx, meeting.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.MeetingStatusEnded, got.Status)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 5400, *got.DurationSeconds)
}

func TestMeetingGetMissing(t *testing.T) {
	db := newTestDB(t)
	repo := NewMeetingRepository(db.DB)

	got, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSttTaskUpsert(t *testing.T) {
	db := newTestDB(t)
	repo := NewSttTaskRepository(db.DB)
	ctx := context.Background()

	meetingID := models.NewULID()
	task := &models.SttTask{TaskID: "t-1", MeetingID: meetingID, Status: models.SttTaskRunning, Progress: 0.2}
	require.NoError(t, repo.Upsert(ctx, task))

	task.Status = models.SttTaskCompleted
	task.Progress = 1.0
	require.NoError(t, repo.Upsert(ctx, task))

	got, err := repo.GetByMeetingID(ctx, meetingID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SttTaskCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
}
