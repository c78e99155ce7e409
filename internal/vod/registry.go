// Package vod runs the batch captioning pipeline for recorded
// meetings: download the MP4, hand it to the pre-recorded ASR
// endpoint, convert the reply into caption rows.
package vod

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sang-woon/ggc-subtitle/internal/models"
)

// Task is a point-in-time snapshot of one batch run. The in-memory
// registry is authoritative; rows mirrored to the store exist for
// inspection only.
type Task struct {
	TaskID    string               `json:"task_id"`
	MeetingID string               `json:"meeting_id"`
	Status    models.SttTaskStatus `json:"status"`
	Progress  float64              `json:"progress"`
	Message   string               `json:"message"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ErrAlreadyProcessing means a task is pending or running for the meeting.
var ErrAlreadyProcessing = fmt.Errorf("meeting already has an active captioning task")

// Registry tracks one task per meeting. A new run replaces a terminal
// task but conflicts with an active one.
type Registry struct {
	mu        sync.Mutex
	byMeeting map[string]*Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byMeeting: make(map[string]*Task)}
}

// Begin registers a pending task for the meeting; the pipeline flips
// it to running once it picks the task up. Returns ErrAlreadyProcessing
// when a non-terminal task exists.
func (r *Registry) Begin(meetingID string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byMeeting[meetingID]; ok && !existing.Status.IsTerminal() {
		return Task{}, ErrAlreadyProcessing
	}

	now := time.Now().UTC()
	task := &Task{
		TaskID:    uuid.NewString(),
		MeetingID: meetingID,
		Status:    models.SttTaskPending,
		Message:   "처리 대기 중",
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.byMeeting[meetingID] = task
	return *task, nil
}

// MarkRunning moves a pending task into the running state.
func (r *Registry) MarkRunning(meetingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.byMeeting[meetingID]; ok && task.Status == models.SttTaskPending {
		task.Status = models.SttTaskRunning
		task.Message = "처리 시작"
		task.UpdatedAt = time.Now().UTC()
	}
}

// SetProgress updates the task's progress and message.
func (r *Registry) SetProgress(meetingID string, progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.byMeeting[meetingID]; ok {
		task.Progress = progress
		task.Message = message
		task.UpdatedAt = time.Now().UTC()
	}
}

// Complete marks the task completed with a final message.
func (r *Registry) Complete(meetingID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.byMeeting[meetingID]; ok {
		task.Status = models.SttTaskCompleted
		task.Progress = 1.0
		task.Message = message
		task.UpdatedAt = time.Now().UTC()
	}
}

// Fail marks the task failed and records the error.
func (r *Registry) Fail(meetingID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.byMeeting[meetingID]; ok {
		task.Status = models.SttTaskFailed
		task.Message = "처리 실패"
		task.Error = err.Error()
		task.UpdatedAt = time.Now().UTC()
	}
}

// ByMeeting returns the task for a meeting, if any.
func (r *Registry) ByMeeting(meetingID string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.byMeeting[meetingID]; ok {
		return *task, true
	}
	return Task{}, false
}

// ByID returns the task with the given task id, if any.
func (r *Registry) ByID(taskID string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range r.byMeeting {
		if task.TaskID == taskID {
			return *task, true
		}
	}
	return Task{}, false
}

// IsProcessing reports whether the meeting has an active task.
func (r *Registry) IsProcessing(meetingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byMeeting[meetingID]
	return ok && !task.Status.IsTerminal()
}

// Prune drops terminal tasks last touched before the retention window.
// Returns how many were removed.
func (r *Registry) Prune(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for id, task := range r.byMeeting {
		if task.Status.IsTerminal() && task.UpdatedAt.Before(cutoff) {
			delete(r.byMeeting, id)
			removed++
		}
	}
	return removed
}
