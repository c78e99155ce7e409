package models

// SttTaskStatus represents the state of a VOD caption generation task.
type SttTaskStatus string

const (
	// SttTaskPending indicates the task is queued but not yet started.
	SttTaskPending SttTaskStatus = "pending"
	// SttTaskRunning indicates the task is executing.
	SttTaskRunning SttTaskStatus = "running"
	// SttTaskCompleted indicates the task finished successfully.
	SttTaskCompleted SttTaskStatus = "completed"
	// SttTaskFailed indicates the task failed.
	SttTaskFailed SttTaskStatus = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s SttTaskStatus) IsTerminal() bool {
	return s == SttTaskCompleted || s == SttTaskFailed
}

// SttTask records a VOD caption generation run. The authoritative copy lives
// in process memory; rows exist so long-running tasks survive inspection
// across restarts.
type SttTask struct {
	BaseModel

	TaskID string `gorm:"not null;size:36;uniqueIndex" json:"task_id"`

	MeetingID ULID `gorm:"not null;type:varchar(26);index" json:"meeting_id"`

	Status SttTaskStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Progress is in [0,1].
	Progress float64 `gorm:"not null;default:0" json:"progress"`

	Message string `gorm:"size:255" json:"message"`

	Error string `gorm:"size:1024" json:"error,omitempty"`
}

// TableName overrides the table name.
func (SttTask) TableName() string { return "stt_tasks" }
