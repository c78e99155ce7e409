package models

// MeetingStatus represents the lifecycle state of a meeting record.
type MeetingStatus string

const (
	// MeetingStatusScheduled indicates the meeting has not started.
	MeetingStatusScheduled MeetingStatus = "scheduled"
	// MeetingStatusLive indicates the meeting is broadcasting.
	MeetingStatusLive MeetingStatus = "live"
	// MeetingStatusProcessing indicates VOD caption generation is underway.
	MeetingStatusProcessing MeetingStatus = "processing"
	// MeetingStatusEnded indicates the meeting is over.
	MeetingStatusEnded MeetingStatus = "ended"
)

// Meeting is a persisted meeting (one VOD asset or one live session).
type Meeting struct {
	BaseModel

	Title string `gorm:"not null;size:255" json:"title"`

	// ChannelID links a live meeting to its catalog channel, empty for
	// VOD-only rows.
	ChannelID string `gorm:"size:32;index" json:"channel_id,omitempty"`

	Status MeetingStatus `gorm:"not null;default:'scheduled';size:20;index" json:"status"`

	// VODURL is the origin MP4 location used by the batch pipeline.
	VODURL string `gorm:"size:1024" json:"vod_url,omitempty"`

	// DurationSeconds is filled from provider metadata after VOD processing.
	DurationSeconds *int `json:"duration_seconds,omitempty"`
}

// TableName overrides the table name.
func (Meeting) TableName() string { return "meetings" }
