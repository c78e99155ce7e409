package models

// Caption is a persisted caption row. RoomID is a channel id for live
// captions and a meeting id for VOD captions. CaptionID is the wire id
// minted at emission time; it is the correlation key the refiner uses for
// corrections.
type Caption struct {
	BaseModel

	CaptionID string `gorm:"not null;size:36;uniqueIndex" json:"caption_id"`

	RoomID string `gorm:"not null;size:64;index:idx_captions_room_start,priority:1" json:"room_id"`

	Text string `gorm:"not null;type:text" json:"text"`

	// StartTime and EndTime are offsets in seconds from session start.
	StartTime float64 `gorm:"not null;index:idx_captions_room_start,priority:2" json:"start_time"`
	EndTime   float64 `gorm:"not null" json:"end_time"`

	Confidence float64 `gorm:"not null" json:"confidence"`

	// Speaker is the rendered diarization label ("화자 N"), nil when the
	// provider reported no speaker index.
	Speaker *string `gorm:"size:64" json:"speaker,omitempty"`
}

// TableName overrides the table name.
func (Caption) TableName() string { return "captions" }
