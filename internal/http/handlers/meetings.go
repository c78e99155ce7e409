package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sang-woon/ggc-subtitle/internal/models"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
	"github.com/sang-woon/ggc-subtitle/internal/vod"
)

// VODProcessor is the slice of the batch pipeline the API drives.
type VODProcessor interface {
	Start(ctx context.Context, meetingID string) (vod.Task, error)
	TaskByMeeting(meetingID string) (vod.Task, bool)
	TaskByID(taskID string) (vod.Task, bool)
}

// MeetingsHandler serves meeting records, their captions and the VOD
// captioning pipeline.
type MeetingsHandler struct {
	meetings  repository.MeetingRepository
	captions  repository.CaptionRepository
	processor VODProcessor
	logger    *slog.Logger
}

// NewMeetingsHandler creates a meetings handler.
func NewMeetingsHandler(
	meetings repository.MeetingRepository,
	captions repository.CaptionRepository,
	processor VODProcessor,
	log *slog.Logger,
) *MeetingsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MeetingsHandler{
		meetings:  meetings,
		captions:  captions,
		processor: processor,
		logger:    log,
	}
}

type createMeetingInput struct {
	Body struct {
		Title     string `json:"title" minLength:"1" maxLength:"255" doc:"Meeting title"`
		ChannelID string `json:"channel_id,omitempty" doc:"Catalog channel id for live meetings"`
		VODURL    string `json:"vod_url,omitempty" doc:"Origin MP4 location for batch captioning"`
	}
}

type meetingOutput struct {
	Body models.Meeting
}

type createMeetingOutput struct {
	Body models.Meeting
}

type getMeetingInput struct {
	MeetingID string `path:"meetingID"`
}

type listCaptionsInput struct {
	MeetingID string `path:"meetingID"`
	Offset    int    `query:"offset" minimum:"0" default:"0"`
	Limit     int    `query:"limit" minimum:"1" maximum:"500" default:"100"`
}

type listCaptionsOutput struct {
	Body struct {
		Subtitles []*models.Caption `json:"subtitles"`
		Total     int64             `json:"total"`
	}
}

type taskOutput struct {
	Body vod.Task
}

type getTaskInput struct {
	TaskID string `path:"taskID"`
}

// Register registers the meeting routes with the API.
func (h *MeetingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createMeeting",
		Method:        "POST",
		Path:          "/api/meetings",
		Summary:       "Create a meeting record",
		DefaultStatus: 201,
		Tags:          []string{"Meetings"},
	}, h.CreateMeeting)

	huma.Register(api, huma.Operation{
		OperationID: "getMeeting",
		Method:      "GET",
		Path:        "/api/meetings/{meetingID}",
		Summary:     "Get one meeting by id",
		Tags:        []string{"Meetings"},
	}, h.GetMeeting)

	huma.Register(api, huma.Operation{
		OperationID: "listMeetingSubtitles",
		Method:      "GET",
		Path:        "/api/meetings/{meetingID}/subtitles",
		Summary:     "List stored captions of a meeting",
		Tags:        []string{"Subtitles"},
	}, h.ListCaptions)

	huma.Register(api, huma.Operation{
		OperationID:   "startMeetingStt",
		Method:        "POST",
		Path:          "/api/meetings/{meetingID}/stt/start",
		Summary:       "Start VOD captioning for a meeting",
		Description:   "Downloads the meeting's VOD and generates captions in the background. At most one run per meeting at a time.",
		DefaultStatus: 202,
		Tags:          []string{"STT"},
	}, h.StartVodStt)

	huma.Register(api, huma.Operation{
		OperationID: "getMeetingSttStatus",
		Method:      "GET",
		Path:        "/api/meetings/{meetingID}/stt/status",
		Summary:     "Get the VOD captioning task of a meeting",
		Tags:        []string{"STT"},
	}, h.GetSttTask)

	huma.Register(api, huma.Operation{
		OperationID: "getSttTask",
		Method:      "GET",
		Path:        "/api/stt/tasks/{taskID}",
		Summary:     "Get a VOD captioning task by task id",
		Tags:        []string{"STT"},
	}, h.GetTaskByID)
}

// CreateMeeting stores a new meeting record.
func (h *MeetingsHandler) CreateMeeting(ctx context.Context, input *createMeetingInput) (*createMeetingOutput, error) {
	meeting := &models.Meeting{
		Title:     input.Body.Title,
		ChannelID: input.Body.ChannelID,
		VODURL:    input.Body.VODURL,
		Status:    models.MeetingStatusScheduled,
	}
	if err := h.meetings.Create(ctx, meeting); err != nil {
		return nil, huma.Error500InternalServerError("creating meeting: " + err.Error())
	}
	return &createMeetingOutput{Body: *meeting}, nil
}

// GetMeeting returns one meeting.
func (h *MeetingsHandler) GetMeeting(ctx context.Context, input *getMeetingInput) (*meetingOutput, error) {
	meeting, err := h.loadMeeting(ctx, input.MeetingID)
	if err != nil {
		return nil, err
	}
	return &meetingOutput{Body: *meeting}, nil
}

// ListCaptions returns a page of the meeting's stored captions ordered
// by start time.
func (h *MeetingsHandler) ListCaptions(ctx context.Context, input *listCaptionsInput) (*listCaptionsOutput, error) {
	if _, err := h.loadMeeting(ctx, input.MeetingID); err != nil {
		return nil, err
	}

	rows, total, err := h.captions.GetByRoomID(ctx, input.MeetingID, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing captions: " + err.Error())
	}

	out := &listCaptionsOutput{}
	out.Body.Subtitles = rows
	out.Body.Total = total
	return out, nil
}

// StartVodStt launches the batch pipeline for the meeting.
func (h *MeetingsHandler) StartVodStt(ctx context.Context, input *getMeetingInput) (*taskOutput, error) {
	task, err := h.processor.Start(ctx, input.MeetingID)
	switch {
	case errors.Is(err, vod.ErrMeetingNotFound):
		return nil, huma.Error404NotFound("meeting " + input.MeetingID + " not found")
	case errors.Is(err, vod.ErrNoVODURL):
		return nil, huma.Error422UnprocessableEntity("meeting has no VOD URL")
	case errors.Is(err, vod.ErrAlreadyProcessing):
		return nil, huma.Error409Conflict("meeting already has an active captioning task")
	case err != nil:
		return nil, huma.Error500InternalServerError("starting captioning: " + err.Error())
	}
	return &taskOutput{Body: task}, nil
}

// GetSttTask returns the meeting's current or last captioning task.
func (h *MeetingsHandler) GetSttTask(ctx context.Context, input *getMeetingInput) (*taskOutput, error) {
	task, ok := h.processor.TaskByMeeting(input.MeetingID)
	if !ok {
		return nil, huma.Error404NotFound("no captioning task for meeting " + input.MeetingID)
	}
	return &taskOutput{Body: task}, nil
}

// GetTaskByID returns a captioning task by its task id.
func (h *MeetingsHandler) GetTaskByID(ctx context.Context, input *getTaskInput) (*taskOutput, error) {
	task, ok := h.processor.TaskByID(input.TaskID)
	if !ok {
		return nil, huma.Error404NotFound("task " + input.TaskID + " not found")
	}
	return &taskOutput{Body: task}, nil
}

func (h *MeetingsHandler) loadMeeting(ctx context.Context, rawID string) (*models.Meeting, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error404NotFound("meeting " + rawID + " not found")
	}
	meeting, err := h.meetings.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading meeting: " + err.Error())
	}
	if meeting == nil {
		return nil, huma.Error404NotFound("meeting " + rawID + " not found")
	}
	return meeting, nil
}
