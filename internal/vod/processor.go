package vod

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/sang-woon/ggc-subtitle/internal/asr"
	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/httpclient"
	"github.com/sang-woon/ggc-subtitle/internal/models"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
	"github.com/sang-woon/ggc-subtitle/internal/terminology"
)

const (
	downloadChunkSize = 512 * 1024

	// maxSegmentSeconds caps caption length when grouping raw words.
	maxSegmentSeconds = 10.0
)

// Errors surfaced to the API layer.
var (
	ErrMeetingNotFound = fmt.Errorf("meeting not found")
	ErrNoVODURL        = fmt.Errorf("meeting has no VOD URL")
)

// Transcriber is the slice of the batch ASR client the processor needs.
type Transcriber interface {
	Transcribe(ctx context.Context, body io.Reader, size int64, progress func(uploaded, total int64)) (*asr.BatchResponse, error)
}

// Processor runs the VOD captioning pipeline. One pipeline may run per
// meeting at a time; progress is tracked in the registry and mirrored
// to the durable store.
type Processor struct {
	cfg      config.VODConfig
	registry *Registry
	asr      Transcriber
	dict     *terminology.Dictionary
	captions repository.CaptionRepository
	meetings repository.MeetingRepository
	tasks    repository.SttTaskRepository
	download *httpclient.Client
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewProcessor wires the pipeline. tasks may be nil to skip mirroring.
func NewProcessor(
	cfg config.VODConfig,
	transcriber Transcriber,
	dict *terminology.Dictionary,
	captions repository.CaptionRepository,
	meetings repository.MeetingRepository,
	tasks repository.SttTaskRepository,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "vod"))

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.WriteTimeout
	hc.RetryAttempts = 0
	hc.Logger = log

	return &Processor{
		cfg:      cfg,
		registry: NewRegistry(),
		asr:      transcriber,
		dict:     dict,
		captions: captions,
		meetings: meetings,
		tasks:    tasks,
		download: httpclient.New(hc),
		logger:   log,
	}
}

// Start launches the pipeline for a meeting in the background and
// returns the freshly registered task. The meeting must exist, carry a
// VOD URL, and have no active task.
func (p *Processor) Start(ctx context.Context, meetingID string) (Task, error) {
	id, err := models.ParseULID(meetingID)
	if err != nil {
		return Task{}, ErrMeetingNotFound
	}
	meeting, err := p.meetings.GetByID(ctx, id)
	if err != nil {
		return Task{}, fmt.Errorf("loading meeting: %w", err)
	}
	if meeting == nil {
		return Task{}, ErrMeetingNotFound
	}
	if meeting.VODURL == "" {
		return Task{}, ErrNoVODURL
	}

	task, err := p.registry.Begin(meetingID)
	if err != nil {
		return Task{}, err
	}
	p.mirror(task)

	go p.run(task, meeting)
	return task, nil
}

// TaskByMeeting returns the task for a meeting, if any.
func (p *Processor) TaskByMeeting(meetingID string) (Task, bool) {
	return p.registry.ByMeeting(meetingID)
}

// TaskByID returns the task with the given id, if any.
func (p *Processor) TaskByID(taskID string) (Task, bool) {
	return p.registry.ByID(taskID)
}

// IsProcessing reports whether a pipeline is active for the meeting.
func (p *Processor) IsProcessing(meetingID string) bool {
	return p.registry.IsProcessing(meetingID)
}

// StartJanitor schedules periodic pruning of terminal task state.
func (p *Processor) StartJanitor() error {
	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.cfg.JanitorSchedule, func() {
		if removed := p.registry.Prune(p.cfg.TaskRetention); removed > 0 {
			p.logger.Info("pruned finished captioning tasks", slog.Int("count", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling task janitor: %w", err)
	}
	p.cron.Start()
	return nil
}

// StopJanitor halts the pruning schedule.
func (p *Processor) StopJanitor() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// run executes the pipeline stages. Failures mark the task failed and
// put the meeting back into the ended state.
func (p *Processor) run(task Task, meeting *models.Meeting) {
	ctx := context.Background()
	meetingID := task.MeetingID
	log := p.logger.With(slog.String("meeting_id", meetingID))

	p.registry.MarkRunning(meetingID)
	if t, ok := p.registry.ByMeeting(meetingID); ok {
		p.mirror(t)
	}

	count, err := p.process(ctx, task, meeting, log)
	if err != nil {
		log.Error("vod captioning failed", slog.String("error", err.Error()))
		p.registry.Fail(meetingID, err)
		if t, ok := p.registry.ByMeeting(meetingID); ok {
			p.mirror(t)
		}
		// Leave the meeting usable even when captioning failed.
		if uerr := p.meetings.UpdateStatus(ctx, meeting.ID, models.MeetingStatusEnded, nil); uerr != nil {
			log.Warn("failed to restore meeting status", slog.String("error", uerr.Error()))
		}
		return
	}

	p.registry.Complete(meetingID, fmt.Sprintf("완료 - %d개 자막 생성", count))
	if t, ok := p.registry.ByMeeting(meetingID); ok {
		p.mirror(t)
	}
	log.Info("vod captioning completed", slog.Int("captions", count))
}

func (p *Processor) process(ctx context.Context, task Task, meeting *models.Meeting, log *slog.Logger) (int, error) {
	meetingID := task.MeetingID

	p.progress(meetingID, 0.05, "회의 상태 업데이트 중")
	if err := p.meetings.UpdateStatus(ctx, meeting.ID, models.MeetingStatusProcessing, nil); err != nil {
		return 0, fmt.Errorf("marking meeting processing: %w", err)
	}

	p.progress(meetingID, 0.06, "VOD 다운로드 시작")
	path, size, err := p.downloadToFile(ctx, meeting.VODURL, meetingID)
	if err != nil {
		return 0, err
	}
	defer os.Remove(path)
	log.Info("vod downloaded", slog.Int64("bytes", size))

	p.progress(meetingID, 0.20, "음성 인식 전송 시작")
	result, err := p.transcribeFile(ctx, path, size, meetingID)
	if err != nil {
		return 0, err
	}

	// The media file is no longer needed once the provider replied.
	os.Remove(path)

	p.progress(meetingID, 0.92, "자막 데이터 변환 중")
	captions := p.buildCaptions(meetingID, result)
	log.Info("captions generated", slog.Int("count", len(captions)))

	p.progress(meetingID, 0.95, "자막 저장 중")
	if len(captions) > 0 {
		if err := p.captions.CreateBatch(ctx, captions); err != nil {
			return 0, fmt.Errorf("storing captions: %w", err)
		}
	}

	var duration *int
	if result.Metadata.Duration > 0 {
		d := int(result.Metadata.Duration)
		duration = &d
	}
	if err := p.meetings.UpdateStatus(ctx, meeting.ID, models.MeetingStatusEnded, duration); err != nil {
		return 0, fmt.Errorf("marking meeting ended: %w", err)
	}

	return len(captions), nil
}

// downloadToFile streams the origin MP4 into a temp file, mapping
// download progress onto the 6..18% band.
func (p *Processor) downloadToFile(ctx context.Context, vodURL, meetingID string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vodURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("building download request: %w", err)
	}
	// The origin rejects requests without its own Referer.
	req.Header.Set("Referer", p.cfg.OriginReferer)

	resp, err := p.download.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("downloading vod: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("vod download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "ggcsub-vod-*.mp4")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	path := tmp.Name()

	total := resp.ContentLength
	var written int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				os.Remove(path)
				return "", 0, fmt.Errorf("writing temp file: %w", werr)
			}
			written += int64(n)
			if total > 0 {
				ratio := float64(written) / float64(total)
				p.progress(meetingID, 0.06+0.12*ratio,
					fmt.Sprintf("VOD 다운로드 중 (%d/%d MB)", written>>20, total>>20))
			} else {
				p.progress(meetingID, 0.10,
					fmt.Sprintf("VOD 다운로드 중 (%d MB)", written>>20))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			tmp.Close()
			os.Remove(path)
			return "", 0, fmt.Errorf("reading vod stream: %w", rerr)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}
	return path, written, nil
}

// transcribeFile uploads the media, mapping upload progress onto the
// 20..40% band, then waits for the provider's analysis.
func (p *Processor) transcribeFile(ctx context.Context, path string, size int64, meetingID string) (*asr.BatchResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening media file: %w", err)
	}
	defer f.Close()

	result, err := p.asr.Transcribe(ctx, f, size, func(uploaded, total int64) {
		if uploaded >= total {
			p.progress(meetingID, 0.40, "음성 인식 분석 중 (대기)")
			return
		}
		ratio := float64(uploaded) / float64(total)
		p.progress(meetingID, 0.20+0.20*ratio,
			fmt.Sprintf("음성 인식 전송 중 (%d/%d MB)", uploaded>>20, total>>20))
	})
	if err != nil {
		return nil, fmt.Errorf("transcribing vod: %w", err)
	}
	return result, nil
}

// buildCaptions converts the provider reply into caption rows.
// Utterances map one-to-one; when absent, raw words are grouped by
// speaker and bounded segment length.
func (p *Processor) buildCaptions(meetingID string, result *asr.BatchResponse) []*models.Caption {
	if len(result.Results.Utterances) == 0 {
		return p.wordsToCaptions(meetingID, result.Words())
	}

	var captions []*models.Caption
	for _, utt := range result.Results.Utterances {
		text := p.dict.Correct(utt.Transcript)
		if text == "" {
			continue
		}
		captions = append(captions, p.newCaption(meetingID, text, utt.Speaker, utt.Confidence, utt.Start, utt.End))
	}
	return captions
}

func (p *Processor) wordsToCaptions(meetingID string, words []asr.Word) []*models.Caption {
	if len(words) == 0 {
		return nil
	}

	var captions []*models.Caption
	var group []asr.Word
	speaker := words[0].Speaker
	segmentStart := words[0].Start

	flush := func() {
		if len(group) == 0 {
			return
		}
		parts := make([]string, len(group))
		confSum := 0.0
		for i, w := range group {
			parts[i] = w.Text()
			confSum += w.Confidence
		}
		text := p.dict.Correct(strings.Join(parts, " "))
		if text == "" {
			return
		}
		captions = append(captions, p.newCaption(
			meetingID, text, speaker,
			confSum/float64(len(group)),
			segmentStart, group[len(group)-1].End,
		))
	}

	for _, w := range words {
		if !sameSpeaker(w.Speaker, speaker) || w.Start-segmentStart > maxSegmentSeconds {
			flush()
			group = group[:0]
			speaker = w.Speaker
			segmentStart = w.Start
		}
		group = append(group, w)
	}
	flush()
	return captions
}

func (p *Processor) newCaption(meetingID, text string, speaker *int, confidence, start, end float64) *models.Caption {
	c := &models.Caption{
		CaptionID:  uuid.NewString(),
		RoomID:     meetingID,
		Text:       text,
		StartTime:  start,
		EndTime:    end,
		Confidence: confidence,
	}
	if label := asr.SpeakerLabel(speaker); label != "" {
		c.Speaker = &label
	}
	return c
}

func (p *Processor) progress(meetingID string, value float64, message string) {
	p.registry.SetProgress(meetingID, value, message)
	p.logger.Debug("task progress",
		slog.String("meeting_id", meetingID),
		slog.Float64("progress", value),
		slog.String("message", message),
	)
}

// mirror writes the task snapshot to the durable store, best effort.
func (p *Processor) mirror(task Task) {
	if p.tasks == nil {
		return
	}
	meetingID, err := models.ParseULID(task.MeetingID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	row := &models.SttTask{
		TaskID:    task.TaskID,
		MeetingID: meetingID,
		Status:    task.Status,
		Progress:  task.Progress,
		Message:   task.Message,
		Error:     task.Error,
	}
	if err := p.tasks.Upsert(ctx, row); err != nil {
		p.logger.Warn("task state mirror failed",
			slog.String("task_id", task.TaskID),
			slog.String("error", err.Error()),
		)
	}
}

func sameSpeaker(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
