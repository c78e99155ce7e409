// Package refiner rewrites emitted captions through an LLM: councilor
// names, amounts and assembly terms come out of speech recognition
// garbled more often than not. Corrections are broadcast as patches,
// never blocking the caption path.
package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/hub"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
)

const queueSize = 256

const systemPromptTemplate = `당신은 경기도의회 회의록 교정 전문가입니다.
음성인식(STT)으로 생성된 자막을 교정해주세요.

## 규칙
1. **의원 이름**: 절대 틀리면 안 됩니다. 아래 의원 목록을 참조하세요.
2. **숫자/금액**: 정확하게 표기하세요.
   - "삼천억" -> "3,000억원"
   - "이십삼조" -> "23조"
   - 연도, 법률 번호 등도 숫자로 표기
3. **의회 용어**: 정확히 사용하세요.
   - 개의, 산회, 속개, 상정, 의결, 표결, 질의, 답변, 채택, 부의
4. **자연스러운 한국어**: 띄어쓰기, 조사, 어미를 교정하세요.
5. **의미 보존**: 원래 의미를 절대 변경하지 마세요.
6. **교정 불필요**: 이미 정확한 자막은 그대로 반환하세요.

## 의원 목록
%s

## 출력 형식
JSON 객체로 응답하세요:
{"corrections": [{"id": "원본ID", "corrected_text": "교정된 텍스트"}, ...]}`

type pending struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker"`

	roomID string
}

// Service collects captions into batches and asks the rewriter model
// for corrections. Disabled services accept Enqueue calls and drop them.
type Service struct {
	cfg      config.RefinerConfig
	hub      *hub.Hub
	captions repository.CaptionRepository
	client   *http.Client
	logger   *slog.Logger

	queue  chan pending
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Service. captions may be nil to skip patching stored rows.
func New(cfg config.RefinerConfig, h *hub.Hub, captions repository.CaptionRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		hub:      h,
		captions: captions,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   log.With(slog.String("component", "refiner")),
		queue:    make(chan pending, queueSize),
		done:     make(chan struct{}),
	}
}

// Enabled reports whether the service will do anything.
func (s *Service) Enabled() bool {
	return s.cfg.APIKey != ""
}

// Start launches the batching loop.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("caption refinement disabled")
		close(s.done)
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.logger.Info("caption refiner started",
		slog.String("model", s.cfg.Model),
		slog.Int("batch_size", s.cfg.BatchSize),
		slog.Duration("interval", s.cfg.Interval),
	)
}

// Stop halts the batching loop. Queued captions are dropped.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Enqueue submits a caption for rewriting. Never blocks; when the queue
// is full or the service is disabled the caption simply stays as-is.
func (s *Service) Enqueue(captionID, roomID, text string, speaker *string) {
	if !s.Enabled() {
		return
	}
	select {
	case s.queue <- pending{ID: captionID, Text: text, Speaker: speaker, roomID: roomID}:
	default:
		s.logger.Warn("refiner queue full, dropping caption", slog.String("caption_id", captionID))
	}
}

// loop gathers batches: block for the first caption, then collect more
// until the batch is full or the interval elapses.
func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	for {
		var batch []pending
		select {
		case <-ctx.Done():
			return
		case first := <-s.queue:
			batch = append(batch, first)
		}

		deadline := time.NewTimer(s.cfg.Interval)
	collect:
		for len(batch) < s.cfg.BatchSize {
			select {
			case <-ctx.Done():
				deadline.Stop()
				return
			case item := <-s.queue:
				batch = append(batch, item)
			case <-deadline.C:
				break collect
			}
		}
		deadline.Stop()

		s.correctBatch(ctx, batch)
	}
}

// correctBatch sends one batch to the model and broadcasts any diffs.
// Errors drop the batch; the uncorrected captions were already shown.
func (s *Service) correctBatch(ctx context.Context, batch []pending) {
	corrections, err := s.requestCorrections(ctx, batch)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("caption correction failed", slog.String("error", err.Error()))
		}
		return
	}

	byID := make(map[string]pending, len(batch))
	for _, item := range batch {
		byID[item.ID] = item
	}

	for _, c := range corrections {
		original, ok := byID[c.ID]
		if !ok || c.CorrectedText == "" || c.CorrectedText == original.Text {
			continue
		}
		s.logger.Info("caption corrected",
			slog.String("caption_id", c.ID),
			slog.String("from", truncate(original.Text, 40)),
			slog.String("to", truncate(c.CorrectedText, 40)),
		)
		s.hub.BroadcastCorrected(original.roomID, hub.Correction{
			ID:            c.ID,
			ChannelID:     original.roomID,
			OriginalText:  original.Text,
			CorrectedText: c.CorrectedText,
		})
		if s.captions != nil {
			if err := s.captions.UpdateText(ctx, c.ID, c.CorrectedText); err != nil {
				s.logger.Warn("stored caption patch failed",
					slog.String("caption_id", c.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type correction struct {
	ID            string `json:"id"`
	CorrectedText string `json:"corrected_text"`
}

func (s *Service) requestCorrections(ctx context.Context, batch []pending) ([]correction, error) {
	items, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshalling batch: %w", err)
	}

	reqBody := chatRequest{
		Model:       s.cfg.Model,
		Temperature: 0.1,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, strings.Join(s.cfg.Roster, ", "))},
			{Role: "user", Content: "다음 자막들을 교정해주세요:\n" + string(items)},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	url := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling rewriter model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rewriter model returned status %d", resp.StatusCode)
	}

	var reply chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decoding model reply: %w", err)
	}
	if len(reply.Choices) == 0 {
		return nil, fmt.Errorf("model reply carries no choices")
	}
	return parseCorrections(reply.Choices[0].Message.Content)
}

// parseCorrections accepts both a bare JSON array and the
// {"corrections": [...]} wrapper the json_object mode produces.
func parseCorrections(content string) ([]correction, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	var list []correction
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Corrections []correction `json:"corrections"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, fmt.Errorf("parsing corrections: %w", err)
	}
	return wrapped.Corrections, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
