// Package asr talks to the speech-to-text provider: a realtime
// websocket session for live HLS audio and a pre-recorded HTTP client
// for VOD files.
package asr

import (
	"fmt"
	"strings"
)

// Word is one recognized word with timing, confidence and an optional
// diarized speaker index.
type Word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Confidence     float64 `json:"confidence"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Speaker        *int    `json:"speaker"`
}

// Text returns the punctuated form when present, the raw word otherwise.
func (w Word) Text() string {
	if w.PunctuatedWord != "" {
		return w.PunctuatedWord
	}
	return w.Word
}

// Alternative is one transcription hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// StreamMessage is a frame received on the realtime websocket. Only
// type "Results" carries transcription payload.
type StreamMessage struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []Alternative `json:"alternatives"`
	} `json:"channel"`
}

// Utterance is one pre-recorded result utterance.
type Utterance struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    *int    `json:"speaker"`
}

// BatchResponse is the pre-recorded transcription reply.
type BatchResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Utterances []Utterance `json:"utterances"`
		Channels   []struct {
			Alternatives []Alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Words returns the word list of the first channel's first alternative,
// the fallback when the reply carries no utterances.
func (r *BatchResponse) Words() []Word {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return nil
	}
	return r.Results.Channels[0].Alternatives[0].Words
}

// SpeakerGroup is a run of consecutive words by the same speaker.
type SpeakerGroup struct {
	Speaker    *int
	Text       string
	Confidence float64
	Start      float64
	End        float64
}

// GroupWordsBySpeaker splits a word list at speaker boundaries. Each
// group joins its words with spaces and averages their confidence.
func GroupWordsBySpeaker(words []Word) []SpeakerGroup {
	if len(words) == 0 {
		return nil
	}

	var groups []SpeakerGroup
	current := words[0].Speaker
	var parts []string
	confSum := 0.0
	start := words[0].Start
	end := words[0].End

	flush := func() {
		if len(parts) == 0 {
			return
		}
		groups = append(groups, SpeakerGroup{
			Speaker:    current,
			Text:       strings.Join(parts, " "),
			Confidence: confSum / float64(len(parts)),
			Start:      start,
			End:        end,
		})
	}

	for _, w := range words {
		if !sameSpeaker(w.Speaker, current) && len(parts) > 0 {
			flush()
			parts = nil
			confSum = 0
			current = w.Speaker
			start = w.Start
		}
		parts = append(parts, w.Text())
		confSum += w.Confidence
		end = w.End
	}
	flush()
	return groups
}

func sameSpeaker(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SpeakerLabel renders a diarized speaker index as a display label
// ("화자 1" for index 0). Nil yields the empty string.
func SpeakerLabel(speaker *int) string {
	if speaker == nil {
		return ""
	}
	return fmt.Sprintf("화자 %d", *speaker+1)
}
