// Package caption assembles finalized ASR fragments into sentence-sized
// captions.
package caption

import (
	"strings"
	"unicode/utf8"
)

// Flushing past this many runes keeps long run-on speech from sitting
// in the buffer.
const maxBufferedRunes = 40

// Sentence is one flushed caption candidate.
type Sentence struct {
	Text       string
	Speaker    *int
	Confidence float64
	Start      float64
	End        float64
}

// Buffer accumulates finalized fragments until a sentence boundary.
// Not safe for concurrent use; each worker owns one.
type Buffer struct {
	parts     []string
	speaker   *int
	start     float64
	end       float64
	confSum   float64
	confCount int
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends a fragment. The first fragment fixes the start time; a
// non-nil speaker updates the buffer's speaker.
func (b *Buffer) Add(text string, speaker *int, confidence, start, end float64) {
	if len(b.parts) == 0 {
		b.start = start
	}
	b.parts = append(b.parts, text)
	b.end = end
	if speaker != nil {
		b.speaker = speaker
	}
	b.confSum += confidence
	b.confCount++
}

// Text joins the buffered fragments with spaces.
func (b *Buffer) Text() string {
	return strings.Join(b.parts, " ")
}

// Len reports the number of buffered fragments.
func (b *Buffer) Len() int {
	return len(b.parts)
}

// Speaker returns the buffer's current speaker index, nil when unknown.
func (b *Buffer) Speaker() *int {
	return b.speaker
}

// AvgConfidence is the mean confidence over buffered fragments.
func (b *Buffer) AvgConfidence() float64 {
	if b.confCount == 0 {
		return 0
	}
	return b.confSum / float64(b.confCount)
}

// ShouldFlush reports whether the buffered text reads as a complete
// sentence: terminal punctuation, a comma, a Korean sentence-final
// ending, or simply too much accumulated text.
func (b *Buffer) ShouldFlush() bool {
	text := b.Text()
	if text == "" {
		return false
	}
	stripped := strings.TrimRight(text, " \t\n")
	if stripped == "" {
		return false
	}

	last, _ := utf8.DecodeLastRuneInString(stripped)
	switch last {
	case '.', '?', '!', ',':
		return true
	}
	if strings.HasSuffix(stripped, "니다") || strings.HasSuffix(stripped, "습니다") || strings.HasSuffix(stripped, "까") {
		return true
	}
	if last == '요' || last == '다' {
		return true
	}
	return utf8.RuneCountInString(text) > maxBufferedRunes
}

// Flush snapshots the buffer as a Sentence and clears it. Returns
// false when the buffer is empty.
func (b *Buffer) Flush() (Sentence, bool) {
	if len(b.parts) == 0 {
		return Sentence{}, false
	}
	s := Sentence{
		Text:       b.Text(),
		Speaker:    b.speaker,
		Confidence: b.AvgConfidence(),
		Start:      b.start,
		End:        b.end,
	}
	b.Clear()
	return s, true
}

// Clear resets the buffer to empty.
func (b *Buffer) Clear() {
	b.parts = b.parts[:0]
	b.speaker = nil
	b.start = 0
	b.end = 0
	b.confSum = 0
	b.confCount = 0
}

// SpeakerChanged reports whether adding a fragment from speaker would
// cross a speaker boundary, which forces a flush before adding.
func (b *Buffer) SpeakerChanged(speaker *int) bool {
	return len(b.parts) > 0 && speaker != nil && b.speaker != nil && *speaker != *b.speaker
}
