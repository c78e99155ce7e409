// Package kospacing restores word spacing in Korean ASR transcripts.
//
// Streaming Korean ASR tends to drop spaces. A frequency-table model is
// loaded once per process and used to re-segment runs of Hangul with no
// spaces. The model data may live under a path that is unreadable in
// some host environments (historically: non-ASCII user-profile paths);
// on load failure the data is copied once to an ASCII-safe temp path
// and retried. If that also fails, spacing is bypassed entirely so
// captions are never blocked on cosmetic post-processing.
package kospacing

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

const (
	modelFileName = "vocab.tsv"
	safeDirName   = "ggcsub-kospacing"
	maxWordRunes  = 8
)

// Spacer segments unspaced Hangul runs using a word-frequency table.
// The zero value bypasses spacing (Space returns its input).
type Spacer struct {
	freq     map[string]float64
	maxRunes int
}

var (
	once      sync.Once
	singleton *Spacer
)

// Get returns the process-wide Spacer, loading the model from modelDir
// on first call. Load failures degrade to a bypass Spacer.
func Get(modelDir string, log *slog.Logger) *Spacer {
	once.Do(func() {
		if log == nil {
			log = slog.Default()
		}
		s, err := Load(modelDir)
		if err == nil {
			singleton = s
			return
		}
		log.Warn("spacing model load failed, copying to safe path",
			slog.String("model_dir", modelDir),
			slog.String("error", err.Error()),
		)
		safeDir, copyErr := relocate(modelDir)
		if copyErr == nil {
			if s, err = Load(safeDir); err == nil {
				singleton = s
				return
			}
		}
		log.Error("spacing model unavailable, spacing disabled",
			slog.String("model_dir", modelDir),
		)
		singleton = &Spacer{}
	})
	return singleton
}

// Load reads the frequency table from dir.
func Load(dir string) (*Spacer, error) {
	f, err := os.Open(filepath.Join(dir, modelFileName))
	if err != nil {
		return nil, fmt.Errorf("opening spacing model: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Spacer, error) {
	s := &Spacer{freq: make(map[string]float64), maxRunes: 1}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word, countStr, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		count, err := strconv.ParseFloat(strings.TrimSpace(countStr), 64)
		if err != nil || count <= 0 {
			continue
		}
		runes := len([]rune(word))
		if runes == 0 || runes > maxWordRunes {
			continue
		}
		s.freq[word] = count
		if runes > s.maxRunes {
			s.maxRunes = runes
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading spacing model: %w", err)
	}
	if len(s.freq) == 0 {
		return nil, fmt.Errorf("spacing model is empty")
	}
	return s, nil
}

// relocate copies the model data to an ASCII-safe directory under the
// system temp path and returns that directory.
func relocate(srcDir string) (string, error) {
	dst := filepath.Join(os.TempDir(), safeDirName)
	if _, err := os.Stat(filepath.Join(dst, modelFileName)); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("creating safe model dir: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(srcDir, modelFileName))
	if err != nil {
		return "", fmt.Errorf("reading model for relocation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dst, modelFileName), data, 0o644); err != nil {
		return "", fmt.Errorf("writing relocated model: %w", err)
	}
	return dst, nil
}

// Enabled reports whether a model is loaded.
func (s *Spacer) Enabled() bool {
	return s != nil && len(s.freq) > 0
}

// Space re-segments unspaced Hangul runs in text. Runs that already
// contain spaces, and non-Hangul spans, pass through untouched. Always
// returns usable text, even with no model loaded.
func (s *Spacer) Space(text string) string {
	if !s.Enabled() || text == "" {
		return collapseSpaces(text)
	}

	var out strings.Builder
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if !isHangul(runes[i]) {
			out.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isHangul(runes[j]) {
			j++
		}
		run := runes[i:j]
		if len(run) > s.maxRunes {
			out.WriteString(s.segment(run))
		} else {
			out.WriteString(string(run))
		}
		i = j
	}
	return collapseSpaces(out.String())
}

// segment splits a Hangul run at word boundaries chosen by maximizing
// summed log-scale frequency over a Viterbi-style pass.
func (s *Spacer) segment(run []rune) string {
	n := len(run)
	const unknownPenalty = -10.0

	best := make([]float64, n+1)
	back := make([]int, n+1)
	for i := 1; i <= n; i++ {
		best[i] = -1e18
		lo := i - s.maxRunes
		if lo < 0 {
			lo = 0
		}
		for j := lo; j < i; j++ {
			word := string(run[j:i])
			// Constant penalty per unknown word keeps unknown spans
			// glued together instead of sprinkling spaces.
			score := unknownPenalty
			if f, ok := s.freq[word]; ok {
				score = logScale(f)
			}
			if cand := best[j] + score; cand > best[i] {
				best[i] = cand
				back[i] = j
			}
		}
	}

	var words []string
	for i := n; i > 0; i = back[i] {
		words = append(words, string(run[back[i]:i]))
	}
	for l, r := 0, len(words)-1; l < r; l, r = l+1, r-1 {
		words[l], words[r] = words[r], words[l]
	}
	return strings.Join(words, " ")
}

func logScale(f float64) float64 {
	// Cheap log approximation over the digit count; exact log is not
	// needed for ranking segmentations.
	score := 0.0
	for f >= 10 {
		f /= 10
		score++
	}
	return score + f/10
}

func isHangul(r rune) bool {
	return unicode.Is(unicode.Hangul, r)
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
