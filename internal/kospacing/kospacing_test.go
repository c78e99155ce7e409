package kospacing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVocab = `# word	count
존경하는	500
위원	900
여러분	800
의사일정	300
제1항을	120
상정합니다	400
오늘	700
본회의를	250
개의하겠습니다	350
`

func writeModel(t *testing.T, vocab string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, modelFileName), []byte(vocab), 0o644))
	return dir
}

func TestLoadAndSpace(t *testing.T) {
	s, err := Load(writeModel(t, testVocab))
	require.NoError(t, err)
	require.True(t, s.Enabled())

	got := s.Space("오늘본회의를개의하겠습니다")
	assert.Equal(t, "오늘 본회의를 개의하겠습니다", got)
}

func TestSpaceKeepsShortRuns(t *testing.T) {
	s, err := Load(writeModel(t, testVocab))
	require.NoError(t, err)

	// Runs within the longest model word need no segmentation.
	assert.Equal(t, "여러분", s.Space("여러분"))
}

func TestSpacePassesNonHangulThrough(t *testing.T) {
	s, err := Load(writeModel(t, testVocab))
	require.NoError(t, err)

	got := s.Space("2026년 예산 3,000억원")
	assert.Equal(t, "2026년 예산 3,000억원", got)
}

func TestSpaceCollapsesDoubleSpaces(t *testing.T) {
	s := &Spacer{}
	assert.Equal(t, "이미 띄어쓴 문장", s.Space("이미  띄어쓴   문장"))
}

func TestBypassWithoutModel(t *testing.T) {
	s := &Spacer{}
	assert.False(t, s.Enabled())
	assert.Equal(t, "원문그대로", s.Space("원문그대로"))
	assert.Equal(t, "", s.Space(""))
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadEmptyModel(t *testing.T) {
	_, err := Load(writeModel(t, "# only comments\n"))
	assert.Error(t, err)
}

func TestParseSkipsMalformedLines(t *testing.T) {
	s, err := parse(strings.NewReader("위원\t900\nno-count-column\n나쁨\tNaNish\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, len(s.freq))
}

func TestRelocate(t *testing.T) {
	src := writeModel(t, testVocab)
	dst, err := relocate(src)
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dst) })

	s, err := Load(dst)
	require.NoError(t, err)
	assert.True(t, s.Enabled())

	// Second relocation reuses the copy.
	again, err := relocate(src)
	require.NoError(t, err)
	assert.Equal(t, dst, again)
}

func TestGetReturnsSingleton(t *testing.T) {
	dir := writeModel(t, testVocab)
	a := Get(dir, nil)
	b := Get(dir, nil)
	assert.Same(t, a, b)
}
