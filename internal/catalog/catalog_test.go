package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListComplete(t *testing.T) {
	all := List()
	assert.Len(t, all, 18)

	seenID := map[string]bool{}
	seenCode := map[string]bool{}
	for _, ch := range all {
		assert.False(t, seenID[ch.ID], "duplicate id %s", ch.ID)
		assert.False(t, seenCode[ch.Code], "duplicate code %s", ch.Code)
		seenID[ch.ID] = true
		seenCode[ch.Code] = true
		assert.True(t, strings.HasPrefix(ch.StreamURL, "https://"))
		assert.True(t, strings.HasSuffix(ch.StreamURL, "/playlist.m3u8"))
	}
}

func TestListReturnsCopy(t *testing.T) {
	all := List()
	all[0].Name = "mutated"
	fresh := List()
	assert.Equal(t, "본회의", fresh[0].Name)
}

func TestByID(t *testing.T) {
	ch, ok := ByID("ch14")
	require.True(t, ok)
	assert.Equal(t, "본회의", ch.Name)
	assert.Equal(t, "A011", ch.Code)

	_, ok = ByID("ch999")
	assert.False(t, ok)
}

func TestByCode(t *testing.T) {
	ch, ok := ByCode("E050")
	require.True(t, ok)
	assert.Equal(t, "ch90", ch.ID)

	_, ok = ByCode("Z000")
	assert.False(t, ok)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "방송전", StatusText(StatusPreBroadcast))
	assert.Equal(t, "방송중", StatusText(StatusLive))
	assert.Equal(t, "정회중", StatusText(StatusRecess))
	assert.Equal(t, "종료", StatusText(StatusEnded))
	assert.Equal(t, "생중계없음", StatusText(StatusNoBroadcast))
	assert.Equal(t, "알수없음", StatusText(99))
}
