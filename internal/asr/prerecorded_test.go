package asr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sang-woon/ggc-subtitle/internal/config"
)

const batchReply = `{
	"metadata": {"duration": 5400.5},
	"results": {
		"utterances": [
			{"transcript": "개의하겠습니다.", "confidence": 0.93, "start": 0.0, "end": 2.5, "speaker": 0}
		]
	}
}`

func newBatchClient(srvURL string) *BatchClient {
	cfg := config.ASRConfig{
		APIKey:   "batch-key",
		BatchURL: srvURL,
		Model:    "nova-3",
		Language: "ko",
	}
	return NewBatchClient(cfg, 5*time.Second, 10*time.Second)
}

func TestTranscribeUploadsAndDecodes(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("utterances"))
		assert.Equal(t, "true", q.Get("diarize"))
		assert.Equal(t, "nova-3", q.Get("model"))
		assert.Equal(t, "video/mp4", r.Header.Get("Content-Type"))
		assert.Equal(t, "Token batch-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Len(t, body, len(payload))
		fmt.Fprint(w, batchReply)
	}))
	defer srv.Close()

	var lastUploaded, lastTotal int64
	resp, err := newBatchClient(srv.URL).Transcribe(
		context.Background(),
		strings.NewReader(payload),
		int64(len(payload)),
		func(uploaded, total int64) {
			lastUploaded, lastTotal = uploaded, total
		},
	)
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), lastUploaded)
	assert.Equal(t, int64(len(payload)), lastTotal)
	assert.Equal(t, 5400.5, resp.Metadata.Duration)
	require.Len(t, resp.Results.Utterances, 1)
	utt := resp.Results.Utterances[0]
	assert.Equal(t, "개의하겠습니다.", utt.Transcript)
	require.NotNil(t, utt.Speaker)
	assert.Equal(t, 0, *utt.Speaker)
}

func TestTranscribeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newBatchClient(srv.URL).Transcribe(context.Background(), strings.NewReader("x"), 1, nil)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestTranscribeErrorIncludesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "unsupported media")
	}))
	defer srv.Close()

	_, err := newBatchClient(srv.URL).Transcribe(context.Background(), strings.NewReader("x"), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "unsupported media")
}
