package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sang-woon/ggc-subtitle/internal/config"
)

// ErrRateLimited indicates the provider rejected the upload with 429.
var ErrRateLimited = fmt.Errorf("transcription provider rate limit exceeded")

// BatchClient uploads whole media files to the pre-recorded endpoint.
// Uploads are streamed; the file is never buffered in memory.
type BatchClient struct {
	cfg    config.ASRConfig
	client *http.Client
}

// NewBatchClient builds a client with long-haul timeouts: connect is
// bounded tightly, the response header wait covers provider-side
// processing of long recordings.
func NewBatchClient(cfg config.ASRConfig, connectTimeout, responseTimeout time.Duration) *BatchClient {
	return &BatchClient{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: responseTimeout,
			},
		},
	}
}

// BatchQuery builds the pre-recorded endpoint query. Unlike the
// streaming query it asks for utterances, which map naturally onto
// captions.
func BatchQuery(cfg config.ASRConfig) url.Values {
	return url.Values{
		"model":        {cfg.Model},
		"language":     {cfg.Language},
		"smart_format": {"true"},
		"punctuate":    {"true"},
		"diarize":      {"true"},
		"utterances":   {"true"},
	}
}

// Transcribe streams size bytes from body to the provider and decodes
// the reply. progress, when non-nil, is called as upload bytes go out.
func (c *BatchClient) Transcribe(ctx context.Context, body io.Reader, size int64, progress func(uploaded, total int64)) (*BatchResponse, error) {
	u, err := url.Parse(c.cfg.BatchURL)
	if err != nil {
		return nil, fmt.Errorf("parsing batch URL: %w", err)
	}
	u.RawQuery = BatchQuery(c.cfg).Encode()

	if progress != nil {
		body = &progressReader{r: body, total: size, report: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building batch request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "video/mp4")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading media: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, fmt.Errorf("batch transcription returned status %d: %s", resp.StatusCode, detail)
	}

	var result BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}
	return &result, nil
}

type progressReader struct {
	r        io.Reader
	total    int64
	uploaded int64
	report   func(uploaded, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.uploaded += int64(n)
		p.report(p.uploaded, p.total)
	}
	return n, err
}
