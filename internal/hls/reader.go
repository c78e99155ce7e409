// Package hls reads live HLS media playlists and yields newly published
// segment URLs. Each caption worker owns its own Reader; the seen-set
// is not shared.
package hls

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/sang-woon/ggc-subtitle/internal/httpclient"
)

// Reader polls a playlist URL and tracks which segments have already
// been handed out. A master (multivariant) playlist is resolved to its
// first variant once; the resolution sticks until Reset.
type Reader struct {
	client *httpclient.Client
	logger *slog.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	mediaURL string
}

// NewReader creates a Reader using the given HTTP client. A nil client
// gets a default resilient one.
func NewReader(client *httpclient.Client, log *slog.Logger) *Reader {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reader{
		client: client,
		logger: log.With(slog.String("component", "hls")),
		seen:   map[string]struct{}{},
	}
}

// FetchNewSegments fetches the playlist and returns absolute segment
// URLs not seen before, in playlist order. Returned segments are marked
// seen. Errors are transient; the caller retries on its next tick.
func (r *Reader) FetchNewSegments(ctx context.Context, playlistURL string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := playlistURL
	if r.mediaURL != "" {
		target = r.mediaURL
	}

	data, err := r.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	var media *playlist.Media
	switch p := pl.(type) {
	case *playlist.Media:
		media = p
	case *playlist.Multivariant:
		if r.mediaURL != "" {
			return nil, fmt.Errorf("media playlist URL %s resolved to a master playlist", target)
		}
		if len(p.Variants) == 0 {
			return nil, fmt.Errorf("master playlist has no variants")
		}
		resolved, err := resolveURL(target, p.Variants[0].URI)
		if err != nil {
			return nil, fmt.Errorf("resolving variant URL: %w", err)
		}
		r.logger.Info("master playlist resolved",
			slog.String("media_url", httpclient.SanitizeURLString(resolved)),
		)
		r.mediaURL = resolved
		target = resolved

		if data, err = r.fetch(ctx, target); err != nil {
			return nil, err
		}
		variantPL, err := playlist.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("parsing variant playlist: %w", err)
		}
		m, ok := variantPL.(*playlist.Media)
		if !ok {
			return nil, fmt.Errorf("variant did not resolve to a media playlist")
		}
		media = m
	default:
		return nil, fmt.Errorf("unrecognized playlist type %T", pl)
	}

	var fresh []string
	for _, seg := range media.Segments {
		abs, err := resolveURL(target, seg.URI)
		if err != nil {
			r.logger.Warn("skipping unresolvable segment URI",
				slog.String("uri", seg.URI),
			)
			continue
		}
		if _, ok := r.seen[abs]; ok {
			continue
		}
		r.seen[abs] = struct{}{}
		fresh = append(fresh, abs)
	}
	return fresh, nil
}

func (r *Reader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := r.client.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("playlist fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading playlist body: %w", err)
	}
	return data, nil
}

// Reset clears the seen-set and the sticky media playlist resolution.
// Used when a worker restarts its session.
func (r *Reader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = map[string]struct{}{}
	r.mediaURL = ""
}

// SeenCount reports how many segments have been handed out.
func (r *Reader) SeenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
