package hls

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
media/playlist.m3u8
`

func mediaPlaylist(first int, count int) string {
	body := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n"
	body += fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", first)
	for i := 0; i < count; i++ {
		body += fmt.Sprintf("#EXTINF:6.0,\nsegment%d.ts\n", first+i)
	}
	return body
}

func TestFetchNewSegmentsMediaPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaPlaylist(0, 3))
	}))
	defer srv.Close()

	r := NewReader(nil, nil)
	segs, err := r.FetchNewSegments(context.Background(), srv.URL+"/live/playlist.m3u8")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, srv.URL+"/live/segment0.ts", segs[0])
	assert.Equal(t, srv.URL+"/live/segment2.ts", segs[2])
}

func TestFetchNewSegmentsDeduplicates(t *testing.T) {
	var window atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaPlaylist(int(window.Load()), 3))
	}))
	defer srv.Close()

	r := NewReader(nil, nil)
	ctx := context.Background()
	url := srv.URL + "/live/playlist.m3u8"

	first, err := r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	// Same window: nothing new.
	again, err := r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Window slides by one: exactly one new segment, order preserved.
	window.Store(1)
	next, err := r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, srv.URL+"/live/segment3.ts", next[0])
	assert.Equal(t, 4, r.SeenCount())
}

func TestFetchNewSegmentsMasterResolution(t *testing.T) {
	var masterHits, mediaHits atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/live/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		masterHits.Add(1)
		fmt.Fprint(w, masterPlaylist)
	})
	mux.HandleFunc("/live/media/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		mediaHits.Add(1)
		fmt.Fprint(w, mediaPlaylist(0, 2))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	r := NewReader(nil, nil)
	ctx := context.Background()
	url := srv.URL + "/live/playlist.m3u8"

	segs, err := r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, srv.URL+"/live/media/segment0.ts", segs[0])

	// Resolution is sticky: the master is not fetched again.
	_, err = r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, int32(1), masterHits.Load())
	assert.Equal(t, int32(2), mediaHits.Load())
}

func TestResetClearsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaPlaylist(0, 2))
	}))
	defer srv.Close()

	r := NewReader(nil, nil)
	ctx := context.Background()
	url := srv.URL + "/playlist.m3u8"

	first, err := r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	r.Reset()
	assert.Zero(t, r.SeenCount())

	again, err := r.FetchNewSegments(ctx, url)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestFetchErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewReader(nil, nil)
	_, err := r.FetchNewSegments(context.Background(), srv.URL+"/playlist.m3u8")
	assert.Error(t, err)
}
