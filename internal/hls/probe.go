package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astits"
)

// TSInfo summarizes the head of an MPEG-TS segment.
type TSInfo struct {
	// PacketCount is how many 188-byte packets the probe consumed.
	PacketCount int
	// StreamPIDs are the elementary stream PIDs from the PMT.
	StreamPIDs []uint16
	// HasAudio reports whether the PMT declares an audio stream.
	HasAudio bool
}

// ProbeTS parses the start of segment data and extracts the program
// map. Used to sanity-check a stream before it is fed to the ASR
// provider; a segment with no audio track will transcribe to nothing.
func ProbeTS(data []byte) (TSInfo, error) {
	info := TSInfo{PacketCount: len(data) / 188}
	if len(data) < 188 || data[0] != 0x47 {
		return info, fmt.Errorf("not an MPEG-TS segment")
	}

	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(data))
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			// A truncated tail is normal when probing a prefix.
			break
		}
		if d.PMT == nil {
			continue
		}
		for _, es := range d.PMT.ElementaryStreams {
			info.StreamPIDs = append(info.StreamPIDs, es.ElementaryPID)
			switch es.StreamType {
			case astits.StreamTypeAACAudio, astits.StreamTypeMPEG1Audio, astits.StreamTypeAC3Audio:
				info.HasAudio = true
			}
		}
		return info, nil
	}
	return info, fmt.Errorf("no program map found in probe window")
}
