package audio

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/opus"
)

// Opus always decodes at 48 kHz. Browser MediaRecorder emits 20 ms packets,
// 960 samples per channel.
const (
	opusSampleRate      = 48000
	opusFrameSamples    = 960
	opusMaxFrameSamples = 5760 // 120 ms upper bound per packet
)

type webmDocument struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment webm.Segment    `ebml:"Segment"`
}

// decodeWebM demuxes a WebM blob, decodes the first Opus track and returns
// mono PCM resampled to 16 kHz.
func decodeWebM(blob []byte) (PCM, error) {
	var doc webmDocument
	if err := ebml.Unmarshal(bytes.NewReader(blob), &doc); err != nil {
		return PCM{}, fmt.Errorf("%w: webm parse: %v", ErrDecode, err)
	}

	var track *webm.TrackEntry
	for i := range doc.Segment.Tracks.TrackEntry {
		entry := &doc.Segment.Tracks.TrackEntry[i]
		if strings.EqualFold(entry.CodecID, "A_OPUS") {
			track = entry
			break
		}
	}
	if track == nil {
		return PCM{}, fmt.Errorf("%w: no opus track", ErrDecode)
	}

	stereo := track.Audio != nil && track.Audio.Channels == 2

	decoder := opus.NewDecoder()
	frameBuf := make([]byte, opusMaxFrameSamples*2*2)

	var mono []float64
	for _, cluster := range doc.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if block.TrackNumber != track.TrackNumber {
				continue
			}
			for _, packet := range block.Data {
				if len(packet) == 0 {
					continue
				}
				_, isStereo, err := decoder.Decode(packet, frameBuf)
				if err != nil {
					return PCM{}, fmt.Errorf("%w: opus decode: %v", ErrDecode, err)
				}
				mono = appendMono48k(mono, frameBuf, isStereo || stereo)
			}
		}
	}
	if len(mono) == 0 {
		return PCM{}, fmt.Errorf("%w: no audio samples decoded", ErrDecode)
	}

	samples, err := resampleTo16k(mono, opusSampleRate)
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return PCM{Samples: samples, SampleRate: TargetSampleRate}, nil
}

// appendMono48k converts one decoded 20 ms S16LE frame to normalized mono
// float64 samples, averaging channels when the packet is stereo.
func appendMono48k(dst []float64, frame []byte, stereo bool) []float64 {
	channels := 1
	if stereo {
		channels = 2
	}
	for i := 0; i < opusFrameSamples; i++ {
		off := i * channels * 2
		if off+1 >= len(frame) {
			break
		}
		sample := float64(int16(uint16(frame[off]) | uint16(frame[off+1])<<8))
		if stereo && off+3 < len(frame) {
			right := float64(int16(uint16(frame[off+2]) | uint16(frame[off+3])<<8))
			sample = (sample + right) / 2
		}
		dst = append(dst, sample/32768.0)
	}
	return dst
}
