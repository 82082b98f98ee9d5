package capture

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/fieldvoice/pkg/media"
)

const (
	// opusFrameMs is the packet duration fed to the encoder.
	opusFrameMs = 20

	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000

	// opusGranuleRate is the fixed granule clock of Ogg Opus streams.
	opusGranuleRate = 48000

	bitsPerSample = 16
)

type oggOpusCodec struct{}

func (oggOpusCodec) Name() string { return CodecOggOpus }

// Supports reports the sample rates and channel counts libopus accepts.
func (oggOpusCodec) Supports(f media.Format) bool {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return false
	}
	return f.Channels == 1 || f.Channels == 2
}

func (oggOpusCodec) ContentType(media.Format) string { return CodecOggOpus }

// Encode compresses pcm into 20 ms Opus packets and muxes them into an Ogg
// stream, one packet per page. The final partial frame is zero padded.
//
// The muxer only marks the last page end-of-stream when it owns a file, so
// the stream is spooled through a temporary file.
func (oggOpusCodec) Encode(pcm []byte, f media.Format) ([]byte, error) {
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("capture: create opus encoder: %w", err)
	}

	tmp, err := os.CreateTemp("", "fieldvoice-*.opus")
	if err != nil {
		return nil, fmt.Errorf("capture: ogg spool: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	w, err := oggwriter.New(path, uint32(f.SampleRate), uint16(f.Channels))
	if err != nil {
		return nil, fmt.Errorf("capture: ogg writer: %w", err)
	}

	frameSize := f.SampleRate * opusFrameMs / 1000
	frameBytes := frameSize * f.Channels * 2
	ticksPerFrame := uint32(opusGranuleRate * opusFrameMs / 1000)

	// The writer measures granule positions as RTP timestamp deltas.
	ts := ticksPerFrame
	for off := 0; off+1 < len(pcm); off += frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, pcm[off:min(off+frameBytes, len(pcm))])

		packet, err := enc.Encode(media.BytesToInt16s(frame), frameSize, opusMaxPacket)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("capture: opus encode: %w", err)
		}
		if err := w.WriteRTP(&rtp.Packet{Header: rtp.Header{Timestamp: ts}, Payload: packet}); err != nil {
			w.Close()
			return nil, fmt.Errorf("capture: ogg page: %w", err)
		}
		ts += ticksPerFrame
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("capture: ogg close: %w", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: ogg spool: %w", err)
	}
	return out, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}
