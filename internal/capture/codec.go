package capture

import (
	"mime"
	"strconv"
	"strings"

	"github.com/MrWong99/fieldvoice/pkg/media"
)

// Codec names accepted in preference lists.
const (
	CodecOggOpus = "audio/ogg;codecs=opus"
	CodecWAV     = "audio/wav"
	CodecL16     = "audio/L16"

	// mimeFallback is used when no preferred codec supports the format.
	mimeFallback = "application/octet-stream"
)

// DefaultCodecPreferences is the probe order used when none is configured.
var DefaultCodecPreferences = []string{CodecOggOpus, CodecWAV, CodecL16}

// Codec turns captured 16-bit little-endian PCM into a single upload buffer.
type Codec interface {
	// Name is the preference-list key.
	Name() string

	// Supports reports whether the codec can encode f.
	Supports(f media.Format) bool

	// ContentType is the MIME type of Encode's output for f.
	ContentType(f media.Format) string

	// Encode converts a whole recording.
	Encode(pcm []byte, f media.Format) ([]byte, error)
}

var codecs = map[string]Codec{
	normalizeCodec(CodecOggOpus): oggOpusCodec{},
	normalizeCodec(CodecWAV):     wavCodec{},
	normalizeCodec(CodecL16):     l16Codec{},
}

func normalizeCodec(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}

// SelectCodec returns the first codec in prefs that supports f. Unknown names
// are skipped. When nothing matches it returns a pass-through codec that
// labels the raw PCM as application/octet-stream; it never fails.
func SelectCodec(prefs []string, f media.Format) Codec {
	for _, p := range prefs {
		c, ok := codecs[normalizeCodec(p)]
		if ok && c.Supports(f) {
			return c
		}
	}
	return rawCodec{}
}

// ExtensionFor maps a MIME type to a file extension, including the dot.
func ExtensionFor(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(mimeType)
	}
	switch mt {
	case "audio/ogg", "video/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/l16":
		return ".pcm"
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/mp4", "audio/mp4":
		return ".mp4"
	case "video/x-matroska":
		return ".mkv"
	}
	return ".bin"
}

type wavCodec struct{}

func (wavCodec) Name() string                    { return CodecWAV }
func (wavCodec) Supports(f media.Format) bool    { return f.SampleRate > 0 && f.Channels > 0 }
func (wavCodec) ContentType(media.Format) string { return CodecWAV }
func (wavCodec) Encode(pcm []byte, f media.Format) ([]byte, error) {
	return encodeWAV(pcm, f.SampleRate, f.Channels), nil
}

// l16Codec emits RFC 2586 linear PCM: big-endian samples, rate and channels
// carried as MIME parameters.
type l16Codec struct{}

func (l16Codec) Name() string                 { return CodecL16 }
func (l16Codec) Supports(f media.Format) bool { return f.SampleRate > 0 && f.Channels > 0 }
func (l16Codec) ContentType(f media.Format) string {
	return "audio/L16;rate=" + strconv.Itoa(f.SampleRate) + ";channels=" + strconv.Itoa(f.Channels)
}
func (l16Codec) Encode(pcm []byte, _ media.Format) ([]byte, error) {
	out := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		out[i], out[i+1] = pcm[i+1], pcm[i]
	}
	return out, nil
}

type rawCodec struct{}

func (rawCodec) Name() string                    { return mimeFallback }
func (rawCodec) Supports(media.Format) bool      { return true }
func (rawCodec) ContentType(media.Format) string { return mimeFallback }
func (rawCodec) Encode(pcm []byte, _ media.Format) ([]byte, error) {
	return pcm, nil
}
