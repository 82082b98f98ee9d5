// Package execdev implements [media.Devices] and [media.Player] by spawning
// external capture and playback commands (arecord, ffmpeg, ffplay, ...) and
// streaming their stdout.
//
// Command templates are argument vectors; the placeholders {rate},
// {channels}, {width}, {height} and {url} are substituted per call:
//
//	devs := execdev.New(execdev.Config{
//	    Microphone: []string{"arecord", "-q", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}", "-t", "raw"},
//	})
//	stream, err := devs.OpenMicrophone(ctx, media.Constraints{SampleRate: 16000, Channels: 1})
package execdev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/fieldvoice/pkg/media"
)

const (
	// chunkSize is the stdout read size: 100 ms of 16 kHz mono PCM.
	chunkSize = 3200

	// probeWindow is how long OpenMicrophone/OpenCamera wait for the first
	// chunk before declaring the device usable. Commands that exit inside
	// the window are inspected for permission and capability failures.
	probeWindow = 750 * time.Millisecond

	defaultCameraMIME = "video/webm"
)

// Compile-time interface assertions.
var (
	_ media.Devices = (*Devices)(nil)
	_ media.Player  = (*Player)(nil)
)

// DefaultMicrophone captures raw S16LE PCM with ALSA's arecord.
var DefaultMicrophone = []string{"arecord", "-q", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}", "-t", "raw"}

// DefaultCamera captures V4L2 video plus the default ALSA microphone and
// muxes it to WebM on stdout.
var DefaultCamera = []string{
	"ffmpeg", "-loglevel", "error",
	"-f", "v4l2", "-video_size", "{width}x{height}", "-i", "/dev/video0",
	"-f", "alsa", "-i", "default",
	"-c:v", "libvpx", "-deadline", "realtime", "-c:a", "libopus",
	"-f", "webm", "-",
}

// DefaultPlayer plays a URL headless with ffplay.
var DefaultPlayer = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error", "{url}"}

// Config holds the command templates.
type Config struct {
	Microphone []string
	Camera     []string

	// CameraMIMEType is the container the camera command writes.
	// Defaults to "video/webm".
	CameraMIMEType string
}

// Devices spawns one process per opened stream.
type Devices struct {
	cfg Config
}

// New returns Devices using cfg, with defaults for empty templates.
func New(cfg Config) *Devices {
	if len(cfg.Microphone) == 0 {
		cfg.Microphone = DefaultMicrophone
	}
	if len(cfg.Camera) == 0 {
		cfg.Camera = DefaultCamera
	}
	if cfg.CameraMIMEType == "" {
		cfg.CameraMIMEType = defaultCameraMIME
	}
	return &Devices{cfg: cfg}
}

// OpenMicrophone implements [media.Devices].
func (d *Devices) OpenMicrophone(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	settings := media.Settings{Kind: media.KindAudio, SampleRate: c.SampleRate, Channels: c.Channels}
	return start(ctx, expand(d.cfg.Microphone, c, ""), settings)
}

// OpenCamera implements [media.Devices].
func (d *Devices) OpenCamera(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 640, 480
	}
	settings := media.Settings{Kind: media.KindVideo, Width: c.Width, Height: c.Height, MIMEType: d.cfg.CameraMIMEType}
	return start(ctx, expand(d.cfg.Camera, c, ""), settings)
}

// expand substitutes placeholders in a command template.
func expand(tmpl []string, c media.Constraints, url string) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(c.SampleRate),
		"{channels}", strconv.Itoa(c.Channels),
		"{width}", strconv.Itoa(c.Width),
		"{height}", strconv.Itoa(c.Height),
		"{url}", url,
	)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

// ---- stream -----------------------------------------------------------------

// stream is a running capture process. The read loop owns stdout and the
// frames channel; Close kills the process and waits for the loop to exit.
type stream struct {
	cmd      *exec.Cmd
	settings media.Settings
	frames   chan media.Frame
	stderr   *lockedBuffer

	done   chan struct{} // closed when the read loop exits
	once   sync.Once
	mu     sync.Mutex
	active bool
}

func start(ctx context.Context, argv []string, settings media.Settings) (*stream, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("execdev: empty command: %w", media.ErrNoDevice)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execdev: %w", err)
	}

	// The process outlives ctx: ctx only bounds the open attempt.
	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("execdev: stdout pipe: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("execdev: %s: %w", argv[0], media.ErrNoDevice)
		}
		return nil, fmt.Errorf("execdev: start %s: %w", argv[0], err)
	}

	s := &stream{
		cmd:      cmd,
		settings: settings,
		frames:   make(chan media.Frame, 64),
		stderr:   stderr,
		done:     make(chan struct{}),
		active:   true,
	}
	first := make(chan struct{})
	go s.readLoop(stdout, first)

	timer := time.NewTimer(probeWindow)
	defer timer.Stop()
	select {
	case <-first:
		return s, nil
	case <-timer.C:
		return s, nil
	case <-s.done:
		select {
		case <-first:
			// Short-lived command that still produced data.
			return s, nil
		default:
		}
		err := classify(argv[0], s.stderr.String())
		_ = s.Close()
		return nil, err
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("execdev: %w", ctx.Err())
	}
}

func (s *stream) readLoop(stdout io.Reader, first chan struct{}) {
	defer close(s.done)
	defer close(s.frames)
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	began := time.Now()
	var signalled bool
	for {
		buf := make([]byte, chunkSize)
		n, err := stdout.Read(buf)
		if n > 0 {
			if !signalled {
				close(first)
				signalled = true
			}
			s.frames <- media.Frame{Data: buf[:n], Timestamp: time.Since(began)}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("execdev: read ended", "err", err)
			}
			_ = s.cmd.Wait()
			return
		}
	}
}

func (s *stream) Frames() <-chan media.Frame { return s.frames }

func (s *stream) Settings() media.Settings { return s.settings }

func (s *stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close kills the process and drains the frame channel so the read loop can
// exit. Safe to call more than once.
func (s *stream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		go func() {
			for range s.frames {
			}
		}()
		<-s.done
	})
	return nil
}

// classify maps a failed capture command's stderr to a media sentinel.
func classify(name, stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "operation not permitted"):
		return fmt.Errorf("execdev: %s: %w", name, media.ErrPermissionDenied)
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "invalid argument"):
		return fmt.Errorf("execdev: %s: %w", name, media.ErrUnsupported)
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("execdev: %s: %w", name, media.ErrNoDevice)
	default:
		return fmt.Errorf("execdev: %s exited: %s", name, strings.TrimSpace(stderr))
	}
}

// lockedBuffer is a goroutine-safe stderr sink.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ---- player -----------------------------------------------------------------

// Player plays URLs by running a command template per call.
type Player struct {
	argv []string
}

// NewPlayer returns a Player for the given template ([DefaultPlayer] if empty).
func NewPlayer(argv []string) *Player {
	if len(argv) == 0 {
		argv = DefaultPlayer
	}
	return &Player{argv: argv}
}

// Play implements [media.Player]. It blocks until the command exits.
func (p *Player) Play(ctx context.Context, url string) error {
	argv := expand(p.argv, media.Constraints{}, url)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("execdev: play %s: %w (%s)", url, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
