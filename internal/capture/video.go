package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/pkg/media"
)

// VideoPhase is the video controller's own state, nested inside the
// interview.
type VideoPhase string

const (
	PhaseLoadingSettings   VideoPhase = "loading_settings"
	PhaseConsentDialog     VideoPhase = "consent_dialog"
	PhasePermissionRequest VideoPhase = "permission_request"
	PhaseIdle              VideoPhase = "idle"
	PhaseRecording         VideoPhase = "recording"
	PhasePaused            VideoPhase = "paused"
	PhaseUploading         VideoPhase = "uploading"
	PhaseDisabled          VideoPhase = "disabled"
)

// WarnWindowSeconds is how close to the duration cap the remaining-time
// warning appears.
const WarnWindowSeconds = 30

// FallbackWidth and FallbackHeight are used when the camera rejects the
// preferred resolution.
const (
	FallbackWidth  = 640
	FallbackHeight = 480
)

// ErrVideoUnavailable is returned by recording operations while the
// controller is not in a phase that allows them.
var ErrVideoUnavailable = errors.New("capture: video not available in this phase")

// ErrClipPending is returned by [Video.StartRecording] while a finished clip
// still awaits upload or discard.
var ErrClipPending = errors.New("capture: finished clip awaits upload or discard")

// VideoBackend is the backend surface the video controller needs.
type VideoBackend interface {
	VideoSettings(ctx context.Context) (*backend.VideoSettings, error)
	VideoConsent(ctx context.Context, given bool) error
	UploadVideo(ctx context.Context, v backend.VideoUpload) (*backend.VideoUploadResult, error)
}

// VideoState is the observable state of the video controller.
type VideoState struct {
	Phase     VideoPhase            `json:"phase"`
	Settings  backend.VideoSettings `json:"settings"`
	Recording RecordingState        `json:"recording"`
	Width     int                   `json:"width,omitempty"`
	Height    int                   `json:"height,omitempty"`
	// Remaining is the number of seconds left before the cap; Warning is
	// true once it is within [WarnWindowSeconds].
	Remaining int `json:"remaining"`
	Warning   bool `json:"warning"`
	// Pending is true while a finished clip awaits upload or discard.
	Pending     bool       `json:"pending"`
	LastVideoID backend.ID `json:"last_video_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	// LocalConsent is true when consent was granted but the backend could
	// not record it.
	LocalConsent bool `json:"local_consent,omitempty"`
}

// Video is the consent-gated camera controller. Failures along the way
// (settings, consent, camera) degrade to a safe phase. Only an expired
// session is reported back, wrapping [backend.ErrExpired].
//
// All methods are safe for concurrent use.
type Video struct {
	devices media.Devices
	api     VideoBackend
	opts    *options
	rec     *recorder

	mu           sync.Mutex
	phase        VideoPhase
	settings     backend.VideoSettings
	stream       media.Stream
	pumpDone     chan struct{}
	width        int
	height       int
	questionID   backend.ID
	warned       bool
	lastVideoID  backend.ID
	lastErr      string
	localConsent bool
}

// NewVideo returns a controller in [PhaseLoadingSettings].
func NewVideo(devices media.Devices, api VideoBackend, opts ...Option) *Video {
	o := buildOptions(opts)
	v := &Video{
		devices:  devices,
		api:      api,
		opts:     o,
		rec:      newRecorder(SourceVideo, o),
		phase:    PhaseLoadingSettings,
		settings: backend.DefaultVideoSettings(),
	}
	v.rec.onTick = v.checkLimit
	v.rec.label = v.tag
	v.rec.onStop = v.stopped
	return v
}

func (v *Video) setPhase(p VideoPhase) {
	v.mu.Lock()
	changed := v.phase != p
	v.phase = p
	v.mu.Unlock()
	if changed {
		v.opts.log.Debug("video phase", "phase", p)
		v.rec.emit(Event{Kind: EventPhase, Phase: p})
	}
}

// Phase returns the current phase.
func (v *Video) Phase() VideoPhase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// Settings returns the effective policy.
func (v *Video) Settings() backend.VideoSettings {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settings
}

// Load fetches the policy, falling back to [backend.DefaultVideoSettings]
// when the backend cannot supply one, then moves to the consent dialog or
// straight to the camera request. sessionEnabled is the session's own video
// flag; false disables video regardless of policy. An expired session
// disables video and is returned.
func (v *Video) Load(ctx context.Context, sessionEnabled bool) error {
	if !sessionEnabled {
		v.setPhase(PhaseDisabled)
		return nil
	}
	v.setPhase(PhaseLoadingSettings)

	settings := backend.DefaultVideoSettings()
	got, err := v.api.VideoSettings(ctx)
	switch {
	case backend.IsExpired(err):
		v.setPhase(PhaseDisabled)
		return fmt.Errorf("capture: video settings: %w", err)
	case err != nil:
		v.opts.log.Info("video settings unavailable, using defaults", "err", err)
	case got != nil:
		settings = got.Normalize()
	}

	v.mu.Lock()
	v.settings = settings
	v.mu.Unlock()

	if !settings.Enabled {
		v.setPhase(PhaseDisabled)
		return nil
	}
	if settings.RequireConsent && !settings.ConsentGiven {
		v.setPhase(PhaseConsentDialog)
		return nil
	}
	v.requestCamera(ctx)
	return nil
}

// Consent records the participant's decision. Declining disables video. If
// the backend cannot record a granted consent, consent is kept locally and
// the camera is still requested, unless the session has expired: then video
// is disabled and the error returned.
func (v *Video) Consent(ctx context.Context, granted bool) error {
	if v.Phase() != PhaseConsentDialog {
		return ErrVideoUnavailable
	}
	err := v.api.VideoConsent(ctx, granted)
	if backend.IsExpired(err) {
		v.setPhase(PhaseDisabled)
		return fmt.Errorf("capture: video consent: %w", err)
	}
	if !granted {
		if err != nil {
			v.opts.log.Info("record declined consent", "err", err)
		}
		v.setPhase(PhaseDisabled)
		return nil
	}
	if err != nil {
		v.opts.log.Warn("consent endpoint failed, keeping local consent", "err", err)
		v.mu.Lock()
		v.localConsent = true
		v.mu.Unlock()
	}
	v.mu.Lock()
	v.settings.ConsentGiven = true
	v.mu.Unlock()
	v.requestCamera(ctx)
	return nil
}

// requestCamera opens camera and microphone at the preferred resolution,
// retrying once at the fallback resolution if the preferred one is
// unsupported. Any other failure disables video.
func (v *Video) requestCamera(ctx context.Context) {
	v.setPhase(PhasePermissionRequest)

	settings := v.Settings()
	c := media.Constraints{
		Width:      settings.Width,
		Height:     settings.Height,
		WithAudio:  true,
		SampleRate: v.opts.constraints.SampleRate,
		Channels:   v.opts.constraints.Channels,
	}
	s, err := v.devices.OpenCamera(ctx, c)
	if errors.Is(err, media.ErrUnsupported) {
		v.opts.log.Info("preferred resolution unsupported, falling back",
			"width", c.Width, "height", c.Height)
		c.Width, c.Height = FallbackWidth, FallbackHeight
		s, err = v.devices.OpenCamera(ctx, c)
	}
	if err != nil {
		v.opts.log.Warn("camera unavailable, video disabled", "err", err)
		v.mu.Lock()
		v.lastErr = err.Error()
		v.mu.Unlock()
		v.setPhase(PhaseDisabled)
		return
	}
	v.opts.metrics.CaptureOpened(ctx, "camera")

	st := s.Settings()
	done := make(chan struct{})
	v.mu.Lock()
	v.stream, v.pumpDone = s, done
	v.width, v.height = c.Width, c.Height
	if st.Width > 0 && st.Height > 0 {
		v.width, v.height = st.Width, st.Height
	}
	v.mu.Unlock()
	go v.pump(s, done)
	v.setPhase(PhaseIdle)
}

func (v *Video) pump(s media.Stream, done chan struct{}) {
	defer close(done)
	for f := range s.Frames() {
		v.rec.write(f.Data)
	}
	v.opts.metrics.CaptureClosed(context.Background(), "camera")
}

// StartRecording begins a clip. In per-question mode questionID tags it.
func (v *Video) StartRecording(questionID backend.ID) error {
	if v.rec.finished() != nil {
		return ErrClipPending
	}
	v.mu.Lock()
	if v.phase != PhaseIdle || v.stream == nil {
		v.mu.Unlock()
		return ErrVideoUnavailable
	}
	s := v.stream
	v.questionID = ""
	if v.settings.Mode == backend.ModePerQuestion {
		v.questionID = questionID
	}
	v.warned = false
	v.lastErr = ""
	v.mu.Unlock()

	settings := s.Settings()
	if settings.MIMEType == "" {
		settings.MIMEType = "video/webm"
	}
	v.rec.start(settings)
	v.setPhase(PhaseRecording)
	return nil
}

// Pause and Resume suspend and continue the clip.
func (v *Video) Pause() bool {
	if v.rec.pause() {
		v.setPhase(PhasePaused)
		return true
	}
	return false
}

func (v *Video) Resume() bool {
	if v.rec.resume() {
		v.setPhase(PhaseRecording)
		return true
	}
	return false
}

// StopRecording finalizes the clip and holds it for [Video.Upload].
func (v *Video) StopRecording() (*Recording, error) {
	return v.rec.stop()
}

func (v *Video) tag(rec *Recording) {
	v.mu.Lock()
	rec.QuestionID = v.questionID
	v.mu.Unlock()
}

// stopped returns to idle before the completion event goes out, so a
// listener may upload right away.
func (v *Video) stopped() { v.setPhase(PhaseIdle) }

// checkLimit runs after every counted tick. The clip stops itself on the
// tick that reaches the cap.
func (v *Video) checkLimit(elapsed int) {
	v.mu.Lock()
	limit := v.settings.MaxDurationSeconds
	warn := false
	if limit > 0 && limit-elapsed <= WarnWindowSeconds && elapsed < limit && !v.warned {
		v.warned = true
		warn = true
	}
	v.mu.Unlock()
	if limit <= 0 {
		return
	}

	if warn {
		v.rec.emit(Event{Kind: EventLimitWarning, Elapsed: elapsed, Remaining: limit - elapsed})
	}
	if elapsed >= limit {
		v.opts.log.Info("video reached max duration, stopping", "max_seconds", limit)
		v.rec.emit(Event{Kind: EventLimitReached, Elapsed: elapsed})
		if _, err := v.StopRecording(); err != nil && !errors.Is(err, ErrNotRecording) {
			v.opts.log.Warn("auto-stop video", "err", err)
		}
	}
}

// Upload sends the held clip with its metadata. On success the local buffer
// is discarded and an [EventUploaded] carries the new video id. On failure
// the buffer is kept for a retry and an [EventUploadFailed] is emitted.
func (v *Video) Upload(ctx context.Context) (backend.ID, error) {
	rec := v.rec.finished()
	v.mu.Lock()
	if rec == nil || v.phase != PhaseIdle {
		v.mu.Unlock()
		return "", ErrNoRecording
	}
	mode := v.settings.Mode
	v.mu.Unlock()
	v.setPhase(PhaseUploading)

	res, err := v.api.UploadVideo(ctx, backend.VideoUpload{
		Data:            rec.Data,
		MIMEType:        rec.MIMEType,
		FileName:        rec.FileName(),
		VideoType:       mode,
		DurationSeconds: rec.Duration,
		RecordedAt:      rec.StartedAt,
		QuestionID:      rec.QuestionID,
	})
	if err != nil {
		v.opts.metrics.RecordUploadFailure(ctx, string(SourceVideo))
		v.mu.Lock()
		v.lastErr = err.Error()
		v.mu.Unlock()
		v.setPhase(PhaseIdle)
		v.rec.emit(Event{Kind: EventUploadFailed, Err: err})
		return "", fmt.Errorf("capture: upload video: %w", err)
	}

	v.rec.clearResult(rec)
	v.mu.Lock()
	v.lastVideoID = res.VideoID
	v.lastErr = ""
	v.mu.Unlock()
	v.setPhase(PhaseIdle)
	v.rec.emit(Event{Kind: EventUploaded, ID: res.VideoID})
	return res.VideoID, nil
}

// Clip returns the finished clip awaiting upload, or nil.
func (v *Video) Clip() *Recording { return v.rec.finished() }

// Discard drops the current or held clip.
func (v *Video) Discard() {
	v.rec.discard()
	v.mu.Lock()
	v.questionID = ""
	v.warned = false
	ready := v.stream != nil
	v.mu.Unlock()
	if ready {
		v.setPhase(PhaseIdle)
	}
}

// State returns a snapshot of the controller.
func (v *Video) State() VideoState {
	rs := v.rec.state()
	held := v.rec.finished() != nil
	v.mu.Lock()
	defer v.mu.Unlock()
	st := VideoState{
		Phase:        v.phase,
		Settings:     v.settings,
		Recording:    rs,
		Width:        v.width,
		Height:       v.height,
		Warning:      v.warned && rs.Status != StatusIdle,
		Pending:      held,
		LastVideoID:  v.lastVideoID,
		LastError:    v.lastErr,
		LocalConsent: v.localConsent,
	}
	if limit := v.settings.MaxDurationSeconds; limit > 0 {
		st.Remaining = max(limit-rs.Elapsed, 0)
	}
	return st
}

// Close releases the camera.
func (v *Video) Close() error {
	v.rec.halt()
	v.mu.Lock()
	s, done := v.stream, v.pumpDone
	v.stream, v.pumpDone = nil, nil
	v.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Close()
	<-done
	if v.Phase() != PhaseDisabled {
		v.setPhase(PhaseDisabled)
	}
	return err
}
