// Package interview drives one spoken interview session end to end.
//
// A [Machine] owns the single [State] value and reacts to one event at a
// time: UI commands, backend replies, playback completion, capture
// notifications and timers all arrive on one channel and are processed by
// [Machine.Run] in order. Backend calls, device acquisition and playback run
// on goroutines and post their result back as an event tagged with the
// transition epoch they were issued in; a result whose epoch is stale is
// dropped, which is how superseded work is cancelled.
//
// Observers read the UI-visible state with [Machine.Snapshot] or receive
// every change through [Machine.Subscribe].
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/internal/capture"
	"github.com/MrWong99/fieldvoice/internal/observe"
	"github.com/MrWong99/fieldvoice/pkg/media"
)

var (
	// ErrInvalidCommand is returned for malformed commands (unknown type,
	// empty text, unsupported language).
	ErrInvalidCommand = errors.New("interview: invalid command")

	// ErrNotRunning is returned by [Machine.Do] once the machine has stopped.
	ErrNotRunning = errors.New("interview: machine not running")

	// ErrAlreadyRunning is returned by a second call to [Machine.Run].
	ErrAlreadyRunning = errors.New("interview: machine already running")

	// ErrNoArchive is returned by recording_save when no archive is
	// configured.
	ErrNoArchive = errors.New("interview: no archive configured")
)

// DefaultAutoRecordDelay is the pause between entering listening and the
// automatic start of the answer recording.
const DefaultAutoRecordDelay = 800 * time.Millisecond

// eventBuffer bounds the event channel. Capture notifications that find it
// full are delivered from a goroutine instead.
const eventBuffer = 256

// Config holds the machine's collaborators and interview policy.
type Config struct {
	API     backend.API
	Devices media.Devices

	// Player plays greeting and reply audio. Nil skips playback.
	Player media.Player

	// Archive stores the full-session recording on recording_save. Nil
	// disables saving.
	Archive capture.Archiver

	// Languages offered on the language screen as BCP-47 tags. Default: en.
	Languages []string
	// DefaultLanguage is preselected. Default: the first of Languages.
	DefaultLanguage string

	AutoRecord bool
	// AutoRecordDelay defaults to [DefaultAutoRecordDelay].
	AutoRecordDelay time.Duration
	// MaxAnswerDuration stops an answer recording once reached. Zero
	// disables the cap.
	MaxAnswerDuration time.Duration

	// Version is reported in the device info sent with the start call.
	Version          string
	CodecPreferences []string
	Constraints      media.Constraints

	Clock   capture.Clock
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Machine is the interview state machine. Create with [New], drive with
// [Machine.Run] and [Machine.Do].
type Machine struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	turn    *capture.AudioCapture
	session *capture.FullSession
	video   *capture.Video

	events  chan event
	quit    chan struct{}
	done    chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup

	// Everything below is owned by the Run goroutine.
	ctx          context.Context
	state        State
	epoch        uint64
	sess         backend.Session
	language     string
	messages     []Message
	question     *backend.Question
	autoRecord   bool
	textFallback bool
	fallback     FallbackReason
	notice       string
	errMsg       string
	uploadPrompt bool
	// sessionSaved marks the held full-session recording as already archived.
	sessionSaved bool
	playing      bool
	playCancel   context.CancelFunc
	autoTimer    *time.Timer
	videoLoading bool
	clipAtLimit  bool
	left         bool
	version      uint64

	mu       sync.RWMutex
	snap     Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
	retained []*capture.Recording
}

// New validates cfg and returns a machine in [StateLoading].
func New(cfg Config) (*Machine, error) {
	if cfg.API == nil {
		return nil, errors.New("interview: API is required")
	}
	if cfg.Devices == nil {
		return nil, errors.New("interview: Devices is required")
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	langs := make([]string, 0, len(cfg.Languages))
	for _, l := range cfg.Languages {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("interview: language %q: %w", l, err)
		}
		langs = append(langs, tag.String())
	}
	cfg.Languages = langs
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = langs[0]
	}
	if cfg.AutoRecordDelay <= 0 {
		cfg.AutoRecordDelay = DefaultAutoRecordDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = capture.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Constraints == (media.Constraints{}) {
		cfg.Constraints = media.Constraints{SampleRate: 16000, Channels: 1}
	}
	if len(cfg.CodecPreferences) == 0 {
		cfg.CodecPreferences = capture.DefaultCodecPreferences
	}

	m := &Machine{
		cfg:        cfg,
		log:        cfg.Logger.With(slog.String("component", "interview")),
		metrics:    cfg.Metrics,
		events:     make(chan event, eventBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		state:      StateLoading,
		autoRecord: cfg.AutoRecord,
		subs:       make(map[int]chan Snapshot),
	}
	def, err := m.matchLanguage(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("interview: default language: %w", err)
	}
	m.language = def

	opts := []capture.Option{
		capture.WithClock(cfg.Clock),
		capture.WithNotify(m.deliver),
		capture.WithLogger(cfg.Logger),
		capture.WithMetrics(cfg.Metrics),
		capture.WithCodecPreferences(cfg.CodecPreferences),
		capture.WithConstraints(cfg.Constraints),
	}
	m.turn = capture.NewAudioCapture(cfg.Devices, opts...)
	m.session = capture.NewFullSession(cfg.Devices, opts...)
	m.video = capture.NewVideo(cfg.Devices, cfg.API, opts...)

	m.publish()
	return m, nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

type event interface{ isEvent() }

type command struct {
	cmd   Command
	reply chan error
}

type captured struct{ ev capture.Event }

// result applies the outcome of asynchronous work on the loop. Guarded
// results are dropped when a transition happened after the work was issued.
type result struct {
	op      string
	epoch   uint64
	guarded bool
	apply   func()
}

func (command) isEvent()  {}
func (captured) isEvent() {}
func (result) isEvent()   {}

// post enqueues ev unless the loop has exited.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}

// deliver is the capture controllers' notification sink. It must not block
// because controllers call it while the loop may be waiting on them.
func (m *Machine) deliver(ev capture.Event) {
	select {
	case m.events <- captured{ev: ev}:
	default:
		go m.post(captured{ev: ev})
	}
}

// async runs work off the loop. Its result is applied on the loop; guarded
// results only if no transition happened in the meantime. Expiry is applied
// in every case.
func (m *Machine) async(op string, guarded bool, work func(ctx context.Context) (func(), error)) {
	epoch := m.epoch
	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		apply, err := work(ctx)
		switch {
		case backend.IsExpired(err):
			m.post(result{op: op, apply: func() {
				m.expire()
				if m.state != StateExpired && apply != nil {
					apply()
				}
			}})
		case apply != nil:
			m.post(result{op: op, epoch: epoch, guarded: guarded, apply: apply})
		}
	}()
}

// ─── Loop ────────────────────────────────────────────────────────────────────

// Run loads the session and processes events until ctx is cancelled or the
// user leaves. On exit every device handle is released and a running
// full-session recording or video clip is finalized and kept for
// [Machine.Retained]. Run returns nil in both cases.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	m.ctx = ctx
	m.log.Info("interview loading")
	m.load()

loop:
	for {
		select {
		case <-ctx.Done():
			m.log.Info("interview context done, leaving")
			break loop
		case ev := <-m.events:
			m.handle(ev)
			m.publish()
			if m.left {
				m.log.Info("participant left the interview", "state", m.state)
				break loop
			}
		}
	}

	m.cancelAutoRecord()
	m.stopPlayback()
	m.retain()
	cancel()
	close(m.quit)
	m.wg.Wait()
	if err := m.releaseDevices(); err != nil {
		m.log.Warn("release devices", "err", err)
	}
	m.publish()
	return nil
}

// Done is closed when Run has returned.
func (m *Machine) Done() <-chan struct{} { return m.done }

func (m *Machine) handle(ev event) {
	switch e := ev.(type) {
	case command:
		e.reply <- m.apply(e.cmd)
	case captured:
		m.onCapture(e.ev)
	case result:
		if e.guarded && e.epoch != m.epoch {
			m.log.Debug("dropping stale result", "op", e.op)
			return
		}
		e.apply()
	}
}

// Do submits cmd to the loop and waits until it has been applied. Errors
// report commands that are malformed or not permitted in the current state;
// the outcome of backend calls a command starts arrives later in snapshots.
func (m *Machine) Do(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	select {
	case m.events <- command{cmd: cmd, reply: reply}:
	case <-m.quit:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-m.quit:
		select {
		case err := <-reply:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition is the only place the state changes. Every transition cancels
// the auto-record timer and playback and starts a new epoch.
func (m *Machine) transition(to State) error {
	from := m.state
	if !CanTransition(from, to) {
		m.log.Warn("rejected transition", "from", from, "to", to)
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	m.cancelAutoRecord()
	m.stopPlayback()
	m.epoch++
	m.state = to
	m.metrics.RecordTransition(m.ctx, string(from), string(to))
	m.log.Info("state transition", "from", from, "to", to)
	return nil
}

func (m *Machine) require(op CommandType, states ...State) error {
	if slices.Contains(states, m.state) {
		return nil
	}
	return fmt.Errorf("%w: %s not allowed in %s", ErrInvalidTransition, op, m.state)
}

// ─── Timers and playback ─────────────────────────────────────────────────────

func (m *Machine) cancelAutoRecord() {
	if m.autoTimer != nil {
		m.autoTimer.Stop()
		m.autoTimer = nil
	}
}

// armAutoRecord schedules the answer recording when a turn begins in
// listening with auto-record on and the text input hidden.
func (m *Machine) armAutoRecord() {
	m.cancelAutoRecord()
	if !m.autoRecord || m.textFallback || m.state != StateListening {
		return
	}
	if m.turn.State().Status == capture.StatusRecording {
		return
	}
	epoch := m.epoch
	m.autoTimer = time.AfterFunc(m.cfg.AutoRecordDelay, func() {
		m.post(result{op: "auto_record", epoch: epoch, guarded: true, apply: m.autoStart})
	})
}

func (m *Machine) autoStart() {
	m.autoTimer = nil
	if m.state != StateListening || !m.autoRecord || m.textFallback {
		return
	}
	if err := m.beginRecording(); err != nil {
		m.log.Warn("auto-record failed", "err", err)
	}
}

func (m *Machine) canPlay(url string) bool {
	return url != "" && m.cfg.Player != nil
}

func (m *Machine) play(url string) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.playCancel = cancel
	m.playing = true
	epoch := m.epoch
	player := m.cfg.Player
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := player.Play(ctx, url)
		m.post(result{op: "playback", epoch: epoch, guarded: true, apply: func() { m.onPlayed(err) }})
	}()
}

func (m *Machine) stopPlayback() {
	if m.playCancel != nil {
		m.playCancel()
		m.playCancel = nil
	}
	m.playing = false
}

// onPlayed treats a failed playback like a finished one.
func (m *Machine) onPlayed(err error) {
	m.stopPlayback()
	if err != nil {
		m.log.Info("playback failed, continuing", "err", err)
	}
	if m.state == StateGreeting || m.state == StateSpeaking {
		m.enterListening()
	}
}

// ─── Devices ─────────────────────────────────────────────────────────────────

// retain finalizes the recordings that outlive the loop.
func (m *Machine) retain() {
	m.stopSessionRecording()
	if _, err := m.video.StopRecording(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		m.log.Warn("stop video clip", "err", err)
	}
	var kept []*capture.Recording
	if r := m.session.Recording(); r != nil && !m.sessionSaved {
		kept = append(kept, r)
	}
	if r := m.video.Clip(); r != nil {
		kept = append(kept, r)
	}
	m.mu.Lock()
	m.retained = kept
	m.mu.Unlock()
}

func (m *Machine) releaseDevices() error {
	var g errgroup.Group
	g.Go(m.turn.Close)
	g.Go(m.session.Close)
	g.Go(m.video.Close)
	return g.Wait()
}

// Retained returns the recordings still held when Run returned: the
// full-session recording and a video clip that was never uploaded.
func (m *Machine) Retained() []*capture.Recording {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.retained)
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

func (m *Machine) publish() {
	m.version++
	notice := m.notice
	if notice == "" {
		notice = m.fallback.Notice()
	}
	snap := Snapshot{
		State:            m.state,
		Session:          m.sess,
		SelectedLanguage: m.language,
		Languages:        m.cfg.Languages,
		Messages:         m.messages,
		CurrentQuestion:  m.question,
		AutoRecord:       m.autoRecord,
		TextFallback:     m.textFallback,
		FallbackReason:   m.fallback,
		Playing:          m.playing,
		Notice:           notice,
		Error:            m.errMsg,
		Turn:             m.turn.State(),
		FullSession:      m.session.State(),
		UploadPrompt:     m.uploadPrompt,
		Video:            m.video.State(),
		Version:          m.version,
	}.clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	for _, ch := range m.subs {
		offer(ch, snap.clone())
	}
}

// offer replaces whatever the subscriber has not read yet.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Snapshot returns a deep copy of the current UI-visible state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.clone()
}

// Subscribe returns a channel that receives the current snapshot and then
// every new one. Slow readers only see the latest. Call the returned func to
// unsubscribe.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snap.clone()
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (s Snapshot) clone() Snapshot {
	s.Languages = slices.Clone(s.Languages)
	s.Messages = slices.Clone(s.Messages)
	s.CurrentQuestion = cloneQuestion(s.CurrentQuestion)
	s.Session.CurrentQuestion = cloneQuestion(s.Session.CurrentQuestion)
	if s.Session.ExpiresAt != nil {
		t := *s.Session.ExpiresAt
		s.Session.ExpiresAt = &t
	}
	return s
}

func cloneQuestion(q *backend.Question) *backend.Question {
	if q == nil {
		return nil
	}
	c := *q
	c.Options = slices.Clone(q.Options)
	return &c
}
