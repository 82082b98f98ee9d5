package interview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/internal/capture"
	"github.com/MrWong99/fieldvoice/pkg/media"
)

func (m *Machine) apply(cmd Command) error {
	m.notice = ""
	switch cmd.Type {
	case CmdSelectLanguage:
		return m.selectLanguage(cmd.Language)
	case CmdStart:
		return m.start()
	case CmdStartRecording:
		return m.startRecording()
	case CmdStopRecording:
		return m.stopRecording()
	case CmdPause:
		return m.pause()
	case CmdResume:
		return m.resume()
	case CmdSubmitText:
		return m.submitText(cmd.Text)
	case CmdToggleAutoRecord:
		m.setAutoRecord(cmd.Enabled)
		return nil
	case CmdShowTextInput:
		m.showTextInput(cmd.Enabled)
		return nil
	case CmdRestart:
		return m.restart()
	case CmdLeave:
		m.left = true
		return nil
	case CmdVideoConsent:
		return m.videoConsent(cmd.Enabled)
	case CmdVideoUpload:
		return m.videoUpload()
	case CmdVideoDiscard:
		m.videoDiscard()
		return nil
	case CmdRecordingUpload:
		return m.recordingUpload()
	case CmdRecordingSave:
		return m.recordingSave()
	case CmdRecordingDiscard:
		m.session.Discard()
		m.sessionSaved = false
		m.uploadPrompt = false
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
}

// ─── Load and start ──────────────────────────────────────────────────────────

func (m *Machine) load() {
	m.async("load", true, func(ctx context.Context) (func(), error) {
		sess, err := m.cfg.API.GetSession(ctx)
		return func() { m.onLoaded(sess, err) }, err
	})
}

func (m *Machine) onLoaded(sess *backend.Session, err error) {
	if err != nil {
		m.fail("The interview could not be loaded.", err)
		return
	}
	m.sess = *sess
	m.question = sess.CurrentQuestion

	if sess.Status == backend.StatusCompleted {
		m.disableVideo()
		m.transition(StateCompleted)
		return
	}
	if sess.Expired(m.cfg.Clock.Now()) {
		m.disableVideo()
		m.expire()
		return
	}

	switch sess.Status {
	case backend.StatusInProgress, backend.StatusPaused:
		if sess.Language != "" {
			m.language = sess.Language
		}
		m.transition(StateReady)
	default:
		if l, err := m.matchLanguage(sess.Language); err == nil {
			m.language = l
		}
		m.transition(StateLanguageSelect)
	}

	enabled := sess.VideoEnabled
	m.videoLoading = true
	m.async("video_load", false, func(ctx context.Context) (func(), error) {
		return nil, m.video.Load(ctx, enabled)
	})
}

func (m *Machine) disableVideo() {
	if !m.videoLoading {
		m.video.Load(m.ctx, false)
	}
}

func (m *Machine) matchLanguage(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("%w: language %q: %v", ErrInvalidCommand, code, err)
	}
	if want := tag.String(); slices.Contains(m.cfg.Languages, want) {
		return want, nil
	}
	return "", fmt.Errorf("%w: language %q is not offered", ErrInvalidCommand, code)
}

func (m *Machine) selectLanguage(code string) error {
	if err := m.require(CmdSelectLanguage, StateLanguageSelect); err != nil {
		return err
	}
	l, err := m.matchLanguage(code)
	if err != nil {
		return err
	}
	m.language = l
	m.sess.Language = l
	return m.transition(StateReady)
}

// start acquires the answer microphone (fatal on failure), starts the
// full-session backup on its own handle (best effort) and calls the backend.
func (m *Machine) start() error {
	if err := m.require(CmdStart, StateReady); err != nil {
		return err
	}
	if err := m.transition(StateGreeting); err != nil {
		return err
	}
	req := backend.StartRequest{Language: m.language, DeviceInfo: m.deviceInfo()}
	m.async("start", true, func(ctx context.Context) (func(), error) {
		if err := m.turn.Acquire(ctx); err != nil {
			return func() {
				m.fail("Microphone access is required to take part in the interview.", err)
			}, nil
		}
		sessErr := m.session.Start(ctx)
		resp, err := m.cfg.API.Start(ctx, req)
		return func() { m.onStarted(resp, err, sessErr) }, err
	})
	return nil
}

func (m *Machine) onStarted(resp *backend.StartResponse, err, sessErr error) {
	if sessErr != nil {
		m.log.Warn("full-session recording unavailable, continuing without backup", "err", sessErr)
	}
	if err != nil {
		m.fail("The interview could not be started.", err)
		return
	}
	if resp.SessionInfo != nil {
		m.sess = *resp.SessionInfo
		if m.sess.Language == "" {
			m.sess.Language = m.language
		}
	}
	if m.sess.Status == backend.StatusNotStarted || m.sess.Status == "" {
		m.sess.Status = backend.StatusInProgress
	}
	if resp.NextQuestion != nil {
		m.question = resp.NextQuestion
	}
	m.sess.CurrentQuestion = m.question
	if resp.Greeting != "" {
		m.appendMessage(Message{Role: RoleAssistant, Text: resp.Greeting, AudioURL: resp.GreetingAudioURL})
	}
	if m.canPlay(resp.GreetingAudioURL) {
		m.play(resp.GreetingAudioURL)
		return
	}
	m.enterListening()
}

func (m *Machine) deviceInfo() backend.DeviceInfo {
	info := backend.CurrentDeviceInfo(m.cfg.Version)
	f := media.Format{SampleRate: m.cfg.Constraints.SampleRate, Channels: m.cfg.Constraints.Channels}
	info.AudioMIME = capture.SelectCodec(m.cfg.CodecPreferences, f).ContentType(f)
	switch m.video.Phase() {
	case capture.PhaseIdle, capture.PhaseRecording, capture.PhasePaused, capture.PhaseUploading:
		info.HasCamera = true
	}
	return info
}

// ─── Turns ───────────────────────────────────────────────────────────────────

func (m *Machine) enterListening() {
	if m.transition(StateListening) != nil {
		return
	}
	m.startVideoClip()
	m.armAutoRecord()
}

func (m *Machine) startRecording() error {
	if err := m.require(CmdStartRecording, StateListening); err != nil {
		return err
	}
	m.cancelAutoRecord()
	return m.beginRecording()
}

func (m *Machine) beginRecording() error {
	if m.turn.State().Status == capture.StatusRecording {
		return nil
	}
	if err := m.turn.Start(m.ctx); err != nil {
		m.showFallback(FallbackMicrophone)
		return fmt.Errorf("interview: start recording: %w", err)
	}
	return nil
}

// stopRecording is a no-op when nothing is being recorded.
func (m *Machine) stopRecording() error {
	if err := m.require(CmdStopRecording, StateListening); err != nil {
		return err
	}
	rec, err := m.turn.Stop()
	if errors.Is(err, capture.ErrNotRecording) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("interview: stop recording: %w", err)
	}
	m.turn.Reset()
	m.submitAudio(rec)
	return nil
}

func (m *Machine) submitAudio(rec *capture.Recording) {
	if m.transition(StateProcessing) != nil {
		return
	}
	m.appendMessage(Message{Role: RoleUser, Text: PendingText, Pending: true})
	m.finishQuestionClip()

	upload := backend.AudioUpload{Data: rec.Data, MIMEType: rec.MIMEType, FileName: rec.FileName()}
	m.async("process_audio", true, func(ctx context.Context) (func(), error) {
		reply, err := m.cfg.API.ProcessAudio(ctx, upload)
		return func() { m.onReply(reply, err) }, err
	})
}

func (m *Machine) submitText(text string) error {
	if err := m.require(CmdSubmitText, StateListening); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty answer", ErrInvalidCommand)
	}
	m.turn.Reset()
	if err := m.transition(StateProcessing); err != nil {
		return err
	}
	// Pending until the backend accepts it.
	m.appendMessage(Message{Role: RoleUser, Text: text, Pending: true})
	m.finishQuestionClip()

	m.async("process_text", true, func(ctx context.Context) (func(), error) {
		reply, err := m.cfg.API.ProcessText(ctx, text)
		return func() { m.onReply(reply, err) }, err
	})
	return nil
}

// onReply interprets a turn reply. Progress is taken verbatim from the
// backend.
func (m *Machine) onReply(reply *backend.TurnReply, err error) {
	if err != nil {
		m.dropPending()
		reason := FallbackBackend
		if backend.IsTransport(err) {
			reason = FallbackNetwork
		}
		m.log.Warn("turn processing failed", "reason", reason, "err", err)
		m.showFallback(reason)
		m.enterListening()
		return
	}

	switch reply.Kind() {
	case backend.ReplyCompleted:
		m.resolvePending(reply.Transcription)
		m.appendMessage(Message{Role: RoleAssistant, Text: reply.Message, AudioURL: reply.AudioURL})
		m.complete(reply.AudioURL)

	case backend.ReplyTranscriptionFailed:
		m.dropPending()
		m.showFallback(FallbackTranscriptionFailed)
		m.enterListening()

	default:
		m.resolvePending(reply.Transcription)
		if reply.AIMessage != "" {
			m.appendMessage(Message{Role: RoleAssistant, Text: reply.AIMessage, AudioURL: reply.AIAudioURL})
		}
		if reply.Progress != nil {
			m.sess.ApplyProgress(*reply.Progress)
		}
		if reply.NextQuestion != nil {
			m.question = reply.NextQuestion
			m.sess.CurrentQuestion = reply.NextQuestion
		}
		m.hideFallback()
		if m.canPlay(reply.AIAudioURL) {
			if m.transition(StateSpeaking) == nil {
				m.play(reply.AIAudioURL)
			}
			return
		}
		m.enterListening()
	}
}

func (m *Machine) showFallback(reason FallbackReason) {
	m.textFallback = true
	m.fallback = reason
	m.cancelAutoRecord()
	m.metrics.RecordFallback(m.ctx, string(reason))
}

// hideFallback closes the text input after a successful turn unless the
// participant opened it.
func (m *Machine) hideFallback() {
	if m.fallback == FallbackManual {
		return
	}
	m.textFallback = false
	m.fallback = FallbackNone
}

func (m *Machine) setAutoRecord(enabled bool) {
	m.autoRecord = enabled
	if enabled {
		m.armAutoRecord()
		return
	}
	m.cancelAutoRecord()
}

func (m *Machine) showTextInput(show bool) {
	if show {
		m.textFallback = true
		m.fallback = FallbackManual
		m.cancelAutoRecord()
		return
	}
	m.textFallback = false
	m.fallback = FallbackNone
	m.armAutoRecord()
}

// ─── Pause, resume, restart ──────────────────────────────────────────────────

// pause drops the answer in progress. The full-session recording keeps
// running.
func (m *Machine) pause() error {
	if err := m.require(CmdPause, StateListening); err != nil {
		return err
	}
	m.turn.Reset()
	if err := m.transition(StatePaused); err != nil {
		return err
	}
	m.video.Pause()
	m.async("pause", true, func(ctx context.Context) (func(), error) {
		_, err := m.cfg.API.Pause(ctx)
		if err == nil {
			return nil, nil
		}
		return func() {
			m.log.Warn("backend pause failed", "err", err)
			m.notice = "The pause could not be saved on the server."
		}, err
	})
	return nil
}

func (m *Machine) resume() error {
	if err := m.require(CmdResume, StatePaused); err != nil {
		return err
	}
	m.async("resume", true, func(ctx context.Context) (func(), error) {
		reply, err := m.cfg.API.Resume(ctx)
		return func() { m.onResumed(reply, err) }, err
	})
	return nil
}

// onResumed stays paused when the backend refused so the participant can
// retry.
func (m *Machine) onResumed(reply *backend.PauseReply, err error) {
	if err != nil {
		m.log.Warn("backend resume failed", "err", err)
		m.notice = "The interview could not be resumed. Please try again."
		return
	}
	if reply != nil && reply.CurrentQuestion != nil {
		m.question = reply.CurrentQuestion
		m.sess.CurrentQuestion = reply.CurrentQuestion
	}
	if m.transition(StateListening) != nil {
		return
	}
	if !m.video.Resume() {
		m.startVideoClip()
	}
	m.armAutoRecord()
}

// restart wipes the conversation and returns to language selection. The
// full-session recording and any video clip of the abandoned run are
// discarded.
func (m *Machine) restart() error {
	if err := m.require(CmdRestart, StateListening, StatePaused); err != nil {
		return err
	}
	m.turn.Reset()
	if err := m.transition(StateLanguageSelect); err != nil {
		return err
	}
	m.messages = nil
	m.question = nil
	m.sess.CurrentQuestion = nil
	m.sess.AnsweredQuestions = 0
	m.sess.ProgressPercentage = 0
	m.sess.Status = backend.StatusNotStarted
	m.textFallback = false
	m.fallback = FallbackNone
	m.uploadPrompt = false

	if _, err := m.session.Stop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		m.log.Warn("stop full-session recording", "err", err)
	}
	m.session.Discard()
	m.sessionSaved = false
	if _, err := m.video.StopRecording(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		m.log.Warn("stop video clip", "err", err)
	}
	m.video.Discard()

	m.async("reset", false, func(ctx context.Context) (func(), error) {
		err := m.cfg.API.Reset(ctx)
		if err == nil {
			return nil, nil
		}
		return func() {
			m.log.Warn("backend reset failed", "err", err)
			m.notice = "The server could not reset the interview."
		}, err
	})
	return nil
}

// ─── Terminal states ─────────────────────────────────────────────────────────

func (m *Machine) complete(audioURL string) {
	if m.transition(StateCompleted) != nil {
		return
	}
	m.sess.Status = backend.StatusCompleted
	m.finish()
	if m.canPlay(audioURL) {
		m.play(audioURL)
	}
}

// expire never leaves completed.
func (m *Machine) expire() {
	if m.state == StateExpired || m.state == StateCompleted {
		return
	}
	if m.transition(StateExpired) != nil {
		return
	}
	m.notice = "This interview link has expired."
	m.finish()
}

// fail ends the interview with a user-facing message. Expiry takes
// precedence.
func (m *Machine) fail(msg string, err error) {
	if backend.IsExpired(err) {
		m.expire()
		return
	}
	if m.state.Terminal() || m.state == StateError {
		return
	}
	if m.transition(StateError) != nil {
		return
	}
	m.errMsg = msg
	m.log.Error("interview failed", "err", err)
	m.finish()
}

// finish winds capture down when the interview ends: the answer microphone
// is released, the full-session recording is finalized and held for the
// upload prompt, and a running video clip is stopped. On completion the clip
// is uploaded. Video that never started loading is disabled.
func (m *Machine) finish() {
	m.disableVideo()
	if err := m.turn.Close(); err != nil {
		m.log.Warn("release answer microphone", "err", err)
	}
	m.stopSessionRecording()
	if _, err := m.video.StopRecording(); err == nil && m.state == StateCompleted {
		m.uploadClip()
	}
}

func (m *Machine) stopSessionRecording() {
	switch m.session.State().Status {
	case capture.StatusRecording, capture.StatusPaused:
		if _, err := m.session.Stop(); err != nil {
			m.log.Warn("stop full-session recording", "err", err)
		}
	}
	m.uploadPrompt = m.session.Recording() != nil
}

// ─── Video ───────────────────────────────────────────────────────────────────

// startVideoClip starts a clip for the current question when the camera is
// ready. In full-interview mode the one clip keeps running across turns.
func (m *Machine) startVideoClip() {
	if m.video.Phase() != capture.PhaseIdle {
		return
	}
	var qid backend.ID
	if m.question != nil {
		qid = m.question.ID
	}
	if err := m.video.StartRecording(qid); err != nil {
		m.log.Debug("video clip not started", "err", err)
	}
}

func (m *Machine) finishQuestionClip() {
	if m.video.Settings().Mode != backend.ModePerQuestion {
		return
	}
	if _, err := m.video.StopRecording(); err != nil {
		return
	}
	m.uploadClip()
}

func (m *Machine) uploadClip() {
	m.async("video_upload", false, func(ctx context.Context) (func(), error) {
		id, err := m.video.Upload(ctx)
		return func() {
			if err != nil {
				m.notice = "The video could not be uploaded. Retry or discard it."
				return
			}
			m.log.Info("video uploaded", "video_id", id)
			if m.state == StateListening {
				m.startVideoClip()
			}
		}, err
	})
}

func (m *Machine) videoConsent(granted bool) error {
	if m.video.Phase() != capture.PhaseConsentDialog {
		return capture.ErrVideoUnavailable
	}
	m.async("video_consent", false, func(ctx context.Context) (func(), error) {
		err := m.video.Consent(ctx, granted)
		return func() {
			if err != nil {
				m.log.Warn("video consent", "err", err)
			}
			if m.state == StateListening {
				m.startVideoClip()
			}
		}, err
	})
	return nil
}

func (m *Machine) videoUpload() error {
	if m.video.Clip() == nil {
		return capture.ErrNoRecording
	}
	m.uploadClip()
	return nil
}

func (m *Machine) videoDiscard() {
	m.video.Discard()
	if m.state == StateListening {
		m.startVideoClip()
	}
}

// ─── Full-session recording ──────────────────────────────────────────────────

func (m *Machine) recordingUpload() error {
	if m.session.Recording() == nil {
		return capture.ErrNoRecording
	}
	m.async("recording_upload", false, func(ctx context.Context) (func(), error) {
		id, err := m.session.Upload(ctx, m.cfg.API)
		return func() {
			if err != nil {
				m.notice = "The recording could not be uploaded. Retry, save or discard it."
				return
			}
			m.log.Info("session recording uploaded", "recording_id", id)
			m.uploadPrompt = false
			m.notice = "Recording uploaded."
		}, err
	})
	return nil
}

func (m *Machine) recordingSave() error {
	if m.cfg.Archive == nil {
		return ErrNoArchive
	}
	if m.session.Recording() == nil {
		return capture.ErrNoRecording
	}
	archive := m.cfg.Archive
	m.async("recording_save", false, func(ctx context.Context) (func(), error) {
		path, err := m.session.Save(ctx, archive)
		return func() {
			if err != nil {
				m.log.Warn("save session recording", "err", err)
				m.notice = "The recording could not be saved."
				return
			}
			m.sessionSaved = true
			m.notice = "Recording saved to " + path
		}, nil
	})
	return nil
}

// ─── Capture notifications ───────────────────────────────────────────────────

func (m *Machine) onCapture(ev capture.Event) {
	switch ev.Source {
	case capture.SourceTurn:
		if ev.Kind != capture.EventTick || m.cfg.MaxAnswerDuration <= 0 || m.state != StateListening {
			return
		}
		if time.Duration(ev.Elapsed)*time.Second >= m.cfg.MaxAnswerDuration {
			m.log.Info("answer reached max duration, stopping", "seconds", ev.Elapsed)
			if err := m.stopRecording(); err != nil {
				m.log.Warn("auto-stop answer", "err", err)
			}
		}

	case capture.SourceVideo:
		switch ev.Kind {
		case capture.EventLimitWarning:
			m.notice = fmt.Sprintf("Video recording stops in %d seconds.", ev.Remaining)
		case capture.EventLimitReached:
			m.clipAtLimit = true
		case capture.EventCompleted:
			if m.clipAtLimit {
				m.clipAtLimit = false
				m.uploadClip()
			}
		case capture.EventPhase:
			if ev.Phase == capture.PhaseIdle && m.state == StateListening {
				m.startVideoClip()
			}
		}

	case capture.SourceSession:
		if ev.Kind == capture.EventUploaded {
			m.uploadPrompt = false
		}
	}
}

// ─── Transcript ──────────────────────────────────────────────────────────────

func (m *Machine) appendMessage(msg Message) {
	msg.ID = uuid.NewString()
	msg.Timestamp = m.cfg.Clock.Now()
	m.messages = append(m.messages, msg)
}

func (m *Machine) pendingIndex() int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Pending {
			return i
		}
	}
	return -1
}

func (m *Machine) dropPending() {
	if i := m.pendingIndex(); i >= 0 {
		m.messages = slices.Delete(m.messages, i, i+1)
	}
}

// resolvePending confirms the pending user message. The audio placeholder
// takes the transcription, or is dropped when the backend sent none; a typed
// answer keeps its own text unless the backend echoed one.
func (m *Machine) resolvePending(text string) {
	i := m.pendingIndex()
	if i < 0 {
		return
	}
	if text == "" && m.messages[i].Text == PendingText {
		m.messages = slices.Delete(m.messages, i, i+1)
		return
	}
	if text != "" {
		m.messages[i].Text = text
	}
	m.messages[i].Text = text
	m.messages[i].Pending = false
}
