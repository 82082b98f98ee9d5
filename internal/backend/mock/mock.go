// Package mock provides a test double for the backend.API interface.
//
// Responses are configured through exported fields before use. For turn
// processing, queue replies in ProcessAudioReplies / ProcessTextReplies; each
// call pops the head of the queue and falls back to ProcessAudioReply /
// ProcessTextReply once the queue is empty. Set Block to a channel to hold
// every call until the channel is closed (or the context is cancelled).
//
// Example:
//
//	api := &mock.API{
//	    Session: &backend.Session{Status: backend.StatusNotStarted},
//	    StartResponse: &backend.StartResponse{Greeting: "Hello"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fieldvoice/internal/backend"
)

// API is a mock implementation of backend.API. Safe for concurrent use.
type API struct {
	mu sync.Mutex

	// ─── Responses ───

	Session    *backend.Session
	SessionErr error

	StartResponse *backend.StartResponse
	StartErr      error

	ProcessAudioReplies []*backend.TurnReply
	ProcessAudioReply   *backend.TurnReply
	ProcessAudioErr     error

	ProcessTextReplies []*backend.TurnReply
	ProcessTextReply   *backend.TurnReply
	ProcessTextErr     error

	PauseReply  *backend.PauseReply
	PauseErr    error
	ResumeReply *backend.PauseReply
	ResumeErr   error
	ResetErr    error

	Video           *backend.VideoSettings
	VideoErr        error
	ConsentErr      error
	UploadVideoID   backend.ID
	UploadVideoErr  error
	RecordingID     backend.ID
	UploadRecordErr error

	// Block, when non-nil, holds every call until it is closed.
	Block chan struct{}

	// ─── Call records ───

	StartCalls           []backend.StartRequest
	ProcessAudioCalls    []backend.AudioUpload
	ProcessTextCalls     []string
	ConsentCalls         []bool
	UploadVideoCalls     []backend.VideoUpload
	UploadRecordingCalls []backend.RecordingUpload
	CallCountGetSession  int
	CallCountPause       int
	CallCountResume      int
	CallCountReset       int
	CallCountVideo       int
}

var _ backend.API = (*API)(nil)

func (a *API) wait(ctx context.Context) error {
	a.mu.Lock()
	block := a.Block
	a.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSession returns Session, SessionErr.
func (a *API) GetSession(ctx context.Context) (*backend.Session, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountGetSession++
	if a.SessionErr != nil {
		return nil, a.SessionErr
	}
	if a.Session == nil {
		return &backend.Session{Status: backend.StatusNotStarted}, nil
	}
	s := *a.Session
	return &s, nil
}

// Start records req and returns StartResponse, StartErr.
func (a *API) Start(ctx context.Context, req backend.StartRequest) (*backend.StartResponse, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StartCalls = append(a.StartCalls, req)
	if a.StartErr != nil {
		return nil, a.StartErr
	}
	if a.StartResponse == nil {
		return &backend.StartResponse{}, nil
	}
	r := *a.StartResponse
	return &r, nil
}

// ProcessAudio records the upload and returns the next queued reply.
func (a *API) ProcessAudio(ctx context.Context, audio backend.AudioUpload) (*backend.TurnReply, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ProcessAudioCalls = append(a.ProcessAudioCalls, audio)
	if a.ProcessAudioErr != nil {
		return nil, a.ProcessAudioErr
	}
	return pop(&a.ProcessAudioReplies, a.ProcessAudioReply), nil
}

// ProcessText records text and returns the next queued reply.
func (a *API) ProcessText(ctx context.Context, text string) (*backend.TurnReply, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ProcessTextCalls = append(a.ProcessTextCalls, text)
	if a.ProcessTextErr != nil {
		return nil, a.ProcessTextErr
	}
	return pop(&a.ProcessTextReplies, a.ProcessTextReply), nil
}

func pop(queue *[]*backend.TurnReply, fallback *backend.TurnReply) *backend.TurnReply {
	if len(*queue) > 0 {
		r := (*queue)[0]
		*queue = (*queue)[1:]
		return r
	}
	if fallback == nil {
		return &backend.TurnReply{}
	}
	r := *fallback
	return &r
}

// Pause returns PauseReply, PauseErr.
func (a *API) Pause(ctx context.Context) (*backend.PauseReply, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountPause++
	if a.PauseErr != nil {
		return nil, a.PauseErr
	}
	if a.PauseReply == nil {
		return &backend.PauseReply{}, nil
	}
	return a.PauseReply, nil
}

// Resume returns ResumeReply, ResumeErr.
func (a *API) Resume(ctx context.Context) (*backend.PauseReply, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountResume++
	if a.ResumeErr != nil {
		return nil, a.ResumeErr
	}
	if a.ResumeReply == nil {
		return &backend.PauseReply{}, nil
	}
	return a.ResumeReply, nil
}

// Reset returns ResetErr.
func (a *API) Reset(ctx context.Context) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountReset++
	return a.ResetErr
}

// VideoSettings returns Video, VideoErr. A nil Video with no error yields the
// default policy.
func (a *API) VideoSettings(ctx context.Context) (*backend.VideoSettings, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountVideo++
	if a.VideoErr != nil {
		return nil, a.VideoErr
	}
	if a.Video == nil {
		v := backend.DefaultVideoSettings()
		return &v, nil
	}
	v := *a.Video
	return &v, nil
}

// VideoConsent records given and returns ConsentErr.
func (a *API) VideoConsent(ctx context.Context, given bool) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ConsentCalls = append(a.ConsentCalls, given)
	return a.ConsentErr
}

// UploadVideo records v and returns UploadVideoID, UploadVideoErr.
func (a *API) UploadVideo(ctx context.Context, v backend.VideoUpload) (*backend.VideoUploadResult, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.UploadVideoCalls = append(a.UploadVideoCalls, v)
	if a.UploadVideoErr != nil {
		return nil, a.UploadVideoErr
	}
	return &backend.VideoUploadResult{VideoID: a.UploadVideoID}, nil
}

// UploadRecording records r and returns RecordingID, UploadRecordErr.
func (a *API) UploadRecording(ctx context.Context, r backend.RecordingUpload) (*backend.RecordingUploadResult, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.UploadRecordingCalls = append(a.UploadRecordingCalls, r)
	if a.UploadRecordErr != nil {
		return nil, a.UploadRecordErr
	}
	return &backend.RecordingUploadResult{RecordingID: a.RecordingID}, nil
}

// Locked runs fn with the mock's lock held, for changing responses or reading
// call records while the code under test is running.
func (a *API) Locked(fn func(a *API)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}
