package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/fieldvoice/internal/observe"
)

const defaultTimeout = 60 * time.Second

// Option is a functional option for [New].
type Option func(*Client)

// WithTimeout sets the per-request timeout. Default: 60s, enough for a
// transcription plus speech synthesis round trip on a slow link.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying [http.Client].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUserAgent sets the User-Agent header sent on every call.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client is the HTTP implementation of [API]. Safe for concurrent use.
type Client struct {
	r         *resty.Client
	token     string
	timeout   time.Duration
	hc        *http.Client
	metrics   *observe.Metrics
	userAgent string
}

var _ API = (*Client)(nil)

// New returns a Client for the session identified by token. baseURL is the
// API root the "public/{token}/" paths are resolved against, e.g.
// "https://impact.example.org/api/interviews".
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must be http or https", baseURL)
	}
	if token == "" {
		return nil, errors.New("backend: access token is required")
	}

	c := &Client{token: token, timeout: defaultTimeout}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	if c.hc != nil {
		c.r = resty.NewWithClient(c.hc)
	} else {
		c.r = resty.New()
	}
	c.r.SetBaseURL(baseURL).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetPathParam("token", token).
		SetLogger(restyLogger{}).
		SetRetryCount(0)
	if c.userAgent != "" {
		c.r.SetHeader("User-Agent", c.userAgent)
	}
	return c, nil
}

// MaskToken shortens an access token for log output.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "…"
}

// GetSession implements [API].
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.do(ctx, "get-session", http.MethodGet, "public/{token}/", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Start implements [API].
func (c *Client) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, "start", http.MethodPost, "public/{token}/start/", func(r *resty.Request) {
		r.SetBody(req)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessAudio implements [API].
func (c *Client) ProcessAudio(ctx context.Context, audio AudioUpload) (*TurnReply, error) {
	var out TurnReply
	err := c.do(ctx, "process-audio", http.MethodPost, "public/{token}/process-audio/", func(r *resty.Request) {
		r.SetMultipartField("audio", fileName(audio.FileName, "answer"), contentType(audio.MIMEType), bytes.NewReader(audio.Data))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessText implements [API].
func (c *Client) ProcessText(ctx context.Context, text string) (*TurnReply, error) {
	var out TurnReply
	err := c.do(ctx, "process-text", http.MethodPost, "public/{token}/process-text/", func(r *resty.Request) {
		r.SetBody(map[string]string{"text": text})
	}, &out)
	if err != nil {
		return nil, err
	}
	// process-text has no transcription failure branch.
	out.TranscriptionFailed = false
	return &out, nil
}

// Pause implements [API].
func (c *Client) Pause(ctx context.Context) (*PauseReply, error) {
	var out PauseReply
	if err := c.do(ctx, "pause", http.MethodPost, "public/{token}/pause/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume implements [API].
func (c *Client) Resume(ctx context.Context) (*PauseReply, error) {
	var out PauseReply
	if err := c.do(ctx, "resume", http.MethodPost, "public/{token}/resume/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset implements [API].
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, "reset", http.MethodPost, "public/{token}/reset/", nil, nil)
}

// VideoSettings implements [API]. The returned settings are not normalised;
// callers fall back to [DefaultVideoSettings] on error.
func (c *Client) VideoSettings(ctx context.Context) (*VideoSettings, error) {
	var out VideoSettings
	if err := c.do(ctx, "video-settings", http.MethodGet, "public/{token}/video-settings/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VideoConsent implements [API].
func (c *Client) VideoConsent(ctx context.Context, given bool) error {
	return c.do(ctx, "video-consent", http.MethodPost, "public/{token}/video-consent/", func(r *resty.Request) {
		r.SetMultipartFormData(map[string]string{"consent_given": strconv.FormatBool(given)})
	}, nil)
}

// UploadVideo implements [API].
func (c *Client) UploadVideo(ctx context.Context, v VideoUpload) (*VideoUploadResult, error) {
	var out VideoUploadResult
	err := c.do(ctx, "upload-video", http.MethodPost, "public/{token}/upload-video/", func(r *resty.Request) {
		fields := map[string]string{
			"video_type":       string(v.VideoType),
			"duration_seconds": strconv.Itoa(v.DurationSeconds),
			"recorded_at":      v.RecordedAt.UTC().Format(time.RFC3339),
		}
		if v.QuestionID != "" {
			fields["question_id"] = v.QuestionID.String()
		}
		r.SetMultipartFormData(fields).
			SetMultipartField("video", fileName(v.FileName, "video"), contentType(v.MIMEType), bytes.NewReader(v.Data))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadRecording implements [API].
func (c *Client) UploadRecording(ctx context.Context, rec RecordingUpload) (*RecordingUploadResult, error) {
	var out RecordingUploadResult
	err := c.do(ctx, "upload-recording", http.MethodPost, "public/{token}/upload-recording/", func(r *resty.Request) {
		r.SetMultipartFormData(map[string]string{
			"duration_seconds": strconv.Itoa(rec.DurationSeconds),
			"recorded_at":      rec.RecordedAt.UTC().Format(time.RFC3339),
		}).SetMultipartField("audio", fileName(rec.FileName, "session"), contentType(rec.MIMEType), bytes.NewReader(rec.Data))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes one call and maps its outcome onto the package's error
// taxonomy. out, when non-nil, receives the decoded JSON body of a 2xx reply.
func (c *Client) do(ctx context.Context, op, method, path string, prep func(*resty.Request), out any) (err error) {
	ctx, span := observe.StartSpan(ctx, "backend."+op)
	span.SetAttributes(attribute.String("backend.op", op))

	start := time.Now()
	outcome := "ok"
	defer func() {
		elapsed := time.Since(start)
		c.metrics.RecordBackendCall(ctx, op, outcome, elapsed.Seconds())
		log := observe.Logger(ctx).With(
			slog.String("op", op),
			slog.String("token", MaskToken(c.token)),
			slog.String("outcome", outcome),
			slog.Duration("duration", elapsed),
		)
		observe.EndSpan(span, err)
		if err != nil {
			log.Warn("backend call failed", "err", err)
			return
		}
		log.Debug("backend call")
	}()

	req := c.r.R().SetContext(ctx)
	if prep != nil {
		prep(req)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		outcome = "transport"
		return &TransportError{Op: op, Err: err}
	}

	code := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.response.status_code", code))
	switch {
	case code == http.StatusGone:
		outcome = "expired"
		return fmt.Errorf("backend: %s: %w", op, ErrExpired)
	case code < 200 || code > 299:
		outcome = "error"
		return &StatusError{Op: op, StatusCode: code, Message: errorMessage(resp.Body())}
	}

	if out == nil || len(bytes.TrimSpace(resp.Body())) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		outcome = "decode"
		return fmt.Errorf("backend: %s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body. It
// understands {"error": "..."}, {"detail": "..."} and {"message": "..."},
// and otherwise returns the body truncated to 200 bytes.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		for _, s := range []string{e.Error, e.Detail, e.Message} {
			if s != "" {
				return s
			}
		}
	}
	s := string(bytes.TrimSpace(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func fileName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func contentType(mime string) string {
	if mime != "" {
		return mime
	}
	return "application/octet-stream"
}

// restyLogger routes resty's internal warnings into slog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	slog.Error("backend: resty: " + fmt.Sprintf(format, v...))
}

func (restyLogger) Warnf(format string, v ...any) {
	slog.Warn("backend: resty: " + fmt.Sprintf(format, v...))
}

func (restyLogger) Debugf(format string, v ...any) {
	slog.Debug("backend: resty: " + fmt.Sprintf(format, v...))
}
