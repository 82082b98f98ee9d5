package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/fieldvoice/internal/archive"
	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/internal/capture"
	"github.com/MrWong99/fieldvoice/internal/config"
	"github.com/MrWong99/fieldvoice/internal/interview"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    interview.Command
		wantErr string
	}{
		{line: "start", want: interview.Command{Type: interview.CmdStart}},
		{line: "  lang  hi ", want: interview.Command{Type: interview.CmdSelectLanguage, Language: "hi"}},
		{line: "select_language pt-BR", want: interview.Command{Type: interview.CmdSelectLanguage, Language: "pt-BR"}},
		{line: "say I grow maize and beans", want: interview.Command{Type: interview.CmdSubmitText, Text: "I grow maize and beans"}},
		{line: "auto on", want: interview.Command{Type: interview.CmdToggleAutoRecord, Enabled: true}},
		{line: "text off", want: interview.Command{Type: interview.CmdShowTextInput}},
		{line: "consent yes", want: interview.Command{Type: interview.CmdVideoConsent, Enabled: true}},
		{line: "quit", want: interview.Command{Type: interview.CmdLeave}},
		{line: "recording_save", want: interview.Command{Type: interview.CmdRecordingSave}},
		{line: "lang", wantErr: "needs a language code"},
		{line: "say", wantErr: "needs an answer"},
		{line: "auto maybe", wantErr: "expected on or off"},
		{line: "dance", wantErr: "unknown command"},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			t.Parallel()
			got, err := parseCommand(tc.line)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommand: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	if _, err := parseCommand("help"); !errors.Is(err, errHelp) {
		t.Errorf("help: err = %v", err)
	}
}

type recordingController struct {
	mu   sync.Mutex
	cmds []interview.Command
	err  error
	done chan struct{}
}

func (r *recordingController) Snapshot() interview.Snapshot { return interview.Snapshot{} }

func (r *recordingController) Subscribe() (<-chan interview.Snapshot, func()) {
	return make(chan interview.Snapshot), func() {}
}

func (r *recordingController) Do(_ context.Context, cmd interview.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *recordingController) Done() <-chan struct{} { return r.done }

func TestConsole_Exec(t *testing.T) {
	t.Parallel()

	ctrl := &recordingController{done: make(chan struct{})}
	var out bytes.Buffer
	c := &console{ctrl: ctrl, out: &out}

	c.exec(context.Background(), "start")
	c.exec(context.Background(), "   ")
	c.exec(context.Background(), "help")
	c.exec(context.Background(), "dance")
	ctrl.err = interview.ErrInvalidTransition
	c.exec(context.Background(), "pause")

	if len(ctrl.cmds) != 2 || ctrl.cmds[0].Type != interview.CmdStart || ctrl.cmds[1].Type != interview.CmdPause {
		t.Errorf("commands = %+v", ctrl.cmds)
	}
	s := out.String()
	for _, want := range []string{"commands:", `! unknown command "dance"`, "! interview: invalid transition"} {
		if !strings.Contains(s, want) {
			t.Errorf("output misses %q:\n%s", want, s)
		}
	}
}

func TestConsole_RunStopsWhenInterviewEnds(t *testing.T) {
	t.Parallel()

	ctrl := &recordingController{done: make(chan struct{})}
	close(ctrl.done)
	var out bytes.Buffer
	c := &console{ctrl: ctrl, in: strings.NewReader(""), out: &out}

	errc := make(chan error, 1)
	go func() { errc <- c.run(context.Background()) }()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("console did not stop")
	}
}

func TestPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	var p printer
	msgs := []interview.Message{{Role: interview.RoleAssistant, Text: "Welcome"}}

	p.print(&out, interview.Snapshot{State: interview.StateListening, Messages: msgs})
	msgs = append(msgs, interview.Message{Role: interview.RoleUser, Text: interview.PendingText, Pending: true})
	p.print(&out, interview.Snapshot{State: interview.StateProcessing, Messages: msgs})
	msgs[1] = interview.Message{Role: interview.RoleUser, Text: "Two hectares"}
	msgs = append(msgs, interview.Message{Role: interview.RoleAssistant, Text: "Which crops?"})
	p.print(&out, interview.Snapshot{State: interview.StateSpeaking, Messages: msgs, Notice: "Recording uploaded."})

	want := "[listening]\nassistant: Welcome\n[processing]\n[speaking]\nuser: Two hectares\nassistant: Which crops?\n* Recording uploaded.\n"
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestRenderSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(-time.Hour)
	s := &backend.Session{
		ID:                 "42",
		Status:             backend.StatusInProgress,
		Language:           "hi",
		AnsweredQuestions:  3,
		TotalQuestions:     8,
		ProgressPercentage: 37.5,
		ExpiresAt:          &exp,
		CurrentQuestion:    &backend.Question{ID: "7", Text: "How many goats?"},
	}
	out := renderSession(s, now)
	for _, want := range []string{"42", "in_progress", "3/8 (37.5%)", "EXPIRED", "How many goats?", "1 hour ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("table misses %q:\n%s", want, out)
		}
	}
}

func TestRenderEntries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []archive.Entry{
		{ID: "a", Kind: capture.SourceSession, Size: 2_500_000, DurationSeconds: 95, SavedAt: now.Add(-2 * time.Minute)},
		{ID: "b", Kind: capture.SourceVideo, Size: 500_000, QuestionID: "7", SavedAt: now.Add(-time.Hour)},
	}
	out := renderEntries(entries, now)
	for _, want := range []string{"session", "video", "1m35s", "2.5 MB", "3.0 MB", "2 files", "2 minutes ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("table misses %q:\n%s", want, out)
		}
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv(tokenEnv, "env-token")

	if got, _ := resolveToken(" flag-token "); got != "flag-token" {
		t.Errorf("flag token = %q", got)
	}
	if got, _ := resolveToken(""); got != "env-token" {
		t.Errorf("env token = %q", got)
	}
	t.Setenv(tokenEnv, "")
	if _, err := resolveToken(""); err == nil {
		t.Error("expected error without token")
	}
}

func TestUseText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if !useText(config.LogFormatText, &buf) {
		t.Error("text format must use the text handler")
	}
	if useText(config.LogFormatJSON, &buf) {
		t.Error("json format must use the JSON handler")
	}
	if useText(config.LogFormatAuto, &buf) {
		t.Error("auto on a non-terminal must use JSON")
	}
}
