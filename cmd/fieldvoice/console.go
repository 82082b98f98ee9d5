package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/MrWong99/fieldvoice/internal/interview"
	"github.com/MrWong99/fieldvoice/internal/uihub"
)

// commandAliases maps console shorthands to command types.
var commandAliases = map[string]interview.CommandType{
	"lang":    interview.CmdSelectLanguage,
	"rec":     interview.CmdStartRecording,
	"stop":    interview.CmdStopRecording,
	"say":     interview.CmdSubmitText,
	"auto":    interview.CmdToggleAutoRecord,
	"text":    interview.CmdShowTextInput,
	"consent": interview.CmdVideoConsent,
	"quit":    interview.CmdLeave,
}

const consoleHelp = `commands:
  start | lang <code> | rec | stop | say <answer> | pause | resume
  auto on|off | text on|off | restart | quit
  consent yes|no | video_upload | video_discard
  recording_upload | recording_save | recording_discard`

// errHelp asks the console to print usage.
var errHelp = errors.New("help")

// parseCommand turns one console line into a command. Every command type
// is accepted by its wire name as well as by the aliases above.
func parseCommand(line string) (interview.Command, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	if name == "" || name == "help" || name == "?" {
		return interview.Command{}, errHelp
	}

	typ, ok := commandAliases[name]
	if !ok {
		typ = interview.CommandType(name)
	}
	cmd := interview.Command{Type: typ}

	switch typ {
	case interview.CmdSelectLanguage:
		if arg == "" {
			return cmd, fmt.Errorf("%s needs a language code", name)
		}
		cmd.Language = arg
	case interview.CmdSubmitText:
		if arg == "" {
			return cmd, fmt.Errorf("%s needs an answer", name)
		}
		cmd.Text = arg
	case interview.CmdToggleAutoRecord, interview.CmdShowTextInput, interview.CmdVideoConsent:
		on, err := parseSwitch(arg)
		if err != nil {
			return cmd, fmt.Errorf("%s: %w", name, err)
		}
		cmd.Enabled = on
	default:
		if !slices.Contains(interview.Commands, typ) {
			return cmd, fmt.Errorf("unknown command %q", name)
		}
	}
	return cmd, nil
}

func parseSwitch(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "yes", "y", "true", "1":
		return true, nil
	case "off", "no", "n", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

// console reads commands from in and prints transcript and state changes
// to out until ctx is cancelled or the interview ends.
type console struct {
	ctrl uihub.Controller
	in   io.Reader
	out  io.Writer
}

func (c *console) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		// Blocks on stdin; the goroutine is abandoned on exit.
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	snaps, unsubscribe := c.ctrl.Subscribe()
	defer unsubscribe()

	var p printer
	fmt.Fprintln(c.out, `type "help" for commands`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctrl.Done():
			p.print(c.out, c.ctrl.Snapshot())
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			p.print(c.out, snap)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			c.exec(ctx, line)
		}
	}
}

func (c *console) exec(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	cmd, err := parseCommand(line)
	if errors.Is(err, errHelp) {
		fmt.Fprintln(c.out, consoleHelp)
		return
	}
	if err == nil {
		err = c.ctrl.Do(ctx, cmd)
	}
	if err != nil {
		fmt.Fprintln(c.out, "! "+err.Error())
	}
}

// printer writes the parts of a snapshot that changed since the last call.
type printer struct {
	state    interview.State
	messages int
	notice   string
	pending  bool
}

func (p *printer) print(w io.Writer, s interview.Snapshot) {
	if s.State != p.state {
		p.state = s.State
		line := "[" + string(s.State) + "]"
		if s.Error != "" {
			line += " " + s.Error
		}
		if s.State == interview.StateLanguageSelect {
			line += " languages: " + strings.Join(s.Languages, ", ")
		}
		fmt.Fprintln(w, line)
	}

	// A pending placeholder is replaced in place, so reprint the last
	// message once it resolves.
	start := p.messages
	if p.pending && start > 0 {
		start--
	}
	if start > len(s.Messages) {
		start = 0
	}
	for _, m := range s.Messages[start:] {
		if m.Pending {
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", m.Role, m.Text)
	}
	p.messages = len(s.Messages)
	p.pending = p.messages > 0 && s.Messages[p.messages-1].Pending

	if s.Notice != p.notice {
		p.notice = s.Notice
		if s.Notice != "" {
			fmt.Fprintln(w, "* "+s.Notice)
		}
	}
}
