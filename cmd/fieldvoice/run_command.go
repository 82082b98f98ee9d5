package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fieldvoice/internal/archive"
	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/internal/health"
	"github.com/MrWong99/fieldvoice/internal/interview"
	"github.com/MrWong99/fieldvoice/internal/observe"
	"github.com/MrWong99/fieldvoice/internal/uihub"
	"github.com/MrWong99/fieldvoice/pkg/media"
	"github.com/MrWong99/fieldvoice/pkg/media/execdev"
)

const shutdownTimeout = 15 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		token     string
		noConsole bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Conduct an interview",
		Long: `Conduct the interview identified by the access token.

The UI hub serves snapshots and accepts commands on ui.listen_addr. Unless
--no-console is given, commands can also be typed on stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := resolveToken(token)
			if err != nil {
				return err
			}
			opts := runOptions{token: tok, console: !noConsole}
			return runInterview(cmd, ctx, opts)
		},
	}
	addTokenFlag(cmd, &token)
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read commands from stdin")
	return cmd
}

type runOptions struct {
	token   string
	console bool
}

func runInterview(cmd *cobra.Command, cc *commandContext, opts runOptions) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	log := slog.Default().With("session", backend.MaskToken(opts.token))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutCtx); err != nil {
			log.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	// ── Collaborators ─────────────────────────────────────────────────────────
	client, err := newClient(cfg, opts.token, backend.WithMetrics(tel.Metrics))
	if err != nil {
		return err
	}
	spool, err := archive.Open(cfg.Archive.Dir, archive.WithSession(backend.MaskToken(opts.token)))
	if err != nil {
		return err
	}
	devices := execdev.New(execdev.Config{
		Microphone:     cfg.Devices.Microphone,
		Camera:         cfg.Devices.Camera,
		CameraMIMEType: cfg.Devices.CameraMIMEType,
	})

	m, err := interview.New(interview.Config{
		API:               client,
		Devices:           devices,
		Player:            execdev.NewPlayer(cfg.Devices.Player),
		Archive:           spool,
		Languages:         cfg.Interview.Languages,
		DefaultLanguage:   cfg.Interview.DefaultLanguage,
		AutoRecord:        cfg.Interview.AutoRecord,
		AutoRecordDelay:   cfg.Interview.AutoRecordDelay,
		MaxAnswerDuration: cfg.Interview.MaxAnswerDuration,
		Version:           version,
		CodecPreferences:  cfg.Interview.Codecs,
		Constraints: media.Constraints{
			SampleRate: cfg.Devices.SampleRate,
			Channels:   1,
			Width:      cfg.Devices.Width,
			Height:     cfg.Devices.Height,
		},
		Metrics: tel.Metrics,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	log.Info("fieldvoice starting",
		"version", version,
		"backend", cfg.Backend.BaseURL,
		"ui", cfg.UI.ListenAddr,
		"archive", spool.Dir(),
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	hubCtx, stopHub := context.WithCancel(gctx)
	defer stopHub()

	g.Go(func() error {
		defer stopHub()
		return m.Run(gctx)
	})
	if !cfg.UI.UIDisabled() {
		hub := uihub.New(m,
			uihub.WithLogger(log),
			uihub.WithMetrics(tel.Metrics),
			uihub.WithMetricsHandler(tel.Handler),
			uihub.WithHealth(health.New(
				health.LoopRunning(m.Done()),
				health.DirWritable("archive", spool.Dir()),
			)),
			uihub.WithOriginPatterns(cfg.UI.AllowedOrigins...),
		)
		g.Go(func() error { return hub.ListenAndServe(hubCtx, cfg.UI.ListenAddr) })
	}
	if opts.console {
		c := &console{ctrl: m, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
		g.Go(func() error { return c.run(hubCtx) })
	}
	runErr := g.Wait()

	// ── Keep what was not uploaded ────────────────────────────────────────────
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, rec := range m.Retained() {
		path, err := spool.Save(saveCtx, rec)
		if err != nil {
			log.Error("could not archive recording", "source", rec.Source, "err", err)
			continue
		}
		log.Info("recording archived", "source", rec.Source, "path", path)
	}

	snap := m.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "interview ended in state %s (%d/%d answered)\n",
		snap.State, snap.Session.AnsweredQuestions, snap.Session.TotalQuestions)
	return runErr
}
