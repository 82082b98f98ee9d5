package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrWong99/fieldvoice/internal/archive"
)

func newRecordingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recordings",
		Aliases: []string{"recs"},
		Short:   "List recordings kept in the local archive",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spool, err := openSpool(ctx)
			if err != nil {
				return err
			}
			entries, err := spool.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "no recordings in %s\n", spool.Dir())
				return nil
			}
			fmt.Fprintln(out, renderEntries(entries, time.Now()))
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path <id>",
		Short: "Print the file path of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spool, err := openSpool(ctx)
			if err != nil {
				return err
			}
			e, err := spool.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), spool.Path(e))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete recordings from the archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spool, err := openSpool(ctx)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := spool.Remove(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func openSpool(ctx *commandContext) (*archive.Spool, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return archive.Open(cfg.Archive.Dir)
}

func renderEntries(entries []archive.Entry, now time.Time) string {
	rows := make([][]string, 0, len(entries))
	var total uint64
	for _, e := range entries {
		total += uint64(e.Size)
		rows = append(rows, []string{
			e.ID,
			string(e.Kind),
			orDash(e.QuestionID),
			(time.Duration(e.DurationSeconds) * time.Second).String(),
			humanize.Bytes(uint64(e.Size)),
			humanize.RelTime(e.SavedAt, now, "ago", "from now"),
			orDash(e.Session),
		})
	}
	rows = append(rows, []string{"", "", "", "", humanize.Bytes(total), strconv.Itoa(len(entries)) + " files", ""})
	return renderTable(
		[]string{"ID", "Kind", "Question", "Length", "Size", "Saved", "Session"},
		rows, 3, 4,
	)
}
