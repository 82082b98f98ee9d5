package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrWong99/fieldvoice/internal/backend"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of an interview session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := resolveToken(token)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg, tok)
			if err != nil {
				return err
			}
			sess, err := client.GetSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSession(sess, time.Now()))
			return nil
		},
	}
	addTokenFlag(cmd, &token)
	return cmd
}

// renderSession formats s as a two-column table.
func renderSession(s *backend.Session, now time.Time) string {
	expires := "never"
	if s.ExpiresAt != nil && !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.Format(time.RFC3339) + " (" + humanize.RelTime(*s.ExpiresAt, now, "ago", "from now") + ")"
		if s.Expired(now) {
			expires += " EXPIRED"
		}
	}
	question := "-"
	if q := s.CurrentQuestion; q != nil {
		question = q.Text
	}
	video := "off"
	if s.VideoEnabled {
		video = "on"
	}

	rows := [][]string{
		{"Session", s.ID.String()},
		{"Questionnaire", orDash(s.QuestionnaireTitle)},
		{"Beneficiary", orDash(s.BeneficiaryName)},
		{"Status", string(s.Status)},
		{"Language", orDash(s.Language)},
		{"Progress", fmt.Sprintf("%d/%d (%s%%)", s.AnsweredQuestions, s.TotalQuestions,
			strconv.FormatFloat(s.ProgressPercentage, 'f', -1, 64))},
		{"Expires", expires},
		{"Video", video},
		{"Current question", question},
	}
	return renderTable([]string{"Field", "Value"}, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
