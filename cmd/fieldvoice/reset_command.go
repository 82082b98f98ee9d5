package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fieldvoice/internal/backend"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard a session's answers so it can be taken again",
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
			if err := client.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", backend.MaskToken(tok))
			return nil
		},
	}
	addTokenFlag(cmd, &token)
	return cmd
}
