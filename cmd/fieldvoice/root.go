package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/internal/config"
)

const tokenEnv = "FIELDVOICE_TOKEN"

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "fieldvoice",
		Short:         "Voice interview runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, closer := newLogger(cfg.Log, cmd.ErrOrStderr())
			ctx.logCloser = closer
			slog.SetDefault(logger)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "fieldvoice.yaml", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newResetCommand(ctx))
	rootCmd.AddCommand(newRecordingsCommand(ctx))
	return rootCmd
}

// commandContext loads the configuration once per invocation.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logCloser io.Closer
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("config file %q not found; pass --config", path)
			}
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) close() error {
	if c.logCloser == nil {
		return nil
	}
	return c.logCloser.Close()
}

// addTokenFlag registers --token, falling back to $FIELDVOICE_TOKEN.
func addTokenFlag(cmd *cobra.Command, token *string) {
	cmd.Flags().StringVarP(token, "token", "t", "", "Interview access token (default $"+tokenEnv+")")
}

func resolveToken(flag string) (string, error) {
	if t := strings.TrimSpace(flag); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(os.Getenv(tokenEnv)); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("an access token is required (--token or $%s)", tokenEnv)
}

func newClient(cfg *config.Config, token string, opts ...backend.Option) (*backend.Client, error) {
	opts = append([]backend.Option{
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithUserAgent("fieldvoice/" + version),
	}, opts...)
	return backend.New(cfg.Backend.BaseURL, token, opts...)
}
