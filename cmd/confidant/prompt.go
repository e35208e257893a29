package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/confidant/internal/config"
)

func newPromptCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Show or replace the system prompt",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the system prompt",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				prompts, err := config.NewPromptStore(c.cfg.Prompt.Path, c.logger)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), prompts.SystemPrompt())
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <prompt...>",
			Short: "Replace the system prompt for new sessions",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				prompts, err := config.NewPromptStore(c.cfg.Prompt.Path, c.logger)
				if err != nil {
					return err
				}
				if err := prompts.Set(strings.Join(args, " ")); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "System prompt saved to %s\n", prompts.Path())
				return nil
			},
		},
	)
	return cmd
}
