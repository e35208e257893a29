package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/confidant/internal/command"
	"github.com/Veraticus/confidant/internal/memory"
)

func newConversationsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and clear stored conversations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every stored conversation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				comps, err := initializeStores(c.cfg, c.logger)
				if err != nil {
					return err
				}
				return writeSummaries(cmd.OutOrStdout(), comps.exchanges.ListAll())
			},
		},
		&cobra.Command{
			Use:   "show <user>",
			Short: "Show a user's status, facts and recent turns",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				comps, err := initializeStores(c.cfg, c.logger)
				if err != nil {
					return err
				}
				userID := args[0]
				out := cmd.OutOrStdout()

				fmt.Fprintln(out, command.FormatStatus(comps.exchanges.Summarize(userID)))
				if preamble := memory.FactPreamble(comps.facts.Load(userID)); preamble != "" {
					fmt.Fprintf(out, "\nKnown facts:\n%s\n", preamble)
				}
				recent := comps.exchanges.Recent(userID, c.cfg.Context.RecentTurns)
				if len(recent) > 0 {
					fmt.Fprintln(out, "\nRecent conversation:")
					for _, ex := range recent {
						fmt.Fprintf(out, "[%s] %s: %s\n", ex.Timestamp.Format(memory.TimestampLayout), ex.Role, ex.Text)
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear <user>",
			Short: "Forget a user's conversation and facts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				comps, err := initializeStores(c.cfg, c.logger)
				if err != nil {
					return err
				}
				if err := comps.exchanges.Clear(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared conversation for %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func writeSummaries(w io.Writer, summaries []memory.Summary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No conversations stored.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tEXCHANGES\tLAST INTERACTION\tSIZE")
	for _, s := range summaries {
		last := "Never"
		if s.LastInteraction != nil {
			last = s.LastInteraction.Format(memory.TimestampLayout)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f KB\n", s.UserID, s.ExchangeCount, last, float64(s.SizeBytes)/1024)
	}
	return tw.Flush()
}
