package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func askCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question in-process and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, buildOpts{withChat: true}, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := a.engine.GetResponse(ctx, strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer)
			if verbose {
				if n, err := a.memories.Count(ctx); err == nil {
					fmt.Fprintf(out, "\n(memories stored: %d)\n", n)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print memory statistics after the answer")
	return cmd
}
