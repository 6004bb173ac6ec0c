package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nidhogg/cinechat/internal/memory"
	"github.com/spf13/cobra"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear long-term conversation memory",
	}
	cmd.AddCommand(memoryRecentCmd(), memorySearchCmd(), memoryClearCmd())
	return cmd
}

// withMemories builds the vector side of the app and hands its memory store to fn.
func withMemories(fn func(ctx context.Context, s *memory.Store) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, buildOpts{}, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.memories)
}

func memoryRecentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemories(func(ctx context.Context, s *memory.Store) error {
				recs, err := s.Recent(ctx, limit)
				if err != nil {
					return err
				}
				total, err := s.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d memories stored\n", total)
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of memories to show")
	return cmd
}

func memorySearchCmd() *cobra.Command {
	var topK int
	var minImportance float64
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemories(func(ctx context.Context, s *memory.Store) error {
				recs, err := s.Search(ctx, strings.Join(args, " "), topK, minImportance)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Maximum results")
	cmd.Flags().Float64Var(&minImportance, "min-importance", 0, "Drop memories below this importance")
	return cmd
}

func memoryClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear memories without --yes")
			}
			return withMemories(func(ctx context.Context, s *memory.Store) error {
				if err := s.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "memories cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func printRecords(w io.Writer, recs []memory.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no memories")
		return
	}
	for i, r := range recs {
		fmt.Fprintf(w, "%d. [%s] importance=%.2f", i+1, r.Timestamp, r.Importance)
		if r.Distance > 0 {
			fmt.Fprintf(w, " distance=%.3f", r.Distance)
		}
		fmt.Fprintf(w, "\n   Q: %s\n   A: %s\n", r.UserQuery, r.AssistantResponse)
	}
}
