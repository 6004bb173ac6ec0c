package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func indexCmd() *cobra.Command {
	var dir, ext string
	var reset bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Load, chunk and embed the documents directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if dir == "" {
				dir = cfg.RAG.DocumentsDir
			}
			if ext == "" {
				ext = cfg.RAG.FileExt
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, buildOpts{}, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.pipeline.Run(ctx, dir, ext, reset)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.Message)
			fmt.Fprintf(cmd.OutOrStdout(), "chunks added: %d, total: %d\n", rep.Chunks, rep.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Documents directory (defaults to rag.documents_dir)")
	cmd.Flags().StringVar(&ext, "ext", "", "File extension to load, .pdf or .txt (defaults to rag.file_ext)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop the existing corpus before indexing")
	return cmd
}
