package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xr-voice-gateway/internal/config"
	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/rag"
)

func newAskCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question through the RAG generator and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Init(cfg.Logging.Level)
			defer func() { _ = logging.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LLM.GetTimeout()*2)
			defer cancel()
			generator, closeRAG, err := rag.Open(ctx, cfg.RAG, cfg.LLM)
			if err != nil {
				return err
			}
			defer closeRAG()

			answer, err := generator.Answer(ctx, strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}
