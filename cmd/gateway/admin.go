package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xr-voice-gateway/internal/mcp"
)

func newAdminCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and control live sessions over the MCP admin endpoint",
	}
	cmd.PersistentFlags().StringVar(&url, "url", "ws://localhost:8000/mcp/ws", "MCP admin websocket url")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	withClient := func(cmd *cobra.Command, fn func(ctx context.Context, c *mcp.ClientWrapper) (any, error)) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		client := mcp.NewClientWrapper("gateway-admin", version)
		if err := client.ConnectWebSocket(ctx, url); err != nil {
			return err
		}
		defer client.Close()
		out, err := fn(ctx, client)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List connected sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, func(ctx context.Context, c *mcp.ClientWrapper) (any, error) {
					return c.ListSessions(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "history <session-id>",
			Short: "Print a session's conversation history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, func(ctx context.Context, c *mcp.ClientWrapper) (any, error) {
					return c.History(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "interrupt <session-id>",
			Short: "Cancel a session's running pipeline",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, func(ctx context.Context, c *mcp.ClientWrapper) (any, error) {
					was, err := c.Interrupt(ctx, args[0])
					return map[string]any{"session_id": args[0], "interrupted": was}, err
				})
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
