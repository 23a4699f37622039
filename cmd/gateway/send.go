package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xr-voice-gateway/internal/session"
	"github.com/xr-voice-gateway/internal/transport"
)

type sendOptions struct {
	url     string
	timeout time.Duration
}

func newSendCmd() *cobra.Command {
	opts := sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <clip.wav>",
		Short: "Send one audio clip to a running gateway and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read clip: %w", err)
			}
			reply, err := sendClip(opts, clip)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8000/ws", "gateway websocket url")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "how long to wait for the reply")
	return cmd
}

// sendClip connects, sends clip as one binary frame and returns the text of
// the first agent_response.
func sendClip(opts sendOptions, clip []byte) (string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(opts.url, nil)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(opts.timeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, clip); err != nil {
		return "", fmt.Errorf("send clip: %w", err)
	}
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("waiting for reply: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Event != session.EventAgentResponse {
			continue
		}
		var reply session.AgentResponse
		if err := json.Unmarshal(env.Data, &reply); err != nil {
			return "", fmt.Errorf("decode reply: %w", err)
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return reply.Text, nil
	}
}
