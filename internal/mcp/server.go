package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/session"
)

const (
	ToolListSessions = "list_sessions"
	ToolGetHistory   = "get_history"
	ToolInterrupt    = "interrupt_session"
)

// SessionAdmin is the administrative view of live sessions.
type SessionAdmin interface {
	Sessions() []session.Info
	History(sid string) []session.Turn
	Interrupt(sid string) (bool, error)
}

type ListSessionsArgs struct{}

type ListSessionsResult struct {
	Sessions []session.Info `json:"sessions"`
}

type SessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"id of the session"`
}

type HistoryResult struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

type InterruptResult struct {
	SessionID   string `json:"session_id"`
	Interrupted bool   `json:"interrupted"`
}

// NewServer exposes admin as MCP tools.
func NewServer(admin SessionAdmin, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "voice-gateway-admin", Version: version}, nil)

	sdk.AddTool(server, &sdk.Tool{Name: ToolListSessions, Description: "List connected sessions"},
		func(ctx context.Context, req *sdk.CallToolRequest, _ ListSessionsArgs) (*sdk.CallToolResult, ListSessionsResult, error) {
			out := ListSessionsResult{Sessions: admin.Sessions()}
			if out.Sessions == nil {
				out.Sessions = []session.Info{}
			}
			return textResult(out), out, nil
		})

	sdk.AddTool(server, &sdk.Tool{Name: ToolGetHistory, Description: "Read a session's conversation history"},
		func(ctx context.Context, req *sdk.CallToolRequest, args SessionArgs) (*sdk.CallToolResult, HistoryResult, error) {
			out := HistoryResult{SessionID: args.SessionID, Turns: admin.History(args.SessionID)}
			if out.Turns == nil {
				out.Turns = []session.Turn{}
			}
			return textResult(out), out, nil
		})

	sdk.AddTool(server, &sdk.Tool{Name: ToolInterrupt, Description: "Cancel a session's running pipeline and stop its playback"},
		func(ctx context.Context, req *sdk.CallToolRequest, args SessionArgs) (*sdk.CallToolResult, InterruptResult, error) {
			interrupted, err := admin.Interrupt(args.SessionID)
			if err != nil {
				return nil, InterruptResult{}, err
			}
			logging.Infow("mcp: session interrupted", "session_id", args.SessionID, "was_running", interrupted)
			out := InterruptResult{SessionID: args.SessionID, Interrupted: interrupted}
			return textResult(out), out, nil
		})

	return server
}

func textResult(v any) *sdk.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}
}

// Handler upgrades each request to a websocket and serves one MCP session
// on it until the peer goes away or ctx is done.
func Handler(ctx context.Context, server *sdk.Server) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: ws upgrade failed", "err", err)
			return
		}
		id := uuid.NewString()
		ss, err := server.Connect(ctx, newWebSocketTransport(conn, id), nil)
		if err != nil {
			logging.Warnw("mcp: server connect failed", "err", err, "mcp_session", id)
			_ = conn.Close()
			return
		}
		logging.Debugw("mcp: admin session opened", "mcp_session", id, "remote", r.RemoteAddr)
		if err := ss.Wait(); err != nil {
			logging.Debugw("mcp: admin session ended", "mcp_session", id, "err", err)
			return
		}
		logging.Debugw("mcp: admin session ended", "mcp_session", id)
	})
}
