package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/session"
)

// ClientWrapper connects to the admin MCP server over websocket and offers
// typed calls for its tools.
type ClientWrapper struct {
	client  *sdk.Client
	session *sdk.ClientSession
	stop    context.CancelFunc
}

func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil)}
}

// ConnectWebSocket dials rawurl (http(s) URLs are mapped to ws(s)) and
// initializes an MCP session. A background ping keeps the socket alive
// until Close.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("mcp: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("mcp: dial %s: %w", u, err)
	}
	sess, err := w.client.Connect(ctx, newWebSocketTransport(conn, ""), nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	w.session = sess

	pingCtx, stop := context.WithCancel(context.Background())
	w.stop = stop
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := sess.Ping(pingCtx, nil); err != nil {
					logging.Debugw("mcp: ping failed", "err", err)
				}
			}
		}
	}()
	logging.Debugw("mcp: client connected", "url", u.String())
	return nil
}

func (w *ClientWrapper) Close() error {
	if w.stop != nil {
		w.stop()
	}
	if w.session != nil {
		return w.session.Close()
	}
	return nil
}

func (w *ClientWrapper) ListSessions(ctx context.Context) ([]session.Info, error) {
	var out ListSessionsResult
	if err := w.call(ctx, ToolListSessions, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (w *ClientWrapper) History(ctx context.Context, sid string) ([]session.Turn, error) {
	var out HistoryResult
	if err := w.call(ctx, ToolGetHistory, map[string]any{"session_id": sid}, &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}

func (w *ClientWrapper) Interrupt(ctx context.Context, sid string) (bool, error) {
	var out InterruptResult
	if err := w.call(ctx, ToolInterrupt, map[string]any{"session_id": sid}, &out); err != nil {
		return false, err
	}
	return out.Interrupted, nil
}

func (w *ClientWrapper) call(ctx context.Context, tool string, args map[string]any, out any) error {
	if w.session == nil {
		return errors.New("mcp: not connected")
	}
	res, err := w.session.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("mcp: %s: %w", tool, err)
	}
	text := ""
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			text = tc.Text
			break
		}
	}
	if res.IsError {
		return fmt.Errorf("mcp: %s failed: %s", tool, text)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("mcp: %s: decode result: %w", tool, err)
	}
	return nil
}
