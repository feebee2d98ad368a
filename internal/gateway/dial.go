package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/parley/internal/version"
)

// dialTimeout bounds the connect handshake.
const dialTimeout = 10 * time.Second

// RemoteClient is a WebSocket connection to a running parley gateway, used
// by CLI commands that talk to the daemon. It is not safe for concurrent
// Call invocations.
type RemoteClient struct {
	conn  *websocket.Conn
	hello HelloOK
	reqID atomic.Int64
}

// Dial connects to the gateway at addr (host:port), performs the
// challenge/connect handshake, and returns an authenticated client.
func Dial(ctx context.Context, addr, token, clientID string) (*RemoteClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway at %s: %w", addr, err)
	}

	rc := &RemoteClient{conn: conn}
	if err := rc.handshake(token, clientID); err != nil {
		conn.Close()
		return nil, err
	}
	return rc, nil
}

func (rc *RemoteClient) handshake(token, clientID string) error {
	rc.conn.SetReadDeadline(time.Now().Add(dialTimeout))
	defer rc.conn.SetReadDeadline(time.Time{})

	// The server leads with a challenge event.
	var challenge Frame
	if err := rc.conn.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	if challenge.Type != FrameTypeEvent || challenge.Event != "connect.challenge" {
		return fmt.Errorf("expected connect.challenge, got type=%s event=%s", challenge.Type, challenge.Event)
	}

	var auth *ConnectAuth
	if token != "" {
		auth = &ConnectAuth{Token: token}
	}
	req, err := NewRequest("connect-1", "connect", ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client: ClientInfo{
			ID:       clientID,
			Version:  version.Version,
			Platform: runtime.GOOS,
		},
		Auth: auth,
	})
	if err != nil {
		return fmt.Errorf("building connect request: %w", err)
	}
	if err := rc.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending connect: %w", err)
	}

	var resp Frame
	if err := rc.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if resp.OK == nil || !*resp.OK {
		if resp.Error != nil {
			return fmt.Errorf("connect rejected: %s (%s)", resp.Error.Message, resp.Error.Code)
		}
		return fmt.Errorf("connect rejected")
	}
	if err := json.Unmarshal(resp.Payload, &rc.hello); err != nil {
		return fmt.Errorf("parsing hello payload: %w", err)
	}
	return nil
}

// Hello returns the server's handshake payload.
func (rc *RemoteClient) Hello() HelloOK {
	return rc.hello
}

// Call invokes an RPC method and unmarshals the response payload into out
// (out may be nil). Event frames arriving before the response are skipped.
func (rc *RemoteClient) Call(method string, params any, out any) error {
	id := fmt.Sprintf("cli-%d", rc.reqID.Add(1))
	req, err := NewRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	if err := rc.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	for {
		var resp Frame
		if err := rc.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("reading %s response: %w", method, err)
		}
		if resp.Type != FrameTypeResponse || resp.ID != id {
			continue
		}
		if resp.OK == nil || !*resp.OK {
			if resp.Error != nil {
				return fmt.Errorf("%s: %s (%s)", method, resp.Error.Message, resp.Error.Code)
			}
			return fmt.Errorf("%s failed", method)
		}
		if out != nil && resp.Payload != nil {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("parsing %s payload: %w", method, err)
			}
		}
		return nil
	}
}

// Close closes the connection.
func (rc *RemoteClient) Close() error {
	rc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return rc.conn.Close()
}
