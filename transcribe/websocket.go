package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWebSocketURL is the AssemblyAI v3 streaming endpoint.
const DefaultWebSocketURL = "wss://streaming.assemblyai.com/v3/ws"

const writeTimeout = 5 * time.Second

// Close codes the service uses for account problems.
const (
	closeNotAuthorized     = 4001
	closeInsufficientFunds = 4002
	closeFreeTierLimit     = 4003
)

// WebSocketTransport speaks the Begin/Turn/Termination protocol over a
// websocket.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewWebSocketTransport creates a transport. An empty rawURL uses
// DefaultWebSocketURL.
func NewWebSocketTransport(rawURL string) *WebSocketTransport {
	if rawURL == "" {
		rawURL = DefaultWebSocketURL
	}
	return &WebSocketTransport{URL: rawURL, Dialer: websocket.DefaultDialer}
}

func (t *WebSocketTransport) Name() string        { return "assemblyai" }
func (t *WebSocketTransport) DisplayName() string { return "AssemblyAI Streaming" }

func (t *WebSocketTransport) Dial(ctx context.Context, p Params) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("parse url: %w", err)}
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(p.SampleRate))
	q.Set("encoding", p.Encoding)
	q.Set("format_turns", strconv.FormatBool(p.FormatTurns))
	if len(p.Keyterms) > 0 {
		terms, _ := json.Marshal(p.Keyterms)
		q.Set("keyterms_prompt", string(terms))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if p.APIKey != "" {
		header.Set("Authorization", p.APIKey)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, classifyDial(resp, err)
	}
	return &wsConn{conn: conn}, nil
}

func classifyDial(resp *http.Response, err error) error {
	if resp == nil {
		return &NetworkError{Retryable: true, Err: fmt.Errorf("dial: %w", err)}
	}
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{Reason: resp.Status}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &NetworkError{Retryable: true, Err: fmt.Errorf("dial: %s", resp.Status)}
	default:
		return &NetworkError{Retryable: false, Err: fmt.Errorf("dial: %s", resp.Status)}
	}
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *wsConn) ReadEvent(ctx context.Context) (Event, error) {
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)

	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, classifyRead(err)
	}
	if typ != websocket.TextMessage {
		return nil, &ProtocolError{Err: fmt.Errorf("unexpected message type %d", typ)}
	}
	return ParseEvent(data)
}

func classifyRead(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return &NetworkError{Retryable: true, Err: err}
	}
	switch ce.Code {
	case websocket.CloseNormalClosure:
		return io.EOF
	case closeNotAuthorized:
		return &AuthError{Reason: ce.Text}
	case websocket.ClosePolicyViolation, closeInsufficientFunds, closeFreeTierLimit:
		return &NetworkError{Retryable: false, Err: err}
	default:
		return &NetworkError{Retryable: true, Err: err}
	}
}

func (c *wsConn) write(typ int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(typ, data); err != nil {
		return &NetworkError{Retryable: true, Err: fmt.Errorf("write: %w", err)}
	}
	return nil
}

func (c *wsConn) WriteAudio(pcm []byte) error {
	return c.write(websocket.BinaryMessage, pcm)
}

func (c *wsConn) Terminate() error {
	return c.write(websocket.TextMessage, terminateMessage)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
