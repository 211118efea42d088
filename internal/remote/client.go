package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	pushPath   = "/chat/message"
	pullPath   = "/chat/messages/{chatId}"
	socketPath = "/chat/ws"

	maxEventSize = 1 << 20
	maxErrorBody = 256
)

// Client talks to the chat server: the push and pull HTTP endpoints and the
// message event socket.
type Client struct {
	http   *resty.Client
	base   *url.URL
	dialer *websocket.Dialer
}

// New returns a client for the server at baseURL (http or https, optionally
// with a path prefix). timeout bounds each HTTP request and socket handshake.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q: missing host", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	hc := resty.New().
		SetBaseURL(u.String()).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Client{
		http: hc,
		base: u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}, nil
}

// BaseURL returns the server url the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

type createMessageRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// CreateMessage posts a message and returns the server's canonical record.
func (c *Client) CreateMessage(ctx context.Context, token, chatID, content string) (*Message, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(createMessageRequest{ChatID: chatID, Content: content}).
		Post(pushPath)
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp)
	}

	var m Message
	if err := json.Unmarshal(resp.Body(), &m); err != nil {
		return nil, fmt.Errorf("%w: decode push response: %v", ErrMalformed, err)
	}
	if err := m.Validate(chatID); err != nil {
		return nil, fmt.Errorf("push response: %w", err)
	}
	return &m, nil
}

// ListMessagesAfter fetches the messages of a chat created after the given
// epoch-millisecond watermark. The server may return them in any order.
func (c *Client) ListMessagesAfter(ctx context.Context, token, chatID string, after int64) (*Batch, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("chatId", chatID).
		SetQueryParam("after", strconv.FormatInt(after, 10)).
		Get(pullPath)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp)
	}
	return decodeBatch(resp.Body(), chatID)
}

func statusError(resp *resty.Response) error {
	return &StatusError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL,
		StatusCode: resp.StatusCode(),
		Body:       truncate(strings.TrimSpace(resp.String()), maxErrorBody),
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SocketURL returns the event socket address for a chat.
func (c *Client) SocketURL(chatID, token string) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath
	q := url.Values{}
	q.Set("chatId", chatID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Subscribe opens the event socket of a chat.
func (c *Client) Subscribe(ctx context.Context, chatID, token string) (*Stream, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.SocketURL(chatID, token), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &StatusError{
				Method:     http.MethodGet,
				Path:       socketPath,
				StatusCode: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("dial event socket: %w", err)
	}
	conn.SetReadLimit(maxEventSize)
	return &Stream{conn: conn}, nil
}

// Stream is an open event socket. Next must be called from one goroutine;
// Close may be called from any goroutine and unblocks Next.
type Stream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Next blocks for the next event. Undecodable frames return an error wrapping
// ErrMalformed and leave the stream usable; any other error means the
// connection is gone.
func (s *Stream) Next() (*Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeEvent(data)
}

// Close sends a close frame and tears the connection down.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}
