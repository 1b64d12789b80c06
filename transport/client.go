package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/fxamacker/cbor/v2"
	"nhooyr.io/websocket"
)

// DefaultTimeout bounds a single exchange.
const DefaultTimeout = 10 * time.Second

// Client issues protocol requests over HTTP. It implements protocol.Client.
type Client struct {
	httpClient *http.Client
	origin     string
	log        *slog.Logger
}

var _ protocol.Client = (*Client)(nil)

// NewClient creates a client announcing origin as its own endpoint. An empty
// origin lets the receiver fall back to the connection's remote address.
func NewClient(origin string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		origin:     origin,
		log:        log,
	}
}

func (c *Client) header(req *protocol.Request) http.Header {
	h := make(http.Header)
	if c.origin != "" {
		h.Set(HeaderOriginEndpoint, c.origin)
	}
	setAccept(h, req.Accept)
	setContentFormat(h, req.ContentFormat)
	return h
}

// Do performs a single exchange with dest.
func (c *Client) Do(ctx context.Context, dest string, req *protocol.Request) (*protocol.Response, error) {
	method := string(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, "http://"+dest+req.Path, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = c.header(req)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s%s: %w", method, dest, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", dest, err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", dest, MaxPayloadSize)
	}
	return responseFromHTTP(resp, body), nil
}

// Observe opens an observe stream on dest. A resource that does not support
// observation answers once; that answer is delivered and the channel closed.
func (c *Client) Observe(ctx context.Context, dest string, req *protocol.Request) (<-chan *protocol.Response, error) {
	conn, resp, err := websocket.Dial(ctx, "ws://"+dest+req.Path, &websocket.DialOptions{
		HTTPHeader: c.header(req),
	})
	if err != nil {
		if resp == nil || resp.StatusCode == http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("observe %s%s: %w", dest, req.Path, err)
		}
		// nhooyr replaces the body with the first kilobyte it read.
		body, _ := io.ReadAll(resp.Body)
		once := make(chan *protocol.Response, 1)
		once <- responseFromHTTP(resp, body)
		close(once)
		return once, nil
	}
	conn.SetReadLimit(MaxPayloadSize)

	out := make(chan *protocol.Response)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
					c.log.Debug("Observe stream ended", "dest", dest, "path", req.Path, "err", err)
				}
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}

			var notification protocol.Response
			if err := cbor.Unmarshal(data, &notification); err != nil {
				c.log.Warn("Dropping malformed notification", "dest", dest, "path", req.Path, "err", err)
				continue
			}

			select {
			case out <- &notification:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
