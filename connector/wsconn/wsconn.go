// Package wsconn carries a byte stream over a WebSocket connection. Each
// chunk travels as one binary message and an empty binary message marks
// the end of the stream, so both directions of one connection can carry a
// stream at the same time.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/connector"
	"github.com/BaSui01/bytestream/internal/tlsutil"
	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/types"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 123

// Dial connects to url using the limits in cfg. wss:// URLs are dialed
// with the hardened TLS settings from cfg.TLS.
func Dial(ctx context.Context, url string, cfg config.WebSocketConfig) (*websocket.Conn, error) {
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	var opts *websocket.DialOptions
	if strings.HasPrefix(url, "wss://") {
		tlsCfg, err := tlsutil.ClientConfig(cfg.TLS)
		if err != nil {
			return nil, types.NewError(types.ErrConnector, "websocket tls config").WithCause(err)
		}
		opts = &websocket.DialOptions{HTTPClient: tlsutil.UpgradeClient(tlsCfg)}
	}
	conn, resp, err := websocket.Dial(ctx, url, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, types.NewError(types.ErrConnector, "websocket dial failed").WithCause(err).WithRetryable(true)
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	return conn, nil
}

// Accept upgrades an HTTP request using the limits in cfg.
func Accept(w http.ResponseWriter, r *http.Request, cfg config.WebSocketConfig) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	return conn, nil
}

// Options configures a Source.
type Options struct {
	// CloseOnCancel closes the connection when the consumer cancels.
	CloseOnCancel bool
	Logger        *zap.Logger
}

// Source reads binary messages from conn until the end marker or a close
// frame. A normal closure ends the stream; any other close status errors it.
func Source(conn *websocket.Conn, opts Options) stream.UnderlyingSource {
	return connector.NewFeed(connector.FeedConfig{
		Logger: opts.Logger,
		Fetch: func(ctx context.Context) (connector.Batch, error) {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return closeBatch(err)
			}
			if len(data) == 0 {
				return connector.Batch{EOF: true}, nil
			}
			return connector.Batch{Chunks: [][]byte{data}}, nil
		},
		Cancel: func(ctx context.Context, reason error) error {
			if !opts.CloseOnCancel {
				return nil
			}
			return conn.Close(websocket.StatusGoingAway, closeReason("canceled", reason))
		},
	})
}

func closeBatch(err error) (connector.Batch, error) {
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		return connector.Batch{}, types.NewError(types.ErrConnector, "websocket read failed").WithCause(err)
	}
	switch ce.Code {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return connector.Batch{EOF: true}, nil
	default:
		return connector.Batch{
			EOF: true,
			Err: types.Errorf(types.ErrConnector, "peer closed with status %d: %s", int(ce.Code), ce.Reason),
		}, nil
	}
}

// SinkOptions configures a Sink.
type SinkOptions struct {
	// CloseConn closes the connection with a normal closure after the end
	// marker is sent.
	CloseConn bool
}

// Sink writes each chunk as a binary message.
func Sink(conn *websocket.Conn, opts SinkOptions) stream.Sink {
	return &sink{conn: conn, opts: opts}
}

type sink struct {
	conn *websocket.Conn
	opts SinkOptions
}

func (s *sink) Write(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := s.conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		return types.NewError(types.ErrConnector, "websocket write failed").WithCause(err)
	}
	return nil
}

func (s *sink) Close(ctx context.Context) error {
	if err := s.conn.Write(ctx, websocket.MessageBinary, nil); err != nil {
		return types.NewError(types.ErrConnector, "websocket end marker failed").WithCause(err)
	}
	if s.opts.CloseConn {
		return s.conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (s *sink) Abort(ctx context.Context, reason error) error {
	return s.conn.Close(websocket.StatusInternalError, closeReason("aborted", reason))
}

func closeReason(prefix string, reason error) string {
	msg := prefix
	if reason != nil {
		msg = fmt.Sprintf("%s: %v", prefix, reason)
	}
	if len(msg) > maxCloseReason {
		msg = strings.ToValidUTF8(msg[:maxCloseReason], "")
	}
	return msg
}
