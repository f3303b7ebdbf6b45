package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"unicode/utf8"

	"github.com/coder/websocket"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/streamz/internal/stream"
)

// DefaultBufferSize is the WebSocketConfig.BufferSize used when unset.
const DefaultBufferSize = 256

// readLimitUnit scales BufferSize into the maximum accepted message size.
const readLimitUnit = 1024

// WebSocketConfig describes one WebSocket subscription.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// InitMessages are sent as text frames right after connecting, in order.
	InitMessages []string

	// BufferSize bounds incoming messages to BufferSize KiB.
	BufferSize int

	// Normalize applies Unicode NFC normalization to every emitted message.
	Normalize bool
}

// WebSocket emits every text message received on one connection.
//
// Binary messages are emitted only when they hold valid UTF-8. A close
// frame from the peer ends the run successfully, whatever its status code.
type WebSocket struct {
	cfg    WebSocketConfig
	out    *stream.Source[string]
	logger *slog.Logger
}

// NewWebSocket validates cfg and returns a producer that feeds out.
func NewWebSocket(cfg WebSocketConfig, out *stream.Source[string], opts ...Option) (*WebSocket, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, configError("websocket url %q: %v", cfg.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, configError("websocket url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
	if cfg.BufferSize < 0 {
		return nil, configError("websocket buffer size %d is negative", cfg.BufferSize)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if out == nil {
		return nil, configError("websocket %q has no output source", cfg.URL)
	}

	o := buildOptions(opts)
	return &WebSocket{
		cfg:    cfg,
		out:    out,
		logger: o.logger.With("source", "websocket", "url", cfg.URL),
	}, nil
}

// Run connects, sends the init messages and emits until the peer closes
// the connection or ctx is done.
func (w *WebSocket) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(int64(w.cfg.BufferSize) * readLimitUnit)
	w.logger.Info("websocket connected")

	for i, msg := range w.cfg.InitMessages {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			return fmt.Errorf("websocket send init message %d: %w", i, err)
		}
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				w.logger.Info("websocket closed by peer", "status", status.String())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		if typ == websocket.MessageBinary && !utf8.Valid(data) {
			w.logger.Debug("dropping binary message that is not valid UTF-8", "bytes", len(data))
			continue
		}

		text := string(data)
		if w.cfg.Normalize {
			text = norm.NFC.String(text)
		}
		if err := w.out.EmitContext(ctx, text); err != nil {
			return err
		}
	}
}
