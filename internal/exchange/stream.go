package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbd/pkg/types"
)

const (
	streamPingInterval = 50 * time.Second
	streamReadTimeout  = 90 * time.Second
	streamMaxBackoff   = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// bookStream is a single reconnecting WebSocket subscription that decodes
// venue-specific wire messages into normalized BookSnapshots. Both
// concrete adapters share this component rather than each hand-rolling
// their own reconnect loop — the only thing that differs between venues
// is the wire shape, carried in decode. Grounded on the teacher's
// WSFeed.Run/connectAndRead (exponential 1s→30s reconnect, 90s read
// deadline, 50s ping) generalized from a Polymarket-specific envelope
// dispatch to an injected decoder.
type bookStream struct {
	url        string
	marketRefs []string
	subscribe  func(marketRefs []string) interface{}
	decode     func(raw []byte) (types.BookSnapshot, bool)
	logger     *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	out chan types.BookSnapshot
}

func newBookStream(url string, marketRefs []string, subscribe func([]string) interface{}, decode func([]byte) (types.BookSnapshot, bool), logger *slog.Logger) *bookStream {
	return &bookStream{
		url:        url,
		marketRefs: marketRefs,
		subscribe:  subscribe,
		decode:     decode,
		logger:     logger,
		out:        make(chan types.BookSnapshot, 256),
	}
}

// run blocks, maintaining the connection with exponential backoff, until
// ctx is cancelled. The caller launches this in its own goroutine.
func (s *bookStream) run(ctx context.Context) {
	defer close(s.out)
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("book stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

func (s *bookStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(s.subscribe(s.marketRefs)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		snap, ok := s.decode(msg)
		if !ok {
			continue
		}
		select {
		case s.out <- snap:
		default:
			s.logger.Warn("book stream channel full, dropping snapshot", "market_ref", snap.MarketRef)
		}
	}
}

func (s *bookStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("book stream ping failed", "error", err)
				return
			}
		}
	}
}
