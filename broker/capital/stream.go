package capital

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/market"
)

// Stream subscribes to live quotes over the streaming websocket and keeps a
// TickStore current.
type Stream struct {
	URL   string
	Creds Credentials
	Ticks *market.TickStore

	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewStream(url string, creds Credentials, ticks *market.TickStore, log *slog.Logger) *Stream {
	return &Stream{
		URL:            url,
		Creds:          creds,
		Ticks:          ticks,
		PingInterval:   5 * time.Minute,
		WriteTimeout:   10 * time.Second,
		ReconnectDelay: 2 * time.Second,
		Dialer:         websocket.DefaultDialer,
		log:            logging.OrDefault(log),
	}
}

type streamRequest struct {
	Destination   string `json:"destination"`
	CorrelationID string `json:"correlationId"`
	CST           string `json:"cst"`
	SecurityToken string `json:"securityToken"`
	Payload       any    `json:"payload,omitempty"`
}

type streamMessage struct {
	Status        string          `json:"status"`
	Destination   string          `json:"destination"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

type quotePayload struct {
	Epic      string  `json:"epic"`
	Bid       float64 `json:"bid"`
	Ofr       float64 `json:"ofr"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// Run keeps a subscription to epics alive until ctx is done, reconnecting
// after connection failures.
func (s *Stream) Run(ctx context.Context, epics []string) error {
	if len(epics) == 0 {
		return fmt.Errorf("capital stream: no epics")
	}
	for {
		err := s.session(ctx, epics)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("quote stream disconnected", "err", err, "retry_in", s.ReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.ReconnectDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context, epics []string) error {
	conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.log.Info("quote stream connected", "url", s.URL, "epics", epics)
	if err := s.send(conn, "marketData.subscribe", map[string]any{"epics": epics}); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(raw)
	}
}

// keepAlive pings the service and closes conn once ctx ends so the blocked
// read returns.
func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := s.send(conn, "ping", nil); err != nil {
				s.log.Warn("quote stream ping failed", "err", err)
				conn.Close()
				return
			}
		}
	}
}

func (s *Stream) send(conn *websocket.Conn, destination string, payload any) error {
	req := streamRequest{
		Destination:   destination,
		CorrelationID: uuid.NewString(),
		CST:           s.Creds.CST,
		SecurityToken: s.Creds.SecurityToken,
		Payload:       payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	return conn.WriteJSON(req)
}

func (s *Stream) handle(raw []byte) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn("quote stream: bad message", "err", err)
		return
	}

	switch msg.Destination {
	case "quote":
		var q quotePayload
		if err := json.Unmarshal(msg.Payload, &q); err != nil {
			s.log.Warn("quote stream: bad quote", "err", err)
			return
		}
		if q.Epic == "" || (q.Bid == 0 && q.Ofr == 0) {
			return
		}
		t := market.Tick{Instrument: q.Epic, Bid: q.Bid, Ask: q.Ofr, Time: time.UnixMilli(q.Timestamp).UTC()}
		if q.Timestamp == 0 {
			t.Time = time.Now().UTC()
		}
		s.Ticks.Set(t)
	case "marketData.subscribe":
		if msg.Status != "OK" {
			s.log.Error("quote subscription failed", "status", msg.Status, "payload", string(msg.Payload))
		}
	}
}
