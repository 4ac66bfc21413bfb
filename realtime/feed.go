package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jonwraymond/datacache/observe"
)

var (
	// ErrNoInvalidator indicates the feed was configured without an
	// invalidation target.
	ErrNoInvalidator = errors.New("realtime: invalidator is required")

	// ErrNoURL indicates the feed was configured without a base URL.
	ErrNoURL = errors.New("realtime: base URL is required")

	// ErrAlreadyConnected indicates Connect was called twice.
	ErrAlreadyConnected = errors.New("realtime: already connected")
)

// Invalidator receives the cache effects of remote changes. The store
// implements it.
type Invalidator interface {
	InvalidateRecord(table, id string)
	InvalidateTable(table string)
}

// Config holds the feed configuration.
type Config struct {
	// BaseURL is the project URL; the websocket endpoint is derived
	// from it.
	BaseURL string

	// APIKey authenticates the websocket connection.
	APIKey string

	// Tables are the tables to watch.
	Tables []string

	// Invalidator receives invalidations for decoded events.
	Invalidator Invalidator

	// HeartbeatInterval is the Phoenix heartbeat period. Default: 30s.
	HeartbeatInterval time.Duration

	// HandshakeTimeout bounds the websocket dial. Default: 10s.
	HandshakeTimeout time.Duration

	// Logger receives feed diagnostics. Default: no-op.
	Logger observe.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoURL
	}
	if c.Invalidator == nil {
		return ErrNoInvalidator
	}
	return nil
}

// phxMessage is the Phoenix channel protocol frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// changePayload is the postgres-changes event body.
type changePayload struct {
	Type      string         `json:"type"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
}

// Feed is a live invalidation feed. Connect once; Close tears the
// connection down.
type Feed struct {
	wsURL       string
	tables      []string
	invalidator Invalidator
	heartbeat   time.Duration
	handshake   time.Duration
	log         observe.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	ref  int
}

// New creates a feed.
func New(cfg Config) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = 30 * time.Second
	}
	handshake := cfg.HandshakeTimeout
	if handshake == 0 {
		handshake = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}

	return &Feed{
		wsURL:       websocketURL(cfg.BaseURL, cfg.APIKey),
		tables:      cfg.Tables,
		invalidator: cfg.Invalidator,
		heartbeat:   heartbeat,
		handshake:   handshake,
		log:         logger.WithComponent("realtime"),
	}, nil
}

// websocketURL derives the realtime endpoint from the project URL.
func websocketURL(baseURL, apiKey string) string {
	wsURL := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	return wsURL + "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"
}

// Connect dials the endpoint, joins one channel per watched table,
// and starts the read and heartbeat loops.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.handshake}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}
	f.conn = conn
	f.done = make(chan struct{})

	for _, table := range f.tables {
		f.ref++
		ref := strconv.Itoa(f.ref)
		join := phxMessage{
			Topic:   topicFor(table),
			Event:   "phx_join",
			Payload: json.RawMessage(`{}`),
			Ref:     ref,
			JoinRef: ref,
		}
		if err := conn.WriteJSON(join); err != nil {
			conn.Close()
			f.conn = nil
			return fmt.Errorf("realtime: join %s: %w", table, err)
		}
	}

	go f.readLoop(f.conn, f.done)
	go f.heartbeatLoop(f.done)

	f.log.Info(ctx, "realtime feed connected",
		observe.Field{Key: "tables", Value: strings.Join(f.tables, ",")},
	)
	return nil
}

// Close shuts the feed down. Idempotent.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	close(f.done)

	f.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := f.conn.Close()
	f.conn = nil
	return err
}

func topicFor(table string) string {
	return "realtime:public:" + table
}

func tableFor(topic string) string {
	return strings.TrimPrefix(topic, "realtime:public:")
}

func (f *Feed) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				f.log.Warn(context.Background(), "realtime read failed",
					observe.Field{Key: "error", Value: err.Error()},
				)
			}
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		f.dispatch(msg)
	}
}

// dispatch maps one change event onto the invalidator. UPDATE and
// DELETE carry a row id and invalidate that record; INSERT (and any
// event without an id) invalidates the table, since the new row may
// satisfy any cached query.
func (f *Feed) dispatch(msg phxMessage) {
	switch msg.Event {
	case "phx_reply", "phx_close", "presence_state", "presence_diff", "heartbeat":
		return
	}

	var payload changePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}

	event := msg.Event
	if payload.Type != "" {
		event = payload.Type
	}
	table := tableFor(msg.Topic)
	if table == "" {
		return
	}

	id := changedRowID(payload)
	ctx := context.Background()

	switch event {
	case "INSERT":
		f.invalidator.InvalidateTable(table)
	case "UPDATE", "DELETE":
		if id == "" {
			f.invalidator.InvalidateTable(table)
			break
		}
		f.invalidator.InvalidateRecord(table, id)
	default:
		return
	}

	f.log.Debug(ctx, "remote change applied",
		observe.Field{Key: "table", Value: table},
		observe.Field{Key: "event", Value: event},
		observe.Field{Key: "id", Value: id},
	)
}

func changedRowID(payload changePayload) string {
	if id, ok := payload.Record["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := payload.OldRecord["id"].(string); ok {
		return id
	}
	return ""
}

func (f *Feed) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != nil {
				f.ref++
				beat := phxMessage{
					Topic:   "phoenix",
					Event:   "heartbeat",
					Payload: json.RawMessage(`{}`),
					Ref:     strconv.Itoa(f.ref),
				}
				f.conn.WriteJSON(beat)
			}
			f.mu.Unlock()
		}
	}
}
