// Package kick ingests a Kick channel's chat over the Pusher WebSocket
// protocol and publishes canonical events to the hub.
package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pacdouglas/live-xumbrega/internal/event"
	"github.com/pacdouglas/live-xumbrega/internal/render"
)

const (
	// Pusher app credentials used by the Kick web client.
	DefaultPusherKey     = "32cbd69e4b950bf97679"
	DefaultPusherCluster = "us2"

	retryDelay   = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// Pusher event names Kick emits on a chatroom channel. The payload of the
// App\Events ones may arrive either as a JSON object or as a JSON string
// containing an object; decodePayload normalizes both.
const (
	evConnectionEstablished = "pusher:connection_established"
	evSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	evPing                  = "pusher:ping"
	evChatMessage           = `App\Events\ChatMessageEvent`
	evSubscription          = `App\Events\SubscriptionEvent`
	evGiftedSubscriptions   = `App\Events\GiftedSubscriptionsEvent`
)

// Hub is the event sink the connector publishes into.
type Hub interface {
	Publish(event.Event)
	SetStatus(platform string, on bool)
}

// Connector manages the Kick chat connection for one channel.
type Connector struct {
	channel    string
	chatroomID int // 0 means resolve via the channel API each attempt
	hub        Hub

	apiBase   string
	pusherURL string
	httpc     *http.Client
}

// New creates a new Kick connector. chatroomID may be pre-configured to
// skip the channel lookup (the API occasionally rate-limits it).
func New(channel string, chatroomID int, hub Hub) *Connector {
	return &Connector{
		channel:    channel,
		chatroomID: chatroomID,
		hub:        hub,
		apiBase:    DefaultAPIBase,
		pusherURL: fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?protocol=7&client=go&version=7.6.0",
			DefaultPusherCluster, DefaultPusherKey),
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run connects to Kick chat and keeps reconnecting until ctx is cancelled.
// Every failure, in either the lookup or the WebSocket phase, publishes a
// disconnect status and retries the whole bootstrap.
func (c *Connector) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[ki] disconnected: %v, reconnecting in %s", err, retryDelay)
		c.hub.SetStatus(event.PlatformKick, false)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectOnce resolves the chatroom, opens the Pusher socket and pumps
// events until the connection dies.
func (c *Connector) connectOnce(ctx context.Context) error {
	chatroomID := c.chatroomID
	if chatroomID == 0 {
		channel, err := FetchChannel(ctx, c.httpc, c.apiBase, c.channel)
		if err != nil {
			return fmt.Errorf("resolve channel: %w", err)
		}
		if channel.Chatroom.ID == 0 {
			return fmt.Errorf("channel %q has no chatroom id", c.channel)
		}
		chatroomID = channel.Chatroom.ID
		log.Printf("[ki] chatroom ID: %d", chatroomID)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.pusherURL, nil)
	if err != nil {
		return fmt.Errorf("dial pusher: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sender := &wsSender{conn: conn}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.handleFrame(sender, chatroomID, data); err != nil {
			return err
		}
	}
}

// frameSender abstracts the outbound half of the socket so frame handling
// can be tested without a connection.
type frameSender interface {
	send(v any) error
}

type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// envelope is the Pusher wire envelope. Data is left raw because its
// encoding varies by event.
type envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Channel string          `json:"channel,omitempty"`
}

// handleFrame dispatches one inbound Pusher frame. Unknown events and
// frames whose payload fails to decode are ignored; only send failures
// abort the connection.
func (c *Connector) handleFrame(sender frameSender, chatroomID int, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[ki] bad frame: %v", err)
		return nil
	}

	switch env.Event {
	case evConnectionEstablished:
		sub := map[string]any{
			"event": "pusher:subscribe",
			"data":  map[string]string{"channel": fmt.Sprintf("chatrooms.%d.v2", chatroomID)},
		}
		if err := sender.send(sub); err != nil {
			return fmt.Errorf("send subscribe: %w", err)
		}

	case evSubscriptionSucceeded:
		log.Printf("[ki] connected — %s", c.channel)
		c.hub.SetStatus(event.PlatformKick, true)
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟢 Kick conectado — %s", c.channel)})

	case evPing:
		pong := map[string]any{"event": "pusher:pong", "data": map[string]string{}}
		if err := sender.send(pong); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}

	case evChatMessage:
		var msg chatMessagePayload
		if err := decodePayload(env.Data, &msg); err != nil {
			log.Printf("[ki] bad chat payload: %v", err)
			return nil
		}
		c.publishChat(msg)

	case evSubscription:
		var sub subscriptionPayload
		if err := decodePayload(env.Data, &sub); err != nil {
			log.Printf("[ki] bad subscription payload: %v", err)
			return nil
		}
		who := sub.Username
		if who == "" {
			who = "Alguém"
		}
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟢 %s assinou no Kick!", who)})

	case evGiftedSubscriptions:
		var gift giftedSubscriptionsPayload
		if err := decodePayload(env.Data, &gift); err != nil {
			log.Printf("[ki] bad gift payload: %v", err)
			return nil
		}
		giftedBy := gift.GiftedBy
		if giftedBy == "" {
			giftedBy = "Alguém"
		}
		count := len(gift.GiftedUsernames)
		if count == 0 {
			count = 1
		}
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟢 %s deu %d sub(s) no Kick!", giftedBy, count)})
	}

	return nil
}

type chatMessagePayload struct {
	Content string `json:"content"`
	Sender  struct {
		Username string `json:"username"`
		Slug     string `json:"slug"`
		Identity struct {
			Color string `json:"color"`
		} `json:"identity"`
	} `json:"sender"`
}

type subscriptionPayload struct {
	Username string `json:"username"`
}

type giftedSubscriptionsPayload struct {
	GiftedBy        string   `json:"gifted_by"`
	GiftedUsernames []string `json:"gifted_usernames"`
}

func (c *Connector) publishChat(msg chatMessagePayload) {
	if msg.Content == "" {
		return
	}
	user := msg.Sender.Username
	if user == "" {
		user = msg.Sender.Slug
	}
	if user == "" {
		user = "Anônimo"
	}

	c.hub.Publish(event.Chat{
		Platform: event.PlatformKick,
		User:     user,
		Color:    msg.Sender.Identity.Color,
		HTML:     render.KickEmotes(msg.Content),
	})
}

// decodePayload unmarshals a Pusher event payload into v. Pusher delivers
// payloads either as a JSON object or as a JSON string containing the
// object; the string form gets a secondary decode.
func decodePayload(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty payload")
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return fmt.Errorf("unwrap string payload: %w", err)
		}
		return json.Unmarshal([]byte(inner), v)
	}
	return json.Unmarshal(trimmed, v)
}
