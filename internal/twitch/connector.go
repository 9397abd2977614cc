// Package twitch ingests a Twitch channel's chat over IRC and publishes
// canonical events to the hub.
package twitch

import (
	"context"
	"fmt"
	"log"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/pacdouglas/live-xumbrega/internal/event"
	"github.com/pacdouglas/live-xumbrega/internal/render"
)

// retryDelay is how long to wait before reconnecting after a lost
// connection.
const retryDelay = 5 * time.Second

// Hub is the event sink the connector publishes into.
type Hub interface {
	Publish(event.Event)
	SetStatus(platform string, on bool)
}

// Connector manages the Twitch chat connection for one channel.
type Connector struct {
	channel string
	hub     Hub
}

// New creates a new Twitch connector for the given channel.
func New(channel string, hub Hub) *Connector {
	return &Connector{channel: channel, hub: hub}
}

// Run connects to Twitch chat and keeps reconnecting until ctx is
// cancelled. Each lost connection publishes a disconnect status before
// the retry delay.
func (c *Connector) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[tw] disconnected: %v, reconnecting in %s", err, retryDelay)
		c.hub.SetStatus(event.PlatformTwitch, false)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectOnce runs a single anonymous IRC session, blocking until the
// connection fails or ctx is cancelled.
func (c *Connector) connectOnce(ctx context.Context) error {
	client := twitch.NewAnonymousClient()

	client.OnConnect(func() {
		log.Printf("[tw] connected — #%s", c.channel)
		c.hub.SetStatus(event.PlatformTwitch, true)
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟣 Twitch conectado — #%s", c.channel)})
	})
	client.OnPrivateMessage(c.handlePrivateMessage)
	client.OnUserNoticeMessage(c.handleUserNotice)

	client.Join(c.channel)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Disconnect()
		case <-done:
		}
	}()

	err := client.Connect()
	close(done)
	return err
}

// handlePrivateMessage renders one chat line and publishes it. The raw
// IRCv3 emotes tag drives the positional emote substitution.
func (c *Connector) handlePrivateMessage(msg twitch.PrivateMessage) {
	user := msg.User.DisplayName
	if user == "" {
		user = "Anônimo"
	}
	html := render.TwitchEmotes(msg.Message, msg.Tags["emotes"])

	c.hub.Publish(event.Chat{
		Platform: event.PlatformTwitch,
		User:     user,
		Color:    msg.User.Color,
		HTML:     html,
	})
}

// handleUserNotice turns subscription, gift and raid notices into system
// announcements. Other notice kinds are ignored.
func (c *Connector) handleUserNotice(msg twitch.UserNoticeMessage) {
	user := msg.User.DisplayName
	if user == "" {
		user = "Alguém"
	}

	switch msg.MsgID {
	case "sub", "resub":
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟣 %s assinou na Twitch!", user)})
	case "subgift", "anonsubgift":
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟣 %s deu um sub na Twitch!", user)})
	case "raid":
		viewers := msg.MsgParams["msg-param-viewerCount"]
		if viewers == "" {
			viewers = "?"
		}
		c.hub.Publish(event.Notice{Text: fmt.Sprintf("🟣 Raid de %s — %s viewers!", user, viewers)})
	}
}
