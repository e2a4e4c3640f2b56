// Package twitchchat adapts Twitch IRC chat to the bot's transport interface.
//
// Twitch has no invitations: the bot joins the channels it is configured
// with, and every PRIVMSG seen in those channels is delivered as a message
// event from a joined room. /me actions are delivered as non-text messages.
package twitchchat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/virto-network/reference-bot/bot"
)

// MaxMessageLength is the longest PRIVMSG body Twitch accepts.
const MaxMessageLength = 500

// Options configures the IRC connection.
type Options struct {
	Username   string
	OAuthToken string
	Channels   []string
}

// Client is a bot.Conn over Twitch IRC.
type Client struct {
	irc      *twitch.Client
	self     string
	channels []string

	mu     sync.Mutex
	joined map[string]bool
}

var _ bot.Conn = (*Client)(nil)

// New builds a client; no network traffic happens until Sync.
func New(opts Options) (*Client, error) {
	if opts.Username == "" || opts.OAuthToken == "" {
		return nil, errors.New("twitchchat: username and oauth token are required")
	}
	token := opts.OAuthToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	c := &Client{
		irc:    twitch.NewClient(opts.Username, token),
		self:   strings.ToLower(opts.Username),
		joined: make(map[string]bool),
	}
	for _, ch := range opts.Channels {
		if ch = normalizeChannel(ch); ch != "" {
			c.channels = append(c.channels, ch)
		}
	}
	return c, nil
}

// OwnIdentity returns the bot's login name.
func (c *Client) OwnIdentity() string { return c.self }

// AcceptInvitation joins channel.
func (c *Client) AcceptInvitation(_ context.Context, channel string) error {
	channel = normalizeChannel(channel)
	if channel == "" {
		return errors.New("twitchchat: empty channel")
	}
	c.irc.Join(channel)
	c.mu.Lock()
	c.joined[channel] = true
	c.mu.Unlock()
	return nil
}

// SendText says text in channel, split into IRC-sized chunks.
func (c *Client) SendText(_ context.Context, channel, text string) error {
	for _, part := range SplitMessage(text, MaxMessageLength) {
		c.irc.Say(normalizeChannel(channel), part)
	}
	return nil
}

// Sync joins the configured channels and delivers chat until ctx ends or the connection fails.
func (c *Client) Sync(ctx context.Context, dispatch bot.DispatchFunc) error {
	c.irc.OnConnect(func() {
		slog.Info("twitch chat connected", slog.Int("channels", len(c.channels)))
	})
	c.irc.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		dispatch(ctx, bot.MessageEvent(c.toMessage(msg)))
	})
	for _, ch := range c.channels {
		if err := c.AcceptInvitation(ctx, ch); err != nil {
			return err
		}
	}

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.irc.Disconnect()
		case <-done:
		}
	}()

	err := c.irc.Connect()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) toMessage(msg twitch.PrivateMessage) bot.Message {
	c.mu.Lock()
	joined := c.joined[normalizeChannel(msg.Channel)]
	c.mu.Unlock()
	return toMessage(msg, joined)
}

func toMessage(msg twitch.PrivateMessage, joined bool) bot.Message {
	state := bot.RoomUnknown
	if joined {
		state = bot.RoomJoined
	}
	kind := bot.KindText
	if msg.Action {
		kind = bot.KindOther
	}
	return bot.Message{
		ID:        msg.ID,
		RoomID:    normalizeChannel(msg.Channel),
		Sender:    strings.ToLower(msg.User.Name),
		RoomState: state,
		Kind:      kind,
		Body:      msg.Message,
	}
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

// SplitMessage breaks text into chunks of at most limit runes, preferring to
// cut at the last space inside the window.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), " "))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if rest := strings.TrimRight(string(runes), " "); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
