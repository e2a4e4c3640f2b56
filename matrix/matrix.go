// Package matrix connects the bot to a Matrix homeserver.
//
// Connect resolves the homeserver, reuses a stored access token when the
// server still accepts it and otherwise logs in with the password. Sync maps
// m.room.member invites and m.room.message events onto bot events; the sync
// section an event arrives in (invite, join, leave) becomes the room state the
// bot sees.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/virto-network/reference-bot/bot"
	"github.com/virto-network/reference-bot/telemetry"
)

const syncRetryDelay = 10 * time.Second

// Options configures the Matrix login.
type Options struct {
	UserID     string
	Password   string
	Homeserver string // empty means .well-known discovery from the user id
	DeviceName string
}

// Client is a bot.Conn backed by mautrix.
type Client struct {
	cli     *mautrix.Client
	healthy atomic.Bool
	synced  atomic.Bool
	// initial is set while the first sync of an empty store is processed.
	initial atomic.Bool
}

var _ bot.Conn = (*Client)(nil)

// Connect logs in and returns a client ready to Sync. sessions may be nil, in
// which case every start performs a password login.
func Connect(ctx context.Context, opts Options, sessions SessionStore, syncStore mautrix.SyncStore) (*Client, error) {
	userID := id.UserID(opts.UserID)
	_, server, err := userID.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", opts.UserID, err)
	}
	hs := opts.Homeserver
	if hs == "" {
		hs = discoverHomeserver(ctx, server)
	}

	cli, err := resume(ctx, hs, userID, sessions)
	if err != nil {
		return nil, err
	}
	if cli == nil {
		if cli, err = login(ctx, hs, opts, sessions); err != nil {
			return nil, err
		}
	}
	if syncStore != nil {
		cli.Store = syncStore
	}
	c := &Client{cli: cli}
	c.healthy.Store(true)
	return c, nil
}

func discoverHomeserver(ctx context.Context, server string) string {
	wk, err := mautrix.DiscoverClientAPI(ctx, server)
	if err != nil || wk == nil || wk.Homeserver.BaseURL == "" {
		if err != nil {
			slog.Warn("homeserver discovery failed; using server name", slog.String("server", server), slog.Any("err", err))
		}
		return "https://" + server
	}
	return wk.Homeserver.BaseURL
}

// resume returns a client for the stored session, or nil when there is none
// or the server no longer accepts its token.
func resume(ctx context.Context, hs string, userID id.UserID, sessions SessionStore) (*mautrix.Client, error) {
	if sessions == nil {
		return nil, nil
	}
	sess, err := sessions.LoadSession(ctx, userID.String())
	if err != nil {
		slog.Warn("failed to load matrix session", slog.Any("err", err))
		return nil, nil
	}
	if sess == nil || sess.AccessToken == "" {
		return nil, nil
	}
	if sess.Homeserver != "" && sess.Homeserver != hs {
		slog.Info("stored session is for another homeserver; logging in again", slog.String("stored", sess.Homeserver))
		return nil, nil
	}
	cli, err := mautrix.NewClient(hs, userID, sess.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}
	cli.DeviceID = id.DeviceID(sess.DeviceID)
	who, err := cli.Whoami(ctx)
	if err != nil || who.UserID != userID {
		slog.Info("stored matrix session rejected; logging in again", slog.Any("err", err))
		return nil, nil
	}
	slog.Info("reusing matrix session", slog.String("user", userID.String()), slog.String("device", sess.DeviceID))
	return cli, nil
}

func login(ctx context.Context, hs string, opts Options, sessions SessionStore) (*mautrix.Client, error) {
	if opts.Password == "" {
		return nil, errors.New("matrix: password is required to log in")
	}
	cli, err := mautrix.NewClient(hs, "", "")
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}
	localpart, _, _ := id.UserID(opts.UserID).Parse()
	resp, err := cli.Login(ctx, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: localpart},
		Password:                 opts.Password,
		InitialDeviceDisplayName: opts.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix login: %w", err)
	}
	slog.Info("logged in to matrix", slog.String("user", resp.UserID.String()), slog.String("device", resp.DeviceID.String()))
	if sessions != nil {
		err := sessions.SaveSession(ctx, Session{
			UserID:      resp.UserID.String(),
			DeviceID:    resp.DeviceID.String(),
			AccessToken: resp.AccessToken,
			Homeserver:  hs,
		})
		if err != nil {
			slog.Warn("failed to store matrix session", slog.Any("err", err))
		}
	}
	return cli, nil
}

// OwnIdentity returns the logged-in user id.
func (c *Client) OwnIdentity() string { return c.cli.UserID.String() }

// AcceptInvitation joins roomID.
func (c *Client) AcceptInvitation(ctx context.Context, roomID string) error {
	_, err := c.cli.JoinRoomByID(ctx, id.RoomID(roomID))
	return err
}

// SendText posts an m.text message.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	_, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	})
	return err
}

// Sync runs the sync loop until ctx ends or the server rejects the session.
// On the first sync of a fresh store, timeline messages are history and are
// skipped; pending invitations are still delivered.
func (c *Client) Sync(ctx context.Context, dispatch bot.DispatchFunc) error {
	syncer, ok := c.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnSync(func(_ context.Context, _ *mautrix.RespSync, since string) bool {
		c.initial.Store(since == "")
		c.setHealthy(true)
		c.synced.Store(true)
		return true
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if ev, ok := membershipEvent(evt); ok {
			dispatch(ctx, ev)
		}
	})
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if c.initial.Load() {
			return
		}
		if ev, ok := messageEvent(evt); ok {
			dispatch(ctx, ev)
		}
	})
	c.cli.Syncer = &healthSyncer{DefaultSyncer: syncer, client: c}

	err := c.cli.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Health reports whether the last sync succeeded.
func (c *Client) Health(context.Context) error {
	if !c.healthy.Load() {
		return errors.New("matrix sync failing")
	}
	if !c.synced.Load() {
		return errors.New("matrix not synced yet")
	}
	return nil
}

func (c *Client) setHealthy(ok bool) {
	c.healthy.Store(ok)
	telemetry.SetSyncHealthy(ok)
}

type healthSyncer struct {
	*mautrix.DefaultSyncer
	client *Client
}

// OnFailedSync marks the transport unhealthy. An unknown token ends the loop;
// anything else is retried.
func (s *healthSyncer) OnFailedSync(_ *mautrix.RespSync, err error) (time.Duration, error) {
	s.client.setHealthy(false)
	if errors.Is(err, mautrix.MUnknownToken) {
		return 0, err
	}
	if errors.Is(err, context.Canceled) {
		return 0, err
	}
	slog.Warn("matrix sync failed, retrying", slog.Duration("in", syncRetryDelay), slog.Any("err", err))
	return syncRetryDelay, nil
}
