package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/virto-network/reference-bot/backoff"
	"github.com/virto-network/reference-bot/telemetry"
)

const defaultDrain = 10 * time.Second

// Options wires a Runtime.
type Options struct {
	Conn      Conn
	Completer Completer
	Model     string
	Reference string

	// InvitePolicy defaults to backoff.InvitePolicy.
	InvitePolicy backoff.Policy
	// Drain bounds how long Run waits for in-flight handlers after the sync loop ends.
	Drain time.Duration
}

// Runtime registers the handlers on a dispatch table and drives the transport's receive loop.
type Runtime struct {
	conn       Conn
	dispatcher *Dispatcher
	drain      time.Duration
}

// New validates opts and registers the membership and message handlers.
func New(opts Options) (*Runtime, error) {
	if opts.Conn == nil {
		return nil, errors.New("bot: transport is required")
	}
	if opts.Completer == nil {
		return nil, errors.New("bot: completer is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bot: model is required")
	}
	policy := opts.InvitePolicy
	if policy == (backoff.Policy{}) {
		policy = backoff.InvitePolicy
	}
	drain := opts.Drain
	if drain <= 0 {
		drain = defaultDrain
	}

	d := NewDispatcher()
	invites := &InvitationHandler{Transport: opts.Conn, Policy: policy}
	pipeline := &Pipeline{Transport: opts.Conn, Completer: opts.Completer, Model: opts.Model, Reference: opts.Reference}
	d.Register(EventMembership, "invitation", invites.Handle)
	d.Register(EventMessage, "reply", pipeline.Handle)
	d.Register(EventMessage, "receipt-log", logReceipt(opts.Conn))

	return &Runtime{conn: opts.Conn, dispatcher: d, drain: drain}, nil
}

// Dispatcher exposes the dispatch table so callers can register extra handlers before Run.
func (r *Runtime) Dispatcher() *Dispatcher { return r.dispatcher }

// Run blocks in the transport's sync loop. Cancelling ctx is a clean shutdown
// and returns nil; a transport failure is returned.
func (r *Runtime) Run(ctx context.Context) error {
	slog.Info("bot running", slog.String("user", r.conn.OwnIdentity()))
	err := r.conn.Sync(ctx, r.dispatcher.Dispatch)
	if derr := r.dispatcher.Drain(r.drain); derr != nil {
		slog.Warn("shutdown with handlers still running", slog.Any("err", derr))
	}
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync loop: %w", err)
	}
	return nil
}

// logReceipt logs every message not sent by the bot itself.
func logReceipt(t Transport) HandlerFunc {
	return func(ctx context.Context, ev Event) error {
		m := ev.Message
		if m == nil || m.Sender == t.OwnIdentity() {
			return nil
		}
		telemetry.LoggerWithCorr(ctx).Debug("received a message",
			slog.String("room", m.RoomID),
			slog.String("sender", m.Sender),
			slog.String("kind", m.Kind.String()),
			slog.String("room_state", m.RoomState.String()))
		return nil
	}
}
